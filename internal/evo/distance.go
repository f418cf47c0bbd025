package evo

import (
	"math"

	"neattrade/internal/genome"
)

const (
	// largeGenomeOffset keeps small genomes from being normalized down.
	largeGenomeOffset = 20
	noMatchWeightDiff = 100
)

// Distance is the compatibility distance of a against representative r:
// excess·disjoint/max(1, |a.genes|-20) + weight·avgWeightDiff.
func Distance(a, r *genome.Genome, excessCoeff, weightCoeff float64) float64 {
	ag, rg := a.Genes(), r.Genes()
	if len(ag) == 0 && len(rg) == 0 {
		return 0
	}

	byInnovation := make(map[int]float64, len(rg))
	for _, gene := range rg {
		byInnovation[gene.Innovation] = gene.Weight
	}
	matching := 0
	weightDiff := 0.0
	for _, gene := range ag {
		w, ok := byInnovation[gene.Innovation]
		if !ok {
			continue
		}
		matching++
		weightDiff += math.Abs(gene.Weight - w)
	}
	disjoint := len(ag) + len(rg) - 2*matching

	avgWeightDiff := float64(noMatchWeightDiff)
	if matching > 0 {
		avgWeightDiff = weightDiff / float64(matching)
	}
	normalizer := math.Max(1, float64(len(ag)-largeGenomeOffset))
	return excessCoeff*float64(disjoint)/normalizer + weightCoeff*avgWeightDiff
}

// Distance applies the configured coefficients.
func (c Config) Distance(a, r *genome.Genome) float64 {
	return Distance(a, r, c.ExcessCoefficient, c.WeightDiffCoefficient)
}
