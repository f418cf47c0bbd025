package evo

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"neattrade/internal/genome"
	"neattrade/internal/model"
)

// protectedFromStaleness species at the head of the ranking are never
// removed for staleness.
const protectedFromStaleness = 2

// NaturalSelection turns the scored members of the current generation into
// the next one. The population size is unchanged.
func (p *Population) NaturalSelection(scored []Member) (model.GenerationDiagnostics, model.SpeciesGeneration) {
	generation := p.generation
	if len(scored) == 0 {
		return model.GenerationDiagnostics{Generation: generation}, model.SpeciesGeneration{Generation: generation}
	}
	members := make([]*Member, len(scored))
	for i := range scored {
		m := scored[i]
		members[i] = &m
	}
	diag := summarizeFitness(members, generation)

	p.speciate(members)
	for _, s := range p.species {
		s.rank()
	}
	sort.SliceStable(p.species, func(i, j int) bool {
		return p.species[i].members[0].Fitness > p.species[j].members[0].Fitness
	})
	history := p.snapshotSpecies(generation)
	diag.SpeciesCount = len(p.species)

	diag.Extinct = p.massExtinction()
	for _, s := range p.species {
		s.cull()
		s.share()
	}
	p.recordBest()
	diag.StaleRemoved = p.removeStale()
	diag.WeakRemoved = p.removeWeak()

	p.genomes = p.breed()
	p.generation++

	if best, ok := p.Best(); ok {
		diag.BestGenomeSize = best.Genome.GeneCount()
	}
	history.ExtinctSpecies = p.settleSpecies(history)

	p.cfg.logger().Debug("natural selection",
		zap.Int("generation", generation),
		zap.Int("species", diag.SpeciesCount),
		zap.Int("stale_removed", diag.StaleRemoved),
		zap.Int("weak_removed", diag.WeakRemoved),
		zap.Int("extinct", diag.Extinct),
	)
	return diag, history
}

func summarizeFitness(members []*Member, generation int) model.GenerationDiagnostics {
	diag := model.GenerationDiagnostics{Generation: generation}
	if len(members) == 0 {
		return diag
	}
	diag.BestFitness = members[0].Fitness
	diag.MinFitness = members[0].Fitness
	total := 0.0
	for _, m := range members {
		total += m.Fitness
		diag.BestFitness = math.Max(diag.BestFitness, m.Fitness)
		diag.MinFitness = math.Min(diag.MinFitness, m.Fitness)
	}
	diag.MeanFitness = total / float64(len(members))
	return diag
}

// speciate assigns each member to the first species whose representative is
// within the compatibility threshold. Species left empty are dropped.
func (p *Population) speciate(members []*Member) {
	for _, s := range p.species {
		s.members = s.members[:0]
	}
	for _, m := range members {
		placed := false
		for _, s := range p.species {
			if s.compatible(p.cfg, m.Genome) {
				s.members = append(s.members, m)
				placed = true
				break
			}
		}
		if !placed {
			p.nextSpeciesID++
			p.species = append(p.species, newSpecies(p.nextSpeciesID, m))
		}
	}
	kept := p.species[:0]
	for _, s := range p.species {
		if len(s.members) > 0 {
			kept = append(kept, s)
		}
	}
	p.species = kept
}

func (p *Population) snapshotSpecies(generation int) model.SpeciesGeneration {
	out := model.SpeciesGeneration{
		Generation: generation,
		Species:    make([]model.SpeciesMetrics, 0, len(p.species)),
	}
	for _, s := range p.species {
		out.Species = append(out.Species, s.metrics())
		if _, ok := p.survivors[s.ID]; !ok {
			out.NewSpecies = append(out.NewSpecies, s.ID)
		}
	}
	sort.Ints(out.NewSpecies)
	return out
}

// settleSpecies records the surviving species and returns every species that
// existed this generation, or survived the last one, but is gone now.
func (p *Population) settleSpecies(history model.SpeciesGeneration) []int {
	current := make(map[int]struct{}, len(p.species))
	for _, s := range p.species {
		current[s.ID] = struct{}{}
	}
	seen := make(map[int]struct{}, len(p.survivors)+len(history.Species))
	for id := range p.survivors {
		seen[id] = struct{}{}
	}
	for _, m := range history.Species {
		seen[m.ID] = struct{}{}
	}
	var extinct []int
	for id := range seen {
		if _, ok := current[id]; !ok {
			extinct = append(extinct, id)
		}
	}
	sort.Ints(extinct)
	p.survivors = current
	return extinct
}

// massExtinction keeps only the best MaxSpecies species.
func (p *Population) massExtinction() int {
	if p.cfg.MaxSpecies <= 0 || len(p.species) <= p.cfg.MaxSpecies {
		return 0
	}
	removed := len(p.species) - p.cfg.MaxSpecies
	p.species = p.species[:p.cfg.MaxSpecies]
	return removed
}

func (p *Population) recordBest() {
	if len(p.species) == 0 || len(p.species[0].members) == 0 {
		return
	}
	top := p.species[0].members[0]
	p.bestHistory = append(p.bestHistory, top.Fitness)
	if p.best != nil && top.Fitness <= p.best.Fitness {
		return
	}
	best := *top
	best.Genome = top.Genome.Clone()
	p.best = &best
}

func (p *Population) removeStale() int {
	kept := p.species[:0]
	removed := 0
	for i, s := range p.species {
		if i >= protectedFromStaleness && s.staleness >= p.cfg.StaleLimit {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	p.species = kept
	return removed
}

// removeWeak drops species whose share of the average fitness would not earn
// a single child. The best species is always kept.
func (p *Population) removeWeak() int {
	sum := p.averageSum()
	if sum <= 0 {
		return 0
	}
	size := float64(p.cfg.PopulationSize)
	kept := p.species[:0]
	removed := 0
	for i, s := range p.species {
		if i > 0 && math.Max(0, s.averageFitness)/sum*size < 1 {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	p.species = kept
	return removed
}

func (p *Population) averageSum() float64 {
	sum := 0.0
	for _, s := range p.species {
		sum += math.Max(0, s.averageFitness)
	}
	return sum
}

// breed allocates children proportionally to species average fitness. Each
// species contributes its champion unmodified; rounding shortfall is filled
// from the best species.
func (p *Population) breed() []*genome.Genome {
	size := p.cfg.PopulationSize
	children := make([]*genome.Genome, 0, size)
	sum := p.averageSum()
	for _, s := range p.species {
		if len(children) >= size {
			break
		}
		children = append(children, s.champion.Clone())

		share := 1.0 / float64(len(p.species))
		if sum > 0 {
			share = math.Max(0, s.averageFitness) / sum
		}
		n := int(math.Floor(share*float64(size))) - 1
		for i := 0; i < n && len(children) < size; i++ {
			children = append(children, s.reproduce(p.rng, p.cfg, p.history))
		}
	}
	for len(children) < size {
		children = append(children, p.species[0].reproduce(p.rng, p.cfg, p.history))
	}
	return children
}
