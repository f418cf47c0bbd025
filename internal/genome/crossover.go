package genome

import "math/rand"

// Crossover builds a child from g (the fitter parent) and other. Matching
// genes are taken from either parent with equal odds and stay disabled with
// 75% probability when either copy is disabled. Disjoint and excess genes,
// and the whole node set, come from g.
func (g *Genome) Crossover(rng *rand.Rand, other *Genome) *Genome {
	child := &Genome{
		inputs:     g.inputs,
		outputs:    g.outputs,
		layers:     g.layers,
		biasNode:   g.biasNode,
		nextNode:   g.nextNode,
		activation: g.activation,
		act:        g.act,
		nodes:      make([]Node, len(g.nodes)),
		genes:      make([]ConnectionGene, 0, len(g.genes)),
	}
	for i, n := range g.nodes {
		child.nodes[i] = n.clone()
	}

	for _, gene := range g.genes {
		match := other.GeneByInnovation(gene.Innovation)
		if match < 0 {
			child.genes = append(child.genes, gene)
			continue
		}

		theirs := other.genes[match]
		enabled := true
		if !gene.Enabled || !theirs.Enabled {
			if rng.Float64() < 0.75 {
				enabled = false
			}
		}

		inherited := gene
		if rng.Float64() >= 0.5 {
			inherited = theirs
		}
		inherited.Enabled = enabled
		child.genes = append(child.genes, inherited)
	}
	return child
}
