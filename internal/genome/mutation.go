package genome

import (
	"math/rand"

	"neattrade/internal/nn"
)

// MutationRates controls Mutate. Probabilities are per call except
// WeightReplace, which applies per perturbed gene.
type MutationRates struct {
	Weight        float64
	WeightReplace float64
	WeightSigma   float64
	AddConnection float64
	AddNode       float64
}

func DefaultMutationRates() MutationRates {
	return MutationRates{
		Weight:        0.8,
		WeightReplace: 0.1,
		WeightSigma:   1.0 / 50.0,
		AddConnection: 0.05,
		AddNode:       0.01,
	}
}

// Mutate applies one round of mutation with the default rates.
func (g *Genome) Mutate(rng *rand.Rand, history *InnovationHistory) {
	g.MutateWith(rng, history, DefaultMutationRates())
}

func (g *Genome) MutateWith(rng *rand.Rand, history *InnovationHistory, rates MutationRates) {
	if len(g.genes) == 0 {
		g.AddConnection(rng, history)
	}
	if rng.Float64() < rates.Weight {
		for i := range g.genes {
			if !g.genes[i].Enabled {
				continue
			}
			g.genes[i].Weight = mutateWeight(rng, g.genes[i].Weight, rates)
		}
	}
	if rng.Float64() < rates.AddConnection {
		g.AddConnection(rng, history)
	}
	if rng.Float64() < rates.AddNode {
		g.AddNode(rng, history)
	}
}

func mutateWeight(rng *rand.Rand, weight float64, rates MutationRates) float64 {
	if rng.Float64() < rates.WeightReplace {
		return rng.Float64()*2 - 1
	}
	return nn.Sat(weight+rng.NormFloat64()*rates.WeightSigma, 1, -1)
}

// FullyConnected reports whether every legal forward link already exists.
func (g *Genome) FullyConnected() bool {
	perLayer := make([]int, g.layers)
	for _, n := range g.nodes {
		perLayer[n.Layer]++
	}
	maxConnections := 0
	for i := 0; i < g.layers-1; i++ {
		inFront := 0
		for j := i + 1; j < g.layers; j++ {
			inFront += perLayer[j]
		}
		maxConnections += perLayer[i] * inFront
	}
	return maxConnections <= len(g.genes)
}

// AddConnection links two unconnected nodes in different layers, lower layer
// first. It reports false when the genome is already fully connected.
func (g *Genome) AddConnection(rng *rand.Rand, history *InnovationHistory) bool {
	if g.FullyConnected() {
		return false
	}

	type pair struct{ from, to int }
	candidates := make([]pair, 0)
	for a := range g.nodes {
		for b := range g.nodes {
			if g.nodes[a].Layer >= g.nodes[b].Layer {
				continue
			}
			if g.connected(a, b) {
				continue
			}
			candidates = append(candidates, pair{from: a, to: b})
		}
	}
	if len(candidates) == 0 {
		return false
	}

	chosen := candidates[rng.Intn(len(candidates))]
	g.addGene(history, chosen.from, chosen.to, rng.Float64()*2-1)
	g.invalidate()
	return true
}

// AddNode splits an enabled connection with a new hidden node. The incoming
// link gets weight 1, the outgoing link keeps the old weight and the bias is
// attached with weight 0 unless the split link already starts at the bias. When the new node lands on its target's layer, every
// node at or above that layer moves up one.
func (g *Genome) AddNode(rng *rand.Rand, history *InnovationHistory) bool {
	candidates := make([]int, 0, len(g.genes))
	for i, gene := range g.genes {
		if gene.Enabled && gene.From != g.biasNode {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		for i, gene := range g.genes {
			if gene.Enabled {
				candidates = append(candidates, i)
			}
		}
	}
	if len(candidates) == 0 {
		return g.AddConnection(rng, history)
	}

	split := candidates[rng.Intn(len(candidates))]
	g.genes[split].Enabled = false
	old := g.genes[split]

	id := g.nextNode
	g.nextNode++
	layer := g.nodes[old.From].Layer + 1
	g.nodes = append(g.nodes, Node{ID: id, Layer: layer})

	g.addGene(history, old.From, id, 1)
	g.addGene(history, id, old.To, old.Weight)
	if old.From != g.biasNode {
		g.addGene(history, g.biasNode, id, 0)
	}

	if layer == g.nodes[old.To].Layer {
		for i := range g.nodes {
			if i == id {
				continue
			}
			if g.nodes[i].Layer >= layer {
				g.nodes[i].Layer++
			}
		}
		g.layers++
	}
	g.invalidate()
	return true
}
