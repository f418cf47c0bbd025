package genome

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"neattrade/internal/nn"
)

var (
	ErrInputSize     = errors.New("input size mismatch")
	ErrInvalidGenome = errors.New("invalid genome")
)

// Genome is a layered feed-forward network plus NEAT bookkeeping. Layer 0
// holds the inputs and the bias node; the output layer is always the last one.
type Genome struct {
	ID string

	inputs     int
	outputs    int
	layers     int
	biasNode   int
	nextNode   int
	activation string
	act        nn.ActivationFunc

	nodes []Node
	genes []ConnectionGene

	// network caches node ids in evaluation order; nil after structural change.
	network []int
}

// New builds an unconnected genome with inputs + outputs + one bias node.
func New(inputs, outputs int) (*Genome, error) {
	if inputs <= 0 {
		return nil, fmt.Errorf("%w: inputs must be > 0", ErrInvalidGenome)
	}
	if outputs <= 0 {
		return nil, fmt.Errorf("%w: outputs must be > 0", ErrInvalidGenome)
	}

	g := &Genome{
		inputs:   inputs,
		outputs:  outputs,
		layers:   2,
		biasNode: inputs + outputs,
		nextNode: inputs + outputs + 1,
	}
	if err := g.SetActivation(nn.DefaultActivation); err != nil {
		return nil, err
	}

	g.nodes = make([]Node, 0, inputs+outputs+1)
	for i := 0; i < inputs; i++ {
		g.nodes = append(g.nodes, Node{ID: i, Layer: 0})
	}
	for i := 0; i < outputs; i++ {
		g.nodes = append(g.nodes, Node{ID: inputs + i, Layer: 1})
	}
	g.nodes = append(g.nodes, Node{ID: g.biasNode, Layer: 0})
	return g, nil
}

// NewFullyConnected is New followed by FullyConnect.
func NewFullyConnected(inputs, outputs int, rng *rand.Rand, history *InnovationHistory) (*Genome, error) {
	g, err := New(inputs, outputs)
	if err != nil {
		return nil, err
	}
	g.FullyConnect(rng, history)
	return g, nil
}

// SetActivation selects the hidden/output activation by registry name.
func (g *Genome) SetActivation(name string) error {
	fn, err := nn.GetActivation(name)
	if err != nil {
		return err
	}
	if name == "" {
		name = nn.DefaultActivation
	}
	g.activation = name
	g.act = fn
	return nil
}

// FullyConnect links every input and the bias node to every output with a
// uniform weight in [-1, 1].
func (g *Genome) FullyConnect(rng *rand.Rand, history *InnovationHistory) {
	sources := make([]int, 0, g.inputs+1)
	for i := 0; i < g.inputs; i++ {
		sources = append(sources, i)
	}
	sources = append(sources, g.biasNode)

	for _, from := range sources {
		for j := 0; j < g.outputs; j++ {
			to := g.inputs + j
			if g.connected(from, to) {
				continue
			}
			g.addGene(history, from, to, rng.Float64()*2-1)
		}
	}
	g.invalidate()
}

// FeedForward evaluates the network on one input vector. Input sums are reset
// afterwards so consecutive calls are independent.
func (g *Genome) FeedForward(inputs []float64) ([]float64, error) {
	if len(inputs) != g.inputs {
		return nil, fmt.Errorf("%w: got=%d want=%d", ErrInputSize, len(inputs), g.inputs)
	}
	if g.network == nil {
		g.generateNetwork()
	}

	for i, v := range inputs {
		g.nodes[i].output = v
	}
	g.nodes[g.biasNode].output = 1

	for _, id := range g.network {
		node := &g.nodes[id]
		if node.Layer != 0 {
			node.output = g.act(node.inputSum)
		}
		for _, gi := range node.outgoing {
			gene := g.genes[gi]
			if !gene.Enabled {
				continue
			}
			g.nodes[gene.To].inputSum += gene.Weight * node.output
		}
	}

	out := make([]float64, g.outputs)
	for j := range out {
		out[j] = g.nodes[g.inputs+j].output
	}
	for i := range g.nodes {
		g.nodes[i].inputSum = 0
	}
	return out, nil
}

// Clone returns a deep copy sharing nothing with g.
func (g *Genome) Clone() *Genome {
	out := &Genome{
		ID:         g.ID,
		inputs:     g.inputs,
		outputs:    g.outputs,
		layers:     g.layers,
		biasNode:   g.biasNode,
		nextNode:   g.nextNode,
		activation: g.activation,
		act:        g.act,
		nodes:      make([]Node, len(g.nodes)),
		genes:      append([]ConnectionGene(nil), g.genes...),
	}
	for i, n := range g.nodes {
		out.nodes[i] = n.clone()
	}
	return out
}

func (g *Genome) Inputs() int        { return g.inputs }
func (g *Genome) Outputs() int       { return g.outputs }
func (g *Genome) Layers() int        { return g.layers }
func (g *Genome) BiasNode() int      { return g.biasNode }
func (g *Genome) NextNode() int      { return g.nextNode }
func (g *Genome) Activation() string { return g.activation }
func (g *Genome) NodeCount() int     { return len(g.nodes) }
func (g *Genome) GeneCount() int     { return len(g.genes) }

// Genes returns a copy of the gene list in insertion order.
func (g *Genome) Genes() []ConnectionGene {
	return append([]ConnectionGene(nil), g.genes...)
}

// Nodes returns id/layer pairs for every node.
func (g *Genome) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.clone()
	}
	return out
}

// EnabledGenes counts genes that take part in evaluation.
func (g *Genome) EnabledGenes() int {
	count := 0
	for _, gene := range g.genes {
		if gene.Enabled {
			count++
		}
	}
	return count
}

// GeneByInnovation returns the index of the gene carrying innovation, or -1.
func (g *Genome) GeneByInnovation(innovation int) int {
	for i, gene := range g.genes {
		if gene.Innovation == innovation {
			return i
		}
	}
	return -1
}

func (g *Genome) addGene(history *InnovationHistory, from, to int, weight float64) {
	innovation := history.Innovation(g, from, to)
	g.genes = append(g.genes, ConnectionGene{
		From:       from,
		To:         to,
		Weight:     weight,
		Enabled:    true,
		Innovation: innovation,
	})
}

func (g *Genome) connected(a, b int) bool {
	for _, gene := range g.genes {
		if (gene.From == a && gene.To == b) || (gene.From == b && gene.To == a) {
			return true
		}
	}
	return false
}

func (g *Genome) invalidate() {
	g.network = nil
}

func (g *Genome) connectNodes() {
	for i := range g.nodes {
		g.nodes[i].outgoing = g.nodes[i].outgoing[:0]
	}
	for gi, gene := range g.genes {
		g.nodes[gene.From].outgoing = append(g.nodes[gene.From].outgoing, gi)
	}
}

func (g *Genome) generateNetwork() {
	g.connectNodes()
	order := make([]int, len(g.nodes))
	for i := range g.nodes {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return g.nodes[order[i]].Layer < g.nodes[order[j]].Layer
	})
	g.network = order
}
