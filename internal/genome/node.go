package genome

// Node is one neuron in the genome arena. Its id equals its arena index.
type Node struct {
	ID    int
	Layer int

	inputSum float64
	output   float64
	outgoing []int
}

// ConnectionGene links two nodes by id. Genes are never removed, only disabled.
type ConnectionGene struct {
	From       int
	To         int
	Weight     float64
	Enabled    bool
	Innovation int
}

func (n Node) clone() Node {
	return Node{ID: n.ID, Layer: n.Layer}
}
