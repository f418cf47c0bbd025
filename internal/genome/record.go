package genome

import (
	"fmt"
	"math"

	"neattrade/internal/model"
)

// Record converts g into its portable form.
func (g *Genome) Record() model.GenomeRecord {
	rec := model.GenomeRecord{
		ID:         g.ID,
		Inputs:     g.inputs,
		Outputs:    g.outputs,
		Layers:     g.layers,
		BiasNodeID: g.biasNode,
		NextNodeID: g.nextNode,
		Activation: g.activation,
		Nodes:      make([]model.NodeRecord, len(g.nodes)),
		Genes:      make([]model.GeneRecord, len(g.genes)),
	}
	for i, n := range g.nodes {
		rec.Nodes[i] = model.NodeRecord{ID: n.ID, Layer: n.Layer}
	}
	for i, gene := range g.genes {
		rec.Genes[i] = model.GeneRecord{
			From:         gene.From,
			To:           gene.To,
			Weight:       gene.Weight,
			Enabled:      gene.Enabled,
			InnovationNo: gene.Innovation,
		}
	}
	return rec
}

// FromRecord rebuilds a genome and validates its structure.
func FromRecord(rec model.GenomeRecord) (*Genome, error) {
	g := &Genome{
		ID:       rec.ID,
		inputs:   rec.Inputs,
		outputs:  rec.Outputs,
		layers:   rec.Layers,
		biasNode: rec.BiasNodeID,
		nextNode: rec.NextNodeID,
		nodes:    make([]Node, len(rec.Nodes)),
		genes:    make([]ConnectionGene, len(rec.Genes)),
	}
	if err := g.SetActivation(rec.Activation); err != nil {
		return nil, err
	}
	for i, n := range rec.Nodes {
		g.nodes[i] = Node{ID: n.ID, Layer: n.Layer}
	}
	for i, gene := range rec.Genes {
		g.genes[i] = ConnectionGene{
			From:       gene.From,
			To:         gene.To,
			Weight:     gene.Weight,
			Enabled:    gene.Enabled,
			Innovation: gene.InnovationNo,
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the structural invariants: node ids match their index,
// inputs and bias sit on layer 0, outputs on the last layer and every gene
// points strictly forward between existing nodes.
func (g *Genome) Validate() error {
	if g.inputs <= 0 || g.outputs <= 0 {
		return fmt.Errorf("%w: inputs=%d outputs=%d", ErrInvalidGenome, g.inputs, g.outputs)
	}
	if g.layers < 2 {
		return fmt.Errorf("%w: layers=%d", ErrInvalidGenome, g.layers)
	}
	if len(g.nodes) < g.inputs+g.outputs+1 {
		return fmt.Errorf("%w: node count %d too small", ErrInvalidGenome, len(g.nodes))
	}
	if g.biasNode != g.inputs+g.outputs {
		return fmt.Errorf("%w: bias node %d", ErrInvalidGenome, g.biasNode)
	}
	if g.nextNode != len(g.nodes) {
		return fmt.Errorf("%w: next node %d with %d nodes", ErrInvalidGenome, g.nextNode, len(g.nodes))
	}

	for i, n := range g.nodes {
		if n.ID != i {
			return fmt.Errorf("%w: node at index %d has id %d", ErrInvalidGenome, i, n.ID)
		}
		if n.Layer < 0 || n.Layer >= g.layers {
			return fmt.Errorf("%w: node %d layer %d out of range", ErrInvalidGenome, i, n.Layer)
		}
		switch {
		case i < g.inputs || i == g.biasNode:
			if n.Layer != 0 {
				return fmt.Errorf("%w: input node %d on layer %d", ErrInvalidGenome, i, n.Layer)
			}
		case i < g.inputs+g.outputs:
			if n.Layer != g.layers-1 {
				return fmt.Errorf("%w: output node %d on layer %d", ErrInvalidGenome, i, n.Layer)
			}
		default:
			if n.Layer == 0 || n.Layer == g.layers-1 {
				return fmt.Errorf("%w: hidden node %d on layer %d", ErrInvalidGenome, i, n.Layer)
			}
		}
	}

	seen := make(map[int]struct{}, len(g.genes))
	for _, gene := range g.genes {
		if gene.From < 0 || gene.From >= len(g.nodes) || gene.To < 0 || gene.To >= len(g.nodes) {
			return fmt.Errorf("%w: gene %d->%d references unknown node", ErrInvalidGenome, gene.From, gene.To)
		}
		if g.nodes[gene.From].Layer >= g.nodes[gene.To].Layer {
			return fmt.Errorf("%w: gene %d->%d is not feed-forward", ErrInvalidGenome, gene.From, gene.To)
		}
		if math.IsNaN(gene.Weight) || math.IsInf(gene.Weight, 0) {
			return fmt.Errorf("%w: gene %d->%d has non-finite weight", ErrInvalidGenome, gene.From, gene.To)
		}
		if _, ok := seen[gene.Innovation]; ok {
			return fmt.Errorf("%w: duplicate innovation %d", ErrInvalidGenome, gene.Innovation)
		}
		seen[gene.Innovation] = struct{}{}
	}
	return nil
}
