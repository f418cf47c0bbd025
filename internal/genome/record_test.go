package genome

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"neattrade/internal/model"
)

func TestRecordRoundTripPreservesOutputs(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	history := NewInnovationHistory(0)
	g := newTestGenome(t, rng, history)
	g.ID = "g-1"
	g.AddNode(rng, history)
	g.AddConnection(rng, history)

	restored, err := FromRecord(g.Record())
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if restored.ID != "g-1" || restored.Activation() != g.Activation() {
		t.Fatalf("unexpected restored metadata: %q %q", restored.ID, restored.Activation())
	}

	input := []float64{0.3, -0.7, 0.9}
	want, _ := g.FeedForward(input)
	got, err := restored.FeedForward(input)
	if err != nil {
		t.Fatalf("feed forward restored: %v", err)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("output %d mismatch: %f vs %f", i, want[i], got[i])
		}
	}
}

func TestFromRecordRejectsBackwardGene(t *testing.T) {
	g, _ := New(2, 1)
	rec := g.Record()
	rec.Genes = []model.GeneRecord{{From: 2, To: 0, Weight: 0.5, Enabled: true, InnovationNo: 1000}}
	if _, err := FromRecord(rec); !errors.Is(err, ErrInvalidGenome) {
		t.Fatalf("expected ErrInvalidGenome, got %v", err)
	}
}

func TestFromRecordRejectsNonFiniteWeight(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	g := newTestGenome(t, rng, NewInnovationHistory(0))
	rec := g.Record()
	rec.Genes[0].Weight = math.NaN()
	if _, err := FromRecord(rec); !errors.Is(err, ErrInvalidGenome) {
		t.Fatalf("expected ErrInvalidGenome, got %v", err)
	}
}

func TestFromRecordRejectsMisplacedNodeID(t *testing.T) {
	g, _ := New(2, 1)
	rec := g.Record()
	rec.Nodes[0].ID = 5
	if _, err := FromRecord(rec); !errors.Is(err, ErrInvalidGenome) {
		t.Fatalf("expected ErrInvalidGenome, got %v", err)
	}
}

func TestObserveAdvancesHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	g := newTestGenome(t, rng, NewInnovationHistory(5000))
	fresh := NewInnovationHistory(0)
	fresh.Observe(g)
	if fresh.Next() <= 5000 {
		t.Fatalf("expected next innovation past loaded genes, got %d", fresh.Next())
	}
}
