package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"neattrade/internal/model"
)

func sampleGenome(id string) model.GenomeRecord {
	return model.GenomeRecord{
		ID:         id,
		Inputs:     2,
		Outputs:    1,
		Layers:     2,
		BiasNodeID: 3,
		NextNodeID: 4,
		Activation: "sigmoid",
		Nodes:      []model.NodeRecord{{ID: 0}, {ID: 1}, {ID: 2, Layer: 1}, {ID: 3}},
		Genes: []model.GeneRecord{
			{From: 0, To: 2, Weight: 0.25, Enabled: true, InnovationNo: 1000},
			{From: 3, To: 2, Weight: -0.5, Enabled: false, InnovationNo: 1001},
		},
	}
}

// exerciseStore runs the same round trips against any backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, ok, err := store.GetGenome(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing genome, got ok=%v err=%v", ok, err)
	}
	genome := sampleGenome("g1")
	if err := store.SaveGenome(ctx, genome); err != nil {
		t.Fatalf("save genome: %v", err)
	}
	genome.Genes[0].Weight = 0.75
	if err := store.SaveGenome(ctx, genome); err != nil {
		t.Fatalf("overwrite genome: %v", err)
	}
	loaded, ok, err := store.GetGenome(ctx, "g1")
	if err != nil || !ok {
		t.Fatalf("get genome: ok=%v err=%v", ok, err)
	}
	if loaded.SchemaVersion != CurrentSchemaVersion || loaded.Genes[0].Weight != 0.75 || len(loaded.Nodes) != 4 {
		t.Fatalf("unexpected genome loaded: %+v", loaded)
	}

	population := model.PopulationRecord{ID: "run-1", RunID: "run-1", Generation: 3, GenomeIDs: []string{"g1"}, NextInnovation: 1002}
	if err := store.SavePopulation(ctx, population); err != nil {
		t.Fatalf("save population: %v", err)
	}
	pop, ok, err := store.GetPopulation(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get population: ok=%v err=%v", ok, err)
	}
	if pop.Generation != 3 || pop.NextInnovation != 1002 || len(pop.GenomeIDs) != 1 {
		t.Fatalf("unexpected population: %+v", pop)
	}

	runs := []model.RunRecord{
		{ID: "run-1", Pair: "BTCUSDT", CreatedAtUTC: "2024-01-01T00:00:00Z"},
		{ID: "run-2", Pair: "ETHUSDT", CreatedAtUTC: "2024-02-01T00:00:00Z"},
	}
	for _, run := range runs {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}
	listed, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "run-2" {
		t.Fatalf("expected newest run first, got %+v", listed)
	}
	if run, ok, err := store.GetRun(ctx, "run-1"); err != nil || !ok || run.Pair != "BTCUSDT" {
		t.Fatalf("get run: %+v ok=%v err=%v", run, ok, err)
	}

	if err := store.SaveFitnessHistory(ctx, "run-1", []float64{1000, 1010.5}); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history, ok, err := store.GetFitnessHistory(ctx, "run-1")
	if err != nil || !ok || len(history) != 2 || history[1] != 1010.5 {
		t.Fatalf("get history: %v ok=%v err=%v", history, ok, err)
	}

	diagnostics := []model.GenerationDiagnostics{{Generation: 1, BestFitness: 1010.5, SpeciesCount: 2}}
	if err := store.SaveGenerationDiagnostics(ctx, "run-1", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	gotDiag, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
	if err != nil || !ok || len(gotDiag) != 1 || gotDiag[0].SpeciesCount != 2 {
		t.Fatalf("get diagnostics: %+v ok=%v err=%v", gotDiag, ok, err)
	}

	species := []model.SpeciesGeneration{{Generation: 1, Species: []model.SpeciesMetrics{{ID: 1, Size: 4}}, NewSpecies: []int{1}}}
	if err := store.SaveSpeciesHistory(ctx, "run-1", species); err != nil {
		t.Fatalf("save species: %v", err)
	}
	gotSpecies, ok, err := store.GetSpeciesHistory(ctx, "run-1")
	if err != nil || !ok || len(gotSpecies) != 1 || gotSpecies[0].Species[0].Size != 4 {
		t.Fatalf("get species: %+v ok=%v err=%v", gotSpecies, ok, err)
	}

	top := []model.TopGenomeRecord{{Rank: 1, Fitness: 1010.5, Genome: sampleGenome("g1")}}
	if err := store.SaveTopGenomes(ctx, "run-1", top); err != nil {
		t.Fatalf("save top: %v", err)
	}
	gotTop, ok, err := store.GetTopGenomes(ctx, "run-1")
	if err != nil || !ok || len(gotTop) != 1 || gotTop[0].Genome.ID != "g1" {
		t.Fatalf("get top: %+v ok=%v err=%v", gotTop, ok, err)
	}
	if _, ok, err := store.GetTopGenomes(ctx, "run-9"); err != nil || ok {
		t.Fatalf("expected no top genomes for unknown run, ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveGenome(context.Background(), sampleGenome("g")); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := NewSQLStore(DriverSQLite, filepath.Join(t.TempDir(), "neattrade.db"))
	t.Cleanup(func() { _ = store.Close() })
	exerciseStore(t, store)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("NEATTRADE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NEATTRADE_TEST_POSTGRES_DSN not set")
	}
	store := NewSQLStore(DriverPostgres, dsn)
	t.Cleanup(func() { _ = store.Close() })
	exerciseStore(t, store)
}

func TestSQLStoreRequiresInit(t *testing.T) {
	store := NewSQLStore(DriverSQLite, filepath.Join(t.TempDir(), "x.db"))
	if _, _, err := store.GetGenome(context.Background(), "g"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestNewStore(t *testing.T) {
	for _, kind := range []string{"", "memory", DriverSQLite, DriverPostgres} {
		store, err := NewStore(kind, "dsn")
		if err != nil || store == nil {
			t.Fatalf("kind %q: store=%v err=%v", kind, store, err)
		}
	}
	if _, err := NewStore("unknown", ""); err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestDecodeGenomeRejectsVersionMismatch(t *testing.T) {
	_, err := DecodeGenome([]byte(`{"schema_version":2,"codec_version":1,"id":"g"}`))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	data, err := EncodeGenome(sampleGenome("g"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeGenome(data)
	if err != nil || decoded.ID != "g" || len(decoded.Genes) != 2 {
		t.Fatalf("decode: %+v %v", decoded, err)
	}
}

func TestGenomeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "best_genome.json")
	if err := SaveGenomeFile(path, sampleGenome("best")); err != nil {
		t.Fatalf("save: %v", err)
	}
	genome, ok := LoadGenomeFile(path)
	if !ok || genome.ID != "best" || genome.CodecVersion != CurrentCodecVersion {
		t.Fatalf("load: %+v ok=%v", genome, ok)
	}

	if _, ok := LoadGenomeFile(filepath.Join(dir, "missing.json")); ok {
		t.Fatal("missing file must report no saved genome")
	}
	broken := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(broken, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := LoadGenomeFile(broken); ok {
		t.Fatal("malformed file must report no saved genome")
	}
}
