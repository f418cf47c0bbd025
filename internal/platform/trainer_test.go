package platform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"neattrade/internal/agent"
	"neattrade/internal/evo"
	"neattrade/internal/genome"
	"neattrade/internal/marketdata"
	"neattrade/internal/model"
	"neattrade/internal/stats"
	"neattrade/internal/storage"
	"neattrade/internal/strategy"
)

func candles(t *testing.T, count int) []model.Candle {
	t.Helper()
	syn := marketdata.DefaultSyntheticConfig()
	syn.Shape = marketdata.ShapeUptrend
	syn.Count = count
	out, err := marketdata.Synthetic(syn)
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	return out
}

func runConfig(t *testing.T, generations int) RunConfig {
	t.Helper()
	agentCfg := agent.DefaultConfig()
	agentCfg.WindowSize = 2
	agentCfg.Exit = strategy.FixedPercent{TakeProfit: 0.01, StopLoss: 0.02}

	evoCfg := evo.DefaultConfig()
	evoCfg.PopulationSize = 12
	evoCfg.Seed = 3
	evoCfg.Workers = 2

	return RunConfig{
		Generations: generations,
		Evolution:   evoCfg,
		Agent:       agentCfg,
		Candles:     candles(t, 40),
		Description: stats.RunConfig{DataSource: "synthetic:uptrend"},
	}
}

func newTrainer(t *testing.T, cfg Config) *Trainer {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	}
	tr := NewTrainer(cfg)
	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return tr
}

func TestRunRequiresInit(t *testing.T) {
	tr := NewTrainer(Config{})
	if _, err := tr.Run(context.Background(), runConfig(t, 1)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRunRejectsZeroGenerations(t *testing.T) {
	tr := newTrainer(t, Config{})
	if _, err := tr.Run(context.Background(), runConfig(t, 0)); !errors.Is(err, ErrInvalidRun) {
		t.Fatalf("expected ErrInvalidRun, got %v", err)
	}
}

func TestRunPersistsHistory(t *testing.T) {
	ctx := context.Background()
	tr := newTrainer(t, Config{Store: storage.NewMemoryStore(), TopCount: 3})

	cfg := runConfig(t, 3)
	cfg.RunID = "run-a"
	result, err := tr.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.BestByGeneration) != 3 || len(result.GenerationDiagnostics) != 3 || len(result.SpeciesHistory) != 3 {
		t.Fatalf("unexpected history lengths %d %d %d", len(result.BestByGeneration), len(result.GenerationDiagnostics), len(result.SpeciesHistory))
	}
	if result.Generation != 4 {
		t.Fatalf("expected population at generation 4, got %d", result.Generation)
	}
	if len(result.TopGenomes) != 3 || result.TopGenomes[0].Rank != 1 {
		t.Fatalf("unexpected top genomes %+v", result.TopGenomes)
	}
	for i := 1; i < len(result.TopGenomes); i++ {
		if result.TopGenomes[i].Fitness > result.TopGenomes[i-1].Fitness {
			t.Fatalf("top genomes not ranked: %+v", result.TopGenomes)
		}
	}
	if result.BestGenome.ID == "" {
		t.Fatal("expected best genome to carry an id")
	}

	store := tr.Store()
	best, ok, err := store.GetFitnessHistory(ctx, "run-a")
	if err != nil || !ok || len(best) != 3 {
		t.Fatalf("fitness history: %v ok=%v err=%v", best, ok, err)
	}
	snapshot, ok, err := store.GetPopulation(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("population snapshot: ok=%v err=%v", ok, err)
	}
	if snapshot.Generation != 4 || len(snapshot.GenomeIDs) != 12 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if len(snapshot.Innovations) == 0 || snapshot.NextInnovation <= snapshot.Innovations[len(snapshot.Innovations)-1].Innovation {
		t.Fatalf("snapshot innovation ledger not persisted: next=%d entries=%d", snapshot.NextInnovation, len(snapshot.Innovations))
	}
	unique := map[string]struct{}{}
	for _, id := range snapshot.GenomeIDs {
		unique[id] = struct{}{}
	}
	if len(unique) != len(snapshot.GenomeIDs) {
		t.Fatalf("snapshot repeats genome ids: %v", snapshot.GenomeIDs)
	}
	for _, id := range snapshot.GenomeIDs {
		if _, ok, err := store.GetGenome(ctx, id); err != nil || !ok {
			t.Fatalf("snapshot genome %s missing: ok=%v err=%v", id, ok, err)
		}
	}
	if _, ok, err := store.GetGenome(ctx, result.BestGenome.ID); err != nil || !ok {
		t.Fatalf("best genome missing: ok=%v err=%v", ok, err)
	}
	run, ok, err := store.GetRun(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("run record: ok=%v err=%v", ok, err)
	}
	if run.Generations != 3 || run.FinalBestFitness != result.BestFitness || run.CreatedAtUTC != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected run record %+v", run)
	}
}

func TestLabelGenomesReplacesRepeatedIDs(t *testing.T) {
	champion, err := genome.New(2, 1)
	if err != nil {
		t.Fatalf("new genome: %v", err)
	}
	champion.ID = "champion"
	again := champion.Clone()
	child, _ := genome.New(2, 1)
	genomes := []*genome.Genome{champion, again, child}

	labelGenomes(genomes)
	if champion.ID != "champion" {
		t.Fatalf("first holder of an id must keep it, got %q", champion.ID)
	}
	seen := map[string]bool{}
	for _, g := range genomes {
		if g.ID == "" || seen[g.ID] {
			t.Fatalf("id %q empty or repeated", g.ID)
		}
		seen[g.ID] = true
	}
}

func TestRunAssignsRunID(t *testing.T) {
	tr := newTrainer(t, Config{})
	result, err := tr.Run(context.Background(), runConfig(t, 1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RunID == "" {
		t.Fatal("expected generated run id")
	}
}

func TestBestFitnessNeverDecreases(t *testing.T) {
	tr := newTrainer(t, Config{})
	result, err := tr.Run(context.Background(), runConfig(t, 4))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, f := range result.BestByGeneration {
		if f > result.BestFitness {
			t.Fatalf("generation %d best %f exceeds run best %f", i, f, result.BestFitness)
		}
	}
}

func TestContinueAppendsHistory(t *testing.T) {
	ctx := context.Background()
	tr := newTrainer(t, Config{})

	cfg := runConfig(t, 2)
	cfg.RunID = "run-c"
	first, err := tr.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	cfg.Generations = 2
	second, err := tr.Continue(ctx, cfg)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if len(second.BestByGeneration) != 4 {
		t.Fatalf("expected 4 generations of history, got %d", len(second.BestByGeneration))
	}
	if second.Generation != first.Generation+2 {
		t.Fatalf("expected generation %d, got %d", first.Generation+2, second.Generation)
	}
	if second.BestFitness < first.BestFitness {
		t.Fatalf("best fitness regressed from %f to %f", first.BestFitness, second.BestFitness)
	}
	if got := second.GenerationDiagnostics[2].Generation; got != first.Generation {
		t.Fatalf("continued diagnostics start at generation %d, want %d", got, first.Generation)
	}
}

func TestContinueMissingRun(t *testing.T) {
	tr := newTrainer(t, Config{})
	cfg := runConfig(t, 1)
	cfg.RunID = "missing"
	if _, err := tr.Continue(context.Background(), cfg); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	cfg.RunID = ""
	if _, err := tr.Continue(context.Background(), cfg); !errors.Is(err, ErrInvalidRun) {
		t.Fatalf("expected ErrInvalidRun, got %v", err)
	}
}

func TestRunWithValidationAndArtifacts(t *testing.T) {
	dir := t.TempDir()
	tr := newTrainer(t, Config{ArtifactsDir: dir})

	cfg := runConfig(t, 2)
	cfg.RunID = "run-v"
	cfg.ValidationCandles = candles(t, 20)
	result, err := tr.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Validation == nil {
		t.Fatal("expected validation report")
	}
	if result.Validation.GenomeID != result.BestGenome.ID || result.Validation.Candles != 20 {
		t.Fatalf("unexpected validation %+v", result.Validation)
	}
	if result.RunDir != filepath.Join(dir, "run-v") {
		t.Fatalf("unexpected run dir %q", result.RunDir)
	}
	for _, file := range []string{"config.json", "fitness_history.json", "validation.json", "agent_report.csv"} {
		if _, err := os.Stat(filepath.Join(result.RunDir, file)); err != nil {
			t.Fatalf("expected %s: %v", file, err)
		}
	}
	desc, ok, err := stats.ReadRunConfig(dir, "run-v")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%v err=%v", ok, err)
	}
	if desc.DataSource != "synthetic:uptrend" || desc.Exit != "fixed_percent" || desc.Risk != "percent_of_balance" || desc.ValidationCandles != 20 {
		t.Fatalf("unexpected run config %+v", desc)
	}
	rows, err := stats.ReadAgentReportCSV(filepath.Join(result.RunDir, "agent_report.csv"))
	if err != nil || len(rows) != 12 {
		t.Fatalf("agent report: %d rows err=%v", len(rows), err)
	}
	index, err := stats.ListRunIndex(dir)
	if err != nil || len(index) != 1 || index[0].RunID != "run-v" {
		t.Fatalf("run index: %+v err=%v", index, err)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	tr := newTrainer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Run(ctx, runConfig(t, 2)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
