package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"neattrade/internal/agent"
	"neattrade/internal/evo"
	"neattrade/internal/genome"
	"neattrade/internal/model"
	"neattrade/internal/stats"
	"neattrade/internal/storage"
)

var (
	ErrNotInitialized = errors.New("trainer is not initialized")
	ErrRunNotFound    = errors.New("run not found")
	ErrInvalidRun     = errors.New("invalid run config")
)

const defaultTopCount = 5

type Config struct {
	Store  storage.Store
	Logger *zap.Logger
	// ArtifactsDir receives per-run JSON/CSV artifacts and the run index.
	// Empty disables artifact files.
	ArtifactsDir string
	TopCount     int
	Now          func() time.Time
}

// RunConfig describes one training run. Strategy plug-ins are not persisted,
// so a continued run must be given the same agent config again.
type RunConfig struct {
	RunID             string
	Generations       int
	Evolution         evo.Config
	Agent             agent.Config
	Candles           []model.Candle
	ValidationCandles []model.Candle
	// Description carries names the trainer cannot derive, such as the
	// strategy kinds and the data source.
	Description stats.RunConfig
}

type RunResult struct {
	RunID                 string
	Generation            int
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	SpeciesHistory        []model.SpeciesGeneration
	BestFitness           float64
	BestGenome            model.GenomeRecord
	BestStats             agent.TradingStats
	TopGenomes            []model.TopGenomeRecord
	Validation            *stats.ValidationReport
	RunDir                string
}

// Trainer runs populations and persists their progress.
type Trainer struct {
	cfg    Config
	store  storage.Store
	logger *zap.Logger

	mu      sync.RWMutex
	started bool
}

func NewTrainer(cfg Config) *Trainer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TopCount <= 0 {
		cfg.TopCount = defaultTopCount
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Trainer{cfg: cfg, store: cfg.Store, logger: cfg.Logger}
}

func (t *Trainer) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}
	if t.store == nil {
		t.store = storage.NewMemoryStore()
	}
	if err := t.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	t.started = true
	return nil
}

func (t *Trainer) Store() storage.Store { return t.store }

func (t *Trainer) Started() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.started
}

// Run trains a fresh population for cfg.Generations generations.
func (t *Trainer) Run(ctx context.Context, cfg RunConfig) (RunResult, error) {
	if !t.Started() {
		return RunResult{}, ErrNotInitialized
	}
	if cfg.Generations <= 0 {
		return RunResult{}, fmt.Errorf("%w: generations must be > 0", ErrInvalidRun)
	}
	data, err := evo.NewDataset(cfg.Candles, cfg.Agent)
	if err != nil {
		return RunResult{}, err
	}
	pop, err := evo.NewPopulation(cfg.Evolution, cfg.Agent)
	if err != nil {
		return RunResult{}, err
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	return t.evolve(ctx, runID, pop, cfg, data, history{})
}

// Continue resumes cfg.RunID from its last population snapshot and runs
// cfg.Generations more generations, appending to the stored history.
func (t *Trainer) Continue(ctx context.Context, cfg RunConfig) (RunResult, error) {
	if !t.Started() {
		return RunResult{}, ErrNotInitialized
	}
	if cfg.RunID == "" {
		return RunResult{}, fmt.Errorf("%w: run id is required to continue", ErrInvalidRun)
	}
	if cfg.Generations <= 0 {
		return RunResult{}, fmt.Errorf("%w: generations must be > 0", ErrInvalidRun)
	}
	snapshot, ok, err := t.store.GetPopulation(ctx, cfg.RunID)
	if err != nil {
		return RunResult{}, err
	}
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrRunNotFound, cfg.RunID)
	}
	genomes, err := t.loadGenomes(ctx, snapshot.GenomeIDs)
	if err != nil {
		return RunResult{}, err
	}
	cfg.Evolution.PopulationSize = len(genomes)
	pop, err := evo.Restore(cfg.Evolution, cfg.Agent, snapshot, genomes)
	if err != nil {
		return RunResult{}, err
	}
	data, err := evo.NewDataset(cfg.Candles, cfg.Agent)
	if err != nil {
		return RunResult{}, err
	}
	prior, err := t.loadHistory(ctx, cfg.RunID)
	if err != nil {
		return RunResult{}, err
	}
	prior.bestFitness = snapshot.BestFitness
	prior.bestGenomeID = snapshot.BestGenomeID
	cfg.Description.ContinuedFrom = cfg.RunID
	cfg.Description.InitialGeneration = snapshot.Generation - 1
	return t.evolve(ctx, cfg.RunID, pop, cfg, data, prior)
}

// history is what earlier sessions of the same run already stored.
type history struct {
	best         []float64
	diagnostics  []model.GenerationDiagnostics
	species      []model.SpeciesGeneration
	bestFitness  float64
	bestGenomeID string
}

func (t *Trainer) loadHistory(ctx context.Context, runID string) (history, error) {
	var h history
	var err error
	if h.best, _, err = t.store.GetFitnessHistory(ctx, runID); err != nil {
		return history{}, err
	}
	if h.diagnostics, _, err = t.store.GetGenerationDiagnostics(ctx, runID); err != nil {
		return history{}, err
	}
	if h.species, _, err = t.store.GetSpeciesHistory(ctx, runID); err != nil {
		return history{}, err
	}
	return h, nil
}

func (t *Trainer) loadGenomes(ctx context.Context, ids []string) ([]*genome.Genome, error) {
	out := make([]*genome.Genome, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := t.store.GetGenome(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: genome %s missing from snapshot", ErrRunNotFound, id)
		}
		g, err := genome.FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("load genome %s: %w", id, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func (t *Trainer) evolve(ctx context.Context, runID string, pop *evo.Population, cfg RunConfig, data evo.Dataset, prior history) (RunResult, error) {
	logger := t.logger.With(zap.String("run_id", runID))
	result := RunResult{
		RunID:                 runID,
		BestByGeneration:      prior.best,
		GenerationDiagnostics: prior.diagnostics,
		SpeciesHistory:        prior.species,
		BestFitness:           prior.bestFitness,
	}
	bestID := prior.bestGenomeID
	haveBest := bestID != ""

	var last evo.GenerationResult
	for i := 0; i < cfg.Generations; i++ {
		labelGenomes(pop.Genomes())
		gen, err := pop.RunGeneration(ctx, data)
		if err != nil {
			return RunResult{}, err
		}
		last = gen
		gen.Diagnostics.BestGenomeID = gen.Best.Genome.ID
		result.BestByGeneration = append(result.BestByGeneration, gen.Best.Fitness)
		result.GenerationDiagnostics = append(result.GenerationDiagnostics, gen.Diagnostics)
		result.SpeciesHistory = append(result.SpeciesHistory, gen.Species)

		if !haveBest || gen.Best.Fitness > result.BestFitness {
			haveBest = true
			result.BestFitness = gen.Best.Fitness
			result.BestGenome = gen.Best.Genome.Record()
			result.BestStats = gen.Best.Stats
			bestID = gen.Best.Genome.ID
			if err := t.store.SaveGenome(ctx, result.BestGenome); err != nil {
				return RunResult{}, err
			}
		}

		logger.Info("generation complete",
			zap.Int("generation", gen.Diagnostics.Generation),
			zap.Float64("best_fitness", gen.Diagnostics.BestFitness),
			zap.Float64("mean_fitness", gen.Diagnostics.MeanFitness),
			zap.Int("species", gen.Diagnostics.SpeciesCount),
			zap.Int("replay_ticks", gen.Diagnostics.ReplayTicks),
			zap.Float64("mean_trades", gen.Diagnostics.MeanTrades),
		)

		if err := t.saveSnapshot(ctx, runID, pop, result.BestFitness, bestID); err != nil {
			return RunResult{}, err
		}
	}
	result.Generation = pop.Generation()
	if result.BestGenome.ID == "" && bestID != "" {
		rec, ok, err := t.store.GetGenome(ctx, bestID)
		if err != nil {
			return RunResult{}, err
		}
		if ok {
			result.BestGenome = rec
		}
	}

	ranked := rankMembers(last.Members)
	result.TopGenomes = topGenomes(ranked, t.cfg.TopCount)

	if len(cfg.ValidationCandles) > 0 && result.BestGenome.ID != "" {
		report, err := t.validate(ctx, result.BestGenome, cfg)
		if err != nil {
			return RunResult{}, err
		}
		result.Validation = &report
		logger.Info("validation replay",
			zap.String("genome_id", report.GenomeID),
			zap.Float64("fitness", report.Fitness),
			zap.String("death_reason", report.DeathReason),
		)
	}

	if err := t.persist(ctx, runID, cfg, &result, ranked); err != nil {
		return RunResult{}, err
	}
	return result, nil
}

// labelGenomes gives every unnamed genome a fresh id.
// labelGenomes gives every genome a unique id. Unlabeled children and repeats
// of an id already seen, such as a champion carried by two species, get a
// fresh uuid.
func labelGenomes(genomes []*genome.Genome) {
	seen := make(map[string]struct{}, len(genomes))
	for _, g := range genomes {
		if _, dup := seen[g.ID]; g.ID == "" || dup {
			g.ID = uuid.New().String()
		}
		seen[g.ID] = struct{}{}
	}
}

func (t *Trainer) saveSnapshot(ctx context.Context, runID string, pop *evo.Population, bestFitness float64, bestID string) error {
	genomes := pop.Genomes()
	labelGenomes(genomes)
	ids := make([]string, 0, len(genomes))
	for _, g := range genomes {
		if err := t.store.SaveGenome(ctx, g.Record()); err != nil {
			return fmt.Errorf("save genome %s: %w", g.ID, err)
		}
		ids = append(ids, g.ID)
	}
	return t.store.SavePopulation(ctx, model.PopulationRecord{
		ID:             runID,
		RunID:          runID,
		Generation:     pop.Generation(),
		GenomeIDs:      ids,
		NextInnovation: pop.History().Next(),
		BestFitness:    bestFitness,
		BestGenomeID:   bestID,
		Innovations:    pop.History().Records(),
	})
}

func rankMembers(members []evo.Member) []evo.Member {
	ranked := append([]evo.Member(nil), members...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness > ranked[j].Fitness
	})
	return ranked
}

func topGenomes(ranked []evo.Member, n int) []model.TopGenomeRecord {
	if len(ranked) < n {
		n = len(ranked)
	}
	out := make([]model.TopGenomeRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.TopGenomeRecord{
			VersionedRecord: storage.Current(),
			Rank:            i + 1,
			Fitness:         ranked[i].Fitness,
			Genome:          ranked[i].Genome.Record(),
		})
	}
	return out
}

func (t *Trainer) validate(ctx context.Context, rec model.GenomeRecord, cfg RunConfig) (stats.ValidationReport, error) {
	g, err := genome.FromRecord(rec)
	if err != nil {
		return stats.ValidationReport{}, err
	}
	data, err := evo.NewDataset(cfg.ValidationCandles, cfg.Agent)
	if err != nil {
		return stats.ValidationReport{}, fmt.Errorf("validation window: %w", err)
	}
	member, err := evo.Evaluate(ctx, g, cfg.Agent, data)
	if err != nil {
		return stats.ValidationReport{}, err
	}
	return stats.ValidationReport{
		GenomeID:    rec.ID,
		Candles:     len(cfg.ValidationCandles),
		Fitness:     member.Fitness,
		DeathReason: member.DeathReason,
		Stats:       stats.FlattenStats(member.Stats),
		Equity:      stats.SummarizeEquity(member.Stats.Equity()),
	}, nil
}

func (t *Trainer) persist(ctx context.Context, runID string, cfg RunConfig, result *RunResult, ranked []evo.Member) error {
	if err := t.store.SaveFitnessHistory(ctx, runID, result.BestByGeneration); err != nil {
		return err
	}
	if err := t.store.SaveGenerationDiagnostics(ctx, runID, result.GenerationDiagnostics); err != nil {
		return err
	}
	if err := t.store.SaveSpeciesHistory(ctx, runID, result.SpeciesHistory); err != nil {
		return err
	}
	if err := t.store.SaveTopGenomes(ctx, runID, result.TopGenomes); err != nil {
		return err
	}

	desc := describe(runID, cfg, len(result.BestByGeneration))
	createdAt := t.cfg.Now().UTC().Format(time.RFC3339)
	if existing, ok, err := t.store.GetRun(ctx, runID); err != nil {
		return err
	} else if ok {
		createdAt = existing.CreatedAtUTC
	}
	run := model.RunRecord{
		ID:               runID,
		Pair:             cfg.Agent.Instrument.Pair,
		PopulationSize:   cfg.Evolution.PopulationSize,
		Generations:      len(result.BestByGeneration),
		Seed:             cfg.Evolution.Seed,
		InitialCapital:   cfg.Agent.InitialBalance,
		FinalBestFitness: result.BestFitness,
		BestGenomeID:     result.BestGenome.ID,
		CreatedAtUTC:     createdAt,
	}
	if err := t.store.SaveRun(ctx, run); err != nil {
		return err
	}

	if t.cfg.ArtifactsDir == "" {
		return nil
	}
	report := make([]stats.AgentReportRow, 0, len(ranked))
	for i, m := range ranked {
		report = append(report, stats.NewAgentReportRow(i+1, m.Genome.ID, m.Fitness, m.DeathReason, m.Stats))
	}
	runDir, err := stats.WriteRunArtifacts(t.cfg.ArtifactsDir, stats.RunArtifacts{
		Config:                desc,
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: result.GenerationDiagnostics,
		SpeciesHistory:        result.SpeciesHistory,
		FinalBestFitness:      result.BestFitness,
		BestGenome:            result.BestGenome,
		TopGenomes:            result.TopGenomes,
		AgentReport:           report,
		Validation:            result.Validation,
	})
	if err != nil {
		return fmt.Errorf("write artifacts: %w", err)
	}
	result.RunDir = runDir
	return stats.AppendRunIndex(t.cfg.ArtifactsDir, stats.RunIndexEntry{
		RunID:            runID,
		Pair:             run.Pair,
		PopulationSize:   run.PopulationSize,
		Generations:      run.Generations,
		Seed:             run.Seed,
		Workers:          cfg.Evolution.Workers,
		FinalBestFitness: run.FinalBestFitness,
		BestGenomeID:     run.BestGenomeID,
		CreatedAtUTC:     run.CreatedAtUTC,
	})
}

func describe(runID string, cfg RunConfig, generations int) stats.RunConfig {
	d := cfg.Description
	d.RunID = runID
	d.Pair = cfg.Agent.Instrument.Pair
	d.Candles = len(cfg.Candles)
	d.ValidationCandles = len(cfg.ValidationCandles)
	d.PopulationSize = cfg.Evolution.PopulationSize
	d.Generations = generations
	d.Seed = cfg.Evolution.Seed
	d.Workers = cfg.Evolution.Workers
	d.InitialCapital = cfg.Agent.InitialBalance
	d.Leverage = cfg.Agent.Instrument.Leverage
	d.InputMode = cfg.Agent.InputMode
	d.WindowSize = cfg.Agent.WindowSize
	d.Pyramiding = cfg.Agent.Pyramiding
	d.FitnessMode = cfg.Agent.FitnessMode
	if cfg.Agent.Risk != nil {
		d.Risk = cfg.Agent.Risk.Name()
	}
	if cfg.Agent.Exit != nil {
		d.Exit = cfg.Agent.Exit.Name()
	}
	if cfg.Agent.Trend != nil {
		d.Trend = cfg.Agent.Trend.Name()
	}
	d.CompatibilityThreshold = cfg.Evolution.CompatibilityThreshold
	d.StaleLimit = cfg.Evolution.StaleLimit
	d.MaxSpecies = cfg.Evolution.MaxSpecies
	d.CloneRate = cfg.Evolution.CloneRate
	d.Activation = cfg.Evolution.Activation
	if len(d.Indicators) == 0 {
		for _, spec := range cfg.Agent.Indicators {
			d.Indicators = append(d.Indicators, spec.String())
		}
	}
	return d
}
