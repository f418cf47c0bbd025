package neattrade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"neattrade/internal/account"
	"neattrade/internal/agent"
	"neattrade/internal/evo"
	"neattrade/internal/genome"
	"neattrade/internal/indicators"
	"neattrade/internal/marketdata"
	"neattrade/internal/model"
	"neattrade/internal/nn"
	"neattrade/internal/platform"
	"neattrade/internal/stats"
	"neattrade/internal/storage"
	"neattrade/internal/strategy"
)

const (
	defaultArtifactsDir = "benchmarks"
	defaultExportsDir   = "exports"
	defaultDBPath       = "neattrade.db"
)

var (
	ErrNoGenome  = errors.New("no saved genome")
	ErrNoData    = errors.New("no candle source: set data_path or synthetic")
	ErrNoHistory = errors.New("run has no stored history")
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *zap.Logger
}

type Client struct {
	store   storage.Store
	trainer *platform.Trainer
	logger  *zap.Logger

	artifactsDir string
	exportsDir   string
}

// RunRequest is the JSON-decodable description of a training run. Zero
// values fall back to agent.DefaultConfig and evo.DefaultConfig.
type RunRequest struct {
	RunID    string `json:"run_id,omitempty"`
	Continue bool   `json:"continue,omitempty"`

	DataPath       string  `json:"data_path,omitempty"`
	Synthetic      string  `json:"synthetic,omitempty"`
	SyntheticCount int     `json:"synthetic_count,omitempty"`
	Holdout        float64 `json:"holdout,omitempty"`

	Pair           string  `json:"pair,omitempty"`
	InitialCapital float64 `json:"initial_capital,omitempty"`
	Leverage       float64 `json:"leverage,omitempty"`
	MinQuantity    float64 `json:"min_quantity,omitempty"`
	QuantityStep   float64 `json:"quantity_step,omitempty"`
	MakerFee       float64 `json:"maker_fee,omitempty"`
	TakerFee       float64 `json:"taker_fee,omitempty"`

	InputMode       string               `json:"input_mode,omitempty"`
	WindowSize      int                  `json:"window_size,omitempty"`
	PriceSource     string               `json:"price_source,omitempty"`
	Indicators      []indicators.Spec    `json:"indicators,omitempty"`
	Risk            strategy.RiskConfig  `json:"risk"`
	Exit            strategy.ExitConfig  `json:"exit"`
	Trend           strategy.TrendConfig `json:"trend"`
	Sessions        []strategy.Session   `json:"sessions,omitempty"`
	Goals           strategy.Goals       `json:"goals"`
	Pyramiding      bool                 `json:"pyramiding,omitempty"`
	MaxAllocation   float64              `json:"max_allocation,omitempty"`
	SignalThreshold float64              `json:"signal_threshold,omitempty"`
	InactivityLimit int                  `json:"inactivity_limit,omitempty"`
	FitnessMode     string               `json:"fitness_mode,omitempty"`

	Population             int     `json:"population,omitempty"`
	Generations            int     `json:"generations,omitempty"`
	Seed                   int64   `json:"seed,omitempty"`
	Workers                int     `json:"workers,omitempty"`
	CompatibilityThreshold float64 `json:"compatibility_threshold,omitempty"`
	StaleLimit             int     `json:"stale_limit,omitempty"`
	MaxSpecies             int     `json:"max_species,omitempty"`
	CloneRate              float64 `json:"clone_rate,omitempty"`
	Activation             string  `json:"activation,omitempty"`

	// GenomeOut receives the best genome as a JSON file when set.
	GenomeOut string `json:"genome_out,omitempty"`
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	Generation       int
	BestByGeneration []float64
	FinalBestFitness float64
	BestGenomeID     string
	Trend            stats.Summary
	Validation       *stats.ValidationReport
}

type RunItem struct {
	RunID            string  `json:"run_id"`
	CreatedAtUTC     string  `json:"created_at_utc"`
	Pair             string  `json:"pair"`
	Seed             int64   `json:"seed"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	BestGenomeID     string  `json:"best_genome_id"`
}

// RunDetails is the stored history of one run.
type RunDetails struct {
	Run         model.RunRecord               `json:"run"`
	Fitness     []float64                     `json:"best_by_generation"`
	Diagnostics []model.GenerationDiagnostics `json:"generation_diagnostics"`
	Species     []model.SpeciesGeneration     `json:"species_history"`
	TopGenomes  []model.TopGenomeRecord       `json:"top_genomes"`
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" && opts.StoreKind == storage.DriverSQLite {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store: store,
		trainer: platform.NewTrainer(platform.Config{
			Store:        store,
			Logger:       logger,
			ArtifactsDir: artifactsDir,
		}),
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.trainer.Init(ctx)
}

// Run trains a new population, or continues req.RunID when req.Continue is
// set, and returns the run summary.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	agentCfg, err := req.AgentConfig()
	if err != nil {
		return RunSummary{}, err
	}
	agentCfg.Logger = c.logger
	evoCfg := req.EvolutionConfig()
	evoCfg.Logger = c.logger

	candles, source, err := req.LoadCandles()
	if err != nil {
		return RunSummary{}, err
	}
	train, validation := marketdata.Split(candles, req.Holdout)

	cfg := platform.RunConfig{
		RunID:             req.RunID,
		Generations:       req.generations(),
		Evolution:         evoCfg,
		Agent:             agentCfg,
		Candles:           train,
		ValidationCandles: validation,
		Description:       stats.RunConfig{DataSource: source},
	}
	var result platform.RunResult
	if req.Continue {
		result, err = c.trainer.Continue(ctx, cfg)
	} else {
		result, err = c.trainer.Run(ctx, cfg)
	}
	if err != nil {
		return RunSummary{}, err
	}

	if req.GenomeOut != "" {
		if err := storage.SaveGenomeFile(req.GenomeOut, result.BestGenome); err != nil {
			return RunSummary{}, fmt.Errorf("write genome file: %w", err)
		}
	}
	return RunSummary{
		RunID:            result.RunID,
		ArtifactsDir:     result.RunDir,
		Generation:       result.Generation,
		BestByGeneration: result.BestByGeneration,
		FinalBestFitness: result.BestFitness,
		BestGenomeID:     result.BestGenome.ID,
		Trend:            stats.Summarize(result.BestByGeneration),
		Validation:       result.Validation,
	}, nil
}

// Runs lists stored runs newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]RunItem, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	items := make([]RunItem, 0, len(runs))
	for _, r := range runs {
		items = append(items, RunItem{
			RunID:            r.ID,
			CreatedAtUTC:     r.CreatedAtUTC,
			Pair:             r.Pair,
			Seed:             r.Seed,
			PopulationSize:   r.PopulationSize,
			Generations:      r.Generations,
			FinalBestFitness: r.FinalBestFitness,
			BestGenomeID:     r.BestGenomeID,
		})
	}
	return items, nil
}

// Inspect returns the stored history of runID.
func (c *Client) Inspect(ctx context.Context, runID string) (RunDetails, error) {
	if err := c.Init(ctx); err != nil {
		return RunDetails{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunDetails{}, err
	}
	if !ok {
		return RunDetails{}, fmt.Errorf("%w: %s", platform.ErrRunNotFound, runID)
	}
	details := RunDetails{Run: run}
	if details.Fitness, ok, err = c.store.GetFitnessHistory(ctx, runID); err != nil {
		return RunDetails{}, err
	} else if !ok {
		return RunDetails{}, fmt.Errorf("%w: %s", ErrNoHistory, runID)
	}
	if details.Diagnostics, _, err = c.store.GetGenerationDiagnostics(ctx, runID); err != nil {
		return RunDetails{}, err
	}
	if details.Species, _, err = c.store.GetSpeciesHistory(ctx, runID); err != nil {
		return RunDetails{}, err
	}
	if details.TopGenomes, _, err = c.store.GetTopGenomes(ctx, runID); err != nil {
		return RunDetails{}, err
	}
	return details, nil
}

// Export copies a run's artifact directory into the exports dir.
func (c *Client) Export(runID string) (string, error) {
	return stats.ExportRunArtifacts(c.artifactsDir, runID, c.exportsDir)
}

// ExportGenome writes a stored genome to path.
func (c *Client) ExportGenome(ctx context.Context, genomeID, path string) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	rec, ok, err := c.store.GetGenome(ctx, genomeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGenome, genomeID)
	}
	return storage.SaveGenomeFile(path, rec)
}

// LoadDecider builds a decision function from a genome file. req must carry
// the look settings the genome was trained with.
func LoadDecider(path string, req RunRequest) (*agent.GenomeDecider, error) {
	rec, ok := storage.LoadGenomeFile(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGenome, path)
	}
	g, err := genome.FromRecord(rec)
	if err != nil {
		return nil, err
	}
	cfg, err := req.AgentConfig()
	if err != nil {
		return nil, err
	}
	return agent.NewDecider(g, cfg)
}

// AgentConfig resolves the trading side of the request.
func (r RunRequest) AgentConfig() (agent.Config, error) {
	cfg := agent.DefaultConfig()
	if r.Pair != "" {
		cfg.Instrument.Pair = strings.ToUpper(r.Pair)
	}
	if r.InitialCapital > 0 {
		cfg.InitialBalance = r.InitialCapital
	}
	if r.Leverage > 0 {
		cfg.Instrument.Leverage = r.Leverage
	}
	if r.MinQuantity > 0 {
		cfg.Instrument.MinQuantity = r.MinQuantity
	}
	if r.QuantityStep > 0 {
		cfg.Instrument.QuantityStep = r.QuantityStep
	}
	if r.MakerFee > 0 || r.TakerFee > 0 {
		cfg.Fees = account.Fees{Maker: r.MakerFee, Taker: r.TakerFee}
	}
	if r.InputMode != "" {
		cfg.InputMode = r.InputMode
	}
	if r.WindowSize > 0 {
		cfg.WindowSize = r.WindowSize
	}
	if r.PriceSource != "" {
		cfg.PriceSource = r.PriceSource
	}
	cfg.Indicators = append([]indicators.Spec(nil), r.Indicators...)
	if r.MaxAllocation > 0 {
		cfg.MaxAllocation = r.MaxAllocation
	}
	if r.SignalThreshold > 0 {
		cfg.SignalThreshold = r.SignalThreshold
	}
	if r.InactivityLimit > 0 {
		cfg.InactivityLimit = r.InactivityLimit
	}
	if r.FitnessMode != "" {
		cfg.FitnessMode = r.FitnessMode
	}
	cfg.Pyramiding = r.Pyramiding
	cfg.Sessions = r.Sessions
	cfg.Goals = r.Goals

	var err error
	if cfg.Risk, err = r.Risk.Build(); err != nil {
		return agent.Config{}, err
	}
	if cfg.Exit, err = r.Exit.Build(); err != nil {
		return agent.Config{}, err
	}
	if cfg.Trend, err = r.Trend.Build(); err != nil {
		return agent.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return agent.Config{}, err
	}
	return cfg, nil
}

// EvolutionConfig resolves the population side of the request.
func (r RunRequest) EvolutionConfig() evo.Config {
	cfg := evo.DefaultConfig()
	if r.Population > 0 {
		cfg.PopulationSize = r.Population
	}
	if r.Seed != 0 {
		cfg.Seed = r.Seed
	}
	if r.Workers > 0 {
		cfg.Workers = r.Workers
	}
	if r.CompatibilityThreshold > 0 {
		cfg.CompatibilityThreshold = r.CompatibilityThreshold
	}
	if r.StaleLimit > 0 {
		cfg.StaleLimit = r.StaleLimit
	}
	if r.MaxSpecies > 0 {
		cfg.MaxSpecies = r.MaxSpecies
	}
	if r.CloneRate > 0 {
		cfg.CloneRate = r.CloneRate
	}
	if r.Activation != "" {
		cfg.Activation = r.Activation
	}
	return cfg
}

// LoadCandles reads the configured candle source and names it.
func (r RunRequest) LoadCandles() ([]model.Candle, string, error) {
	switch {
	case r.DataPath != "":
		candles, err := marketdata.LoadCSV(r.DataPath)
		if err != nil {
			return nil, "", err
		}
		return candles, "csv:" + r.DataPath, nil
	case r.Synthetic != "":
		syn := marketdata.DefaultSyntheticConfig()
		syn.Shape = r.Synthetic
		if r.SyntheticCount > 0 {
			syn.Count = r.SyntheticCount
		}
		if r.Pair != "" {
			syn.Symbol = strings.ToUpper(r.Pair)
		}
		candles, err := marketdata.Synthetic(syn)
		if err != nil {
			return nil, "", err
		}
		return candles, "synthetic:" + r.Synthetic, nil
	default:
		return nil, "", ErrNoData
	}
}

func (r RunRequest) generations() int {
	if r.Generations <= 0 {
		return 100
	}
	return r.Generations
}

// ActivationNames lists the activations a request may name.
func ActivationNames() []string {
	names := nn.ListActivations()
	sort.Strings(names)
	return names
}
