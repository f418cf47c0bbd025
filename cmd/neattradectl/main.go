package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"neattrade/internal/stats"
	"neattrade/internal/strategy"
	"neattrade/pkg/neattrade"
)

const (
	envStore        = "NEATTRADE_STORE"
	envDBPath       = "NEATTRADE_DB_PATH"
	envArtifactsDir = "NEATTRADE_ARTIFACTS_DIR"

	defaultStore        = "sqlite"
	defaultDBPath       = "neattrade.db"
	defaultArtifactsDir = "benchmarks"
	defaultExportsDir   = "exports"
)

var stdout io.Writer = os.Stdout

func main() {
	// A missing .env is fine; flags and the process environment still apply.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "inspect":
		return runInspect(ctx, args[1:])
	case "decide":
		return runDecide(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// storeFlags are shared by every command that opens a store.
type storeFlags struct {
	kind         *string
	dbPath       *string
	artifactsDir *string
	logDev       *bool
	quiet        *bool
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		kind:         fs.String("store", envOr(envStore, defaultStore), "store backend: memory|sqlite|postgres"),
		dbPath:       fs.String("db-path", envOr(envDBPath, defaultDBPath), "sqlite file path or postgres dsn"),
		artifactsDir: fs.String("artifacts-dir", envOr(envArtifactsDir, defaultArtifactsDir), "run artifacts directory"),
		logDev:       fs.Bool("log-dev", false, "human-readable development logging"),
		quiet:        fs.Bool("quiet", false, "disable logging"),
	}
}

func (f storeFlags) client() (*neattrade.Client, *zap.Logger, error) {
	logger, err := newLogger(*f.logDev, *f.quiet)
	if err != nil {
		return nil, nil, err
	}
	client, err := neattrade.New(neattrade.Options{
		StoreKind:    *f.kind,
		DBPath:       *f.dbPath,
		ArtifactsDir: *f.artifactsDir,
		ExportsDir:   defaultExportsDir,
		Logger:       logger,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return client, logger, nil
}

func newLogger(dev, quiet bool) (*zap.Logger, error) {
	switch {
	case quiet:
		return zap.NewNop(), nil
	case dev:
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, logger, err := sf.client()
	if err != nil {
		return err
	}
	defer closeClient(client, logger)

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "initialized store=%s\n", *sf.kind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	configPath := fs.String("config", "", "optional run config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	cont := fs.Bool("continue", false, "continue run-id from its last population snapshot")
	dataPath := fs.String("data", "", "candle CSV path")
	synthetic := fs.String("synthetic", "", "synthetic series instead of a CSV: wave|uptrend|downtrend")
	syntheticCount := fs.Int("synthetic-count", 512, "synthetic candle count")
	holdout := fs.Float64("holdout", 0, "trailing fraction of candles kept for validation")
	pair := fs.String("pair", "BTCUSDT", "traded pair")
	capital := fs.Float64("capital", 1000, "initial balance")
	leverage := fs.Float64("leverage", 10, "position leverage")
	inputMode := fs.String("input-mode", "price_window", "network inputs: price_window|indicators")
	window := fs.Int("window", 10, "price window size")
	exit := fs.String("exit", "", "exit strategy: fixed_percent|atr_multiple|trailing (empty lets the network close)")
	takeProfit := fs.Float64("take-profit", 0.02, "take profit fraction or ATR multiple")
	stopLoss := fs.Float64("stop-loss", 0.01, "stop loss fraction or ATR multiple")
	atrPeriod := fs.Int("atr-period", 14, "ATR period for atr_multiple exits")
	activation := fs.Float64("trailing-activation", 0.01, "trailing stop activation distance")
	callbackRate := fs.Float64("callback-rate", 0.005, "trailing stop callback rate")
	population := fs.Int("pop", 100, "population size")
	generations := fs.Int("gens", 100, "generation count")
	seed := fs.Int64("seed", 1, "rng seed")
	workers := fs.Int("workers", 4, "worker count")
	genomeOut := fs.String("genome-out", "", "write the best genome JSON here")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		req = neattrade.RunRequest{
			Pair:           *pair,
			InitialCapital: *capital,
			Leverage:       *leverage,
			InputMode:      *inputMode,
			WindowSize:     *window,
			Population:     *population,
			Generations:    *generations,
			Seed:           *seed,
			Workers:        *workers,
			SyntheticCount: *syntheticCount,
			Exit: strategy.ExitConfig{
				Kind:         *exit,
				TakeProfit:   *takeProfit,
				StopLoss:     *stopLoss,
				Period:       *atrPeriod,
				Activation:   *activation,
				CallbackRate: *callbackRate,
			},
		}
	}
	if err := overrideFromFlags(&req, setFlags, map[string]any{
		"run-id":              *runID,
		"continue":            *cont,
		"data":                *dataPath,
		"synthetic":           *synthetic,
		"synthetic-count":     *syntheticCount,
		"holdout":             *holdout,
		"pair":                *pair,
		"capital":             *capital,
		"leverage":            *leverage,
		"input-mode":          *inputMode,
		"window":              *window,
		"exit":                *exit,
		"take-profit":         *takeProfit,
		"stop-loss":           *stopLoss,
		"atr-period":          *atrPeriod,
		"trailing-activation": *activation,
		"callback-rate":       *callbackRate,
		"pop":                 *population,
		"gens":                *generations,
		"seed":                *seed,
		"workers":             *workers,
		"genome-out":          *genomeOut,
	}); err != nil {
		return err
	}
	if req.Continue && req.RunID == "" {
		return errors.New("continue requires --run-id")
	}
	if req.DataPath == "" && req.Synthetic == "" {
		req.Synthetic = "wave"
	}

	client, logger, err := sf.client()
	if err != nil {
		return err
	}
	defer closeClient(client, logger)

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary)
	}
	fmt.Fprintf(stdout, "run_id=%s generation=%d final_best_fitness=%.6f best_genome=%s improvement=%.6f\n",
		summary.RunID,
		summary.Generation,
		summary.FinalBestFitness,
		summary.BestGenomeID,
		summary.Trend.Improvement,
	)
	if summary.Validation != nil {
		fmt.Fprintf(stdout, "validation candles=%d fitness=%.6f total_return=%.6f max_drawdown=%.6f\n",
			summary.Validation.Candles,
			summary.Validation.Fitness,
			summary.Validation.Equity.TotalReturn,
			summary.Validation.Equity.MaxDrawdown,
		)
	}
	if summary.ArtifactsDir != "" {
		fmt.Fprintf(stdout, "artifacts=%s\n", summary.ArtifactsDir)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	fromStore := fs.Bool("from-store", false, "list runs from the store instead of the artifacts index")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	var items []neattrade.RunItem
	if *fromStore {
		client, logger, err := sf.client()
		if err != nil {
			return err
		}
		defer closeClient(client, logger)
		if items, err = client.Runs(ctx, *limit); err != nil {
			return err
		}
	} else {
		entries, err := stats.ListRunIndex(*sf.artifactsDir)
		if err != nil {
			return err
		}
		if len(entries) > *limit {
			entries = entries[:*limit]
		}
		for _, e := range entries {
			items = append(items, neattrade.RunItem{
				RunID:            e.RunID,
				CreatedAtUTC:     e.CreatedAtUTC,
				Pair:             e.Pair,
				Seed:             e.Seed,
				PopulationSize:   e.PopulationSize,
				Generations:      e.Generations,
				FinalBestFitness: e.FinalBestFitness,
				BestGenomeID:     e.BestGenomeID,
			})
		}
	}

	if *jsonOut {
		if items == nil {
			items = []neattrade.RunItem{}
		}
		return writeJSON(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, item := range items {
		fmt.Fprintf(stdout, "run_id=%s created_at=%s pair=%s seed=%d pop=%d gens=%d final_best_fitness=%.6f\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Pair,
			item.Seed,
			item.PopulationSize,
			item.Generations,
			item.FinalBestFitness,
		)
	}
	return nil
}

func runInspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	runID := fs.String("run-id", "", "run id to inspect")
	jsonOut := fs.Bool("json", false, "emit run history as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("inspect requires --run-id")
	}

	client, logger, err := sf.client()
	if err != nil {
		return err
	}
	defer closeClient(client, logger)

	details, err := client.Inspect(ctx, *runID)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(details)
	}
	summary := stats.Summarize(details.Fitness)
	fmt.Fprintf(stdout, "run_id=%s pair=%s generations=%d final_best_fitness=%.6f mean_best=%.6f std_best=%.6f improvement=%.6f\n",
		details.Run.ID,
		details.Run.Pair,
		summary.Generations,
		details.Run.FinalBestFitness,
		summary.BestMean,
		summary.BestStd,
		summary.Improvement,
	)
	for _, d := range details.Diagnostics {
		fmt.Fprintf(stdout, "generation=%d best=%.6f mean=%.6f min=%.6f species=%d stale_removed=%d weak_removed=%d mean_trades=%.2f\n",
			d.Generation,
			d.BestFitness,
			d.MeanFitness,
			d.MinFitness,
			d.SpeciesCount,
			d.StaleRemoved,
			d.WeakRemoved,
			d.MeanTrades,
		)
	}
	for _, top := range details.TopGenomes {
		fmt.Fprintf(stdout, "rank=%d fitness=%.6f genome_id=%s genes=%d\n", top.Rank, top.Fitness, top.Genome.ID, len(top.Genome.Genes))
	}
	return nil
}

func runDecide(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config JSON the genome was trained with")
	genomePath := fs.String("genome", "", "genome JSON file")
	dataPath := fs.String("data", "", "candle CSV path; the last candle is decided on")
	synthetic := fs.String("synthetic", "", "synthetic series instead of a CSV")
	window := fs.Int("window", 10, "price window size when no config is given")
	exit := fs.String("exit", "", "exit strategy kind when no config is given")
	holding := fs.Bool("holding", false, "an open position exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *genomePath == "" {
		return errors.New("decide requires --genome")
	}

	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		req.WindowSize = *window
		req.Exit.Kind = *exit
		if *exit != "" {
			req.Exit.TakeProfit, req.Exit.StopLoss = 0.02, 0.01
		}
	}
	if *dataPath != "" {
		req.DataPath, req.Synthetic = *dataPath, ""
	} else if *synthetic != "" {
		req.DataPath, req.Synthetic = "", *synthetic
	}

	decider, err := neattrade.LoadDecider(*genomePath, req)
	if err != nil {
		return err
	}
	candles, _, err := req.LoadCandles()
	if err != nil {
		return err
	}
	decision, err := decider.Decide(candles, *holding)
	if err != nil {
		return err
	}
	return writeJSON(decision)
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	runID := fs.String("run-id", "", "run id whose artifacts are exported")
	genomeID := fs.String("genome-id", "", "stored genome to write as a file")
	out := fs.String("out", "", "genome output path (with --genome-id)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, logger, err := sf.client()
	if err != nil {
		return err
	}
	defer closeClient(client, logger)

	switch {
	case *genomeID != "":
		if *out == "" {
			return errors.New("export --genome-id requires --out")
		}
		if err := client.ExportGenome(ctx, *genomeID, *out); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "exported genome=%s to=%s\n", *genomeID, *out)
	case *runID != "":
		dir, err := client.Export(*runID)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "exported run=%s to=%s\n", *runID, dir)
	default:
		return errors.New("export requires --run-id or --genome-id")
	}
	return nil
}

func closeClient(client *neattrade.Client, logger *zap.Logger) {
	_ = client.Close()
	_ = logger.Sync()
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: neattradectl <init|run|runs|inspect|decide|export> [flags]", msg)
}
