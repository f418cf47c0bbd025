package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"neattrade/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig is the resolved configuration of one training run.
type RunConfig struct {
	RunID                  string   `json:"run_id"`
	ContinuedFrom          string   `json:"continued_from,omitempty"`
	InitialGeneration      int      `json:"initial_generation"`
	Pair                   string   `json:"pair"`
	DataSource             string   `json:"data_source"`
	Candles                int      `json:"candles"`
	ValidationCandles      int      `json:"validation_candles"`
	PopulationSize         int      `json:"population_size"`
	Generations            int      `json:"generations"`
	Seed                   int64    `json:"seed"`
	Workers                int      `json:"workers"`
	InitialCapital         float64  `json:"initial_capital"`
	Leverage               float64  `json:"leverage"`
	InputMode              string   `json:"input_mode"`
	WindowSize             int      `json:"window_size,omitempty"`
	Indicators             []string `json:"indicators,omitempty"`
	Risk                   string   `json:"risk"`
	Exit                   string   `json:"exit,omitempty"`
	Trend                  string   `json:"trend,omitempty"`
	Pyramiding             bool     `json:"pyramiding"`
	FitnessMode            string   `json:"fitness_mode"`
	CompatibilityThreshold float64  `json:"compatibility_threshold"`
	StaleLimit             int      `json:"stale_limit"`
	MaxSpecies             int      `json:"max_species"`
	CloneRate              float64  `json:"clone_rate"`
	Activation             string   `json:"activation"`
}

// ValidationReport is the best genome replayed over the hold-out window.
type ValidationReport struct {
	GenomeID    string         `json:"genome_id"`
	Candles     int            `json:"candles"`
	Fitness     float64        `json:"fitness"`
	DeathReason string         `json:"death_reason,omitempty"`
	Stats       map[string]any `json:"stats"`
	Equity      EquitySummary  `json:"equity"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	BestByGeneration      []float64                     `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	SpeciesHistory        []model.SpeciesGeneration     `json:"species_history,omitempty"`
	FinalBestFitness      float64                       `json:"final_best_fitness"`
	BestGenome            model.GenomeRecord            `json:"best_genome"`
	TopGenomes            []model.TopGenomeRecord       `json:"top_genomes"`
	AgentReport           []AgentReportRow              `json:"-"`
	Validation            *ValidationReport             `json:"validation,omitempty"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	Pair             string  `json:"pair"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	Workers          int     `json:"workers"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	BestGenomeID     string  `json:"best_genome_id"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	files := []struct {
		name  string
		value any
	}{
		{"config.json", artifacts.Config},
		{"fitness_history.json", map[string]any{"best_by_generation": artifacts.BestByGeneration, "final_best_fitness": artifacts.FinalBestFitness}},
		{"generation_diagnostics.json", artifacts.GenerationDiagnostics},
		{"species_history.json", artifacts.SpeciesHistory},
		{"best_genome.json", artifacts.BestGenome},
		{"top_genomes.json", artifacts.TopGenomes},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(runDir, f.name), f.value); err != nil {
			return "", err
		}
	}
	if artifacts.Validation != nil {
		if err := writeJSON(filepath.Join(runDir, "validation.json"), artifacts.Validation); err != nil {
			return "", err
		}
	}
	if len(artifacts.AgentReport) > 0 {
		if err := WriteAgentReportCSV(filepath.Join(runDir, "agent_report.csv"), artifacts.AgentReport); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}
	// Later appended entries win ties.
	order := make(map[string]int, len(entries))
	for i, e := range entries {
		order[e.RunID] = i
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAtUTC == entries[j].CreatedAtUTC {
			return order[entries[i].RunID] > order[entries[j].RunID]
		}
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

// readRunIndex returns entries in append order.
func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries := []RunIndexEntry{}
	if _, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ExportRunArtifacts copies a run directory's known files into outDir.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	required := []string{"config.json", "fitness_history.json", "generation_diagnostics.json", "species_history.json", "best_genome.json", "top_genomes.json"}
	for _, file := range required {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{"validation.json", "agent_report.csv"} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func ReadTopGenomes(baseDir, runID string) ([]model.TopGenomeRecord, bool, error) {
	var top []model.TopGenomeRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, "top_genomes.json"), &top)
	return top, ok, err
}

func ReadValidation(baseDir, runID string) (ValidationReport, bool, error) {
	var report ValidationReport
	ok, err := readJSON(filepath.Join(baseDir, runID, "validation.json"), &report)
	return report, ok, err
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
