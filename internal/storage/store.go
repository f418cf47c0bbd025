package storage

import (
	"context"
	"errors"

	"neattrade/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

// Store persists genomes, population snapshots and per-run artifacts.
type Store interface {
	Init(ctx context.Context) error
	SaveGenome(ctx context.Context, genome model.GenomeRecord) error
	GetGenome(ctx context.Context, id string) (model.GenomeRecord, bool, error)
	SavePopulation(ctx context.Context, population model.PopulationRecord) error
	GetPopulation(ctx context.Context, id string) (model.PopulationRecord, bool, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveSpeciesHistory(ctx context.Context, runID string, history []model.SpeciesGeneration) error
	GetSpeciesHistory(ctx context.Context, runID string) ([]model.SpeciesGeneration, bool, error)
	SaveTopGenomes(ctx context.Context, runID string, top []model.TopGenomeRecord) error
	GetTopGenomes(ctx context.Context, runID string) ([]model.TopGenomeRecord, bool, error)
}
