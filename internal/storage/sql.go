package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"neattrade/internal/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	artifactFitnessHistory = "fitness_history"
	artifactDiagnostics    = "generation_diagnostics"
	artifactSpeciesHistory = "species_history"
	artifactTopGenomes     = "top_genomes"
)

// SQLStore keeps versioned JSON payloads in a SQL database. The same schema
// serves sqlite and postgres; placeholders are rebound per driver.
type SQLStore struct {
	driver string
	dsn    string

	mu sync.RWMutex
	db *sqlx.DB
}

func NewSQLStore(driver, dsn string) *SQLStore {
	return &SQLStore{driver: driver, dsn: dsn}
}

type recordRow struct {
	ID            string `db:"id"`
	SchemaVersion int    `db:"schema_version"`
	CodecVersion  int    `db:"codec_version"`
	Payload       string `db:"payload"`
}

type runRow struct {
	ID        string `db:"id"`
	CreatedAt string `db:"created_at"`
	Payload   string `db:"payload"`
}

type artifactRow struct {
	RunID   string `db:"run_id"`
	Kind    string `db:"kind"`
	Payload string `db:"payload"`
}

func (s *SQLStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return fmt.Errorf("%s dsn is required", s.driver)
	}
	if s.db != nil {
		return nil
	}
	switch s.driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported sql driver: %s", s.driver)
	}

	db, err := sqlx.Open(s.driver, s.dsn)
	if err != nil {
		return err
	}
	if s.driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLStore) getDB() (*sqlx.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS genomes (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS populations (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_artifacts (
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (run_id, kind)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) upsertRecord(ctx context.Context, table string, row recordRow) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExecContext(ctx, `
		INSERT INTO `+table+` (id, schema_version, codec_version, payload)
		VALUES (:id, :schema_version, :codec_version, :payload)
		ON CONFLICT (id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, row)
	return err
}

func (s *SQLStore) getPayload(ctx context.Context, query string, args ...any) (string, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return "", false, err
	}
	var payload string
	if err := db.GetContext(ctx, &payload, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return payload, true, nil
}

func (s *SQLStore) SaveGenome(ctx context.Context, genome model.GenomeRecord) error {
	payload, err := EncodeGenome(genome)
	if err != nil {
		return err
	}
	return s.upsertRecord(ctx, "genomes", recordRow{
		ID:            genome.ID,
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
		Payload:       string(payload),
	})
}

func (s *SQLStore) GetGenome(ctx context.Context, id string) (model.GenomeRecord, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM genomes WHERE id = ?`, id)
	if err != nil || !ok {
		return model.GenomeRecord{}, false, err
	}
	genome, err := DecodeGenome([]byte(payload))
	if err != nil {
		return model.GenomeRecord{}, false, fmt.Errorf("decode genome %s: %w", id, err)
	}
	return genome, true, nil
}

func (s *SQLStore) SavePopulation(ctx context.Context, population model.PopulationRecord) error {
	payload, err := EncodePopulation(population)
	if err != nil {
		return err
	}
	return s.upsertRecord(ctx, "populations", recordRow{
		ID:            population.ID,
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
		Payload:       string(payload),
	})
}

func (s *SQLStore) GetPopulation(ctx context.Context, id string) (model.PopulationRecord, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM populations WHERE id = ?`, id)
	if err != nil || !ok {
		return model.PopulationRecord{}, false, err
	}
	population, err := DecodePopulation([]byte(payload))
	if err != nil {
		return model.PopulationRecord{}, false, fmt.Errorf("decode population %s: %w", id, err)
	}
	return population, true, nil
}

func (s *SQLStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	_, err = db.NamedExecContext(ctx, `
		INSERT INTO runs (id, created_at, payload)
		VALUES (:id, :created_at, :payload)
		ON CONFLICT (id) DO UPDATE SET
			created_at = excluded.created_at,
			payload = excluded.payload
	`, runRow{ID: run.ID, CreatedAt: run.CreatedAtUTC, Payload: string(payload)})
	return err
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (model.RunRecord, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM runs WHERE id = ?`, id)
	if err != nil || !ok {
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun([]byte(payload))
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var rows []runRow
	if err := db.SelectContext(ctx, &rows, `SELECT id, created_at, payload FROM runs ORDER BY created_at DESC, id ASC`); err != nil {
		return nil, err
	}
	out := make([]model.RunRecord, 0, len(rows))
	for _, row := range rows {
		run, err := DecodeRun([]byte(row.Payload))
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", row.ID, err)
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *SQLStore) saveArtifact(ctx context.Context, runID, kind string, v any) error {
	payload, err := encodeJSON(v)
	if err != nil {
		return err
	}
	return s.putArtifact(ctx, runID, kind, payload)
}

func (s *SQLStore) putArtifact(ctx context.Context, runID, kind string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExecContext(ctx, `
		INSERT INTO run_artifacts (run_id, kind, payload)
		VALUES (:run_id, :kind, :payload)
		ON CONFLICT (run_id, kind) DO UPDATE SET
			payload = excluded.payload
	`, artifactRow{RunID: runID, Kind: kind, Payload: string(payload)})
	return err
}

func (s *SQLStore) artifact(ctx context.Context, runID, kind string) ([]byte, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM run_artifacts WHERE run_id = ? AND kind = ?`, runID, kind)
	if err != nil || !ok {
		return nil, false, err
	}
	return []byte(payload), true, nil
}

func (s *SQLStore) SaveFitnessHistory(ctx context.Context, runID string, history []float64) error {
	return s.saveArtifact(ctx, runID, artifactFitnessHistory, history)
}

func (s *SQLStore) GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error) {
	data, ok, err := s.artifact(ctx, runID, artifactFitnessHistory)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := decodeJSON[[]float64](data)
	if err != nil {
		return nil, false, fmt.Errorf("decode fitness history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *SQLStore) SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	return s.saveArtifact(ctx, runID, artifactDiagnostics, diagnostics)
}

func (s *SQLStore) GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	data, ok, err := s.artifact(ctx, runID, artifactDiagnostics)
	if err != nil || !ok {
		return nil, false, err
	}
	diagnostics, err := decodeJSON[[]model.GenerationDiagnostics](data)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *SQLStore) SaveSpeciesHistory(ctx context.Context, runID string, history []model.SpeciesGeneration) error {
	return s.saveArtifact(ctx, runID, artifactSpeciesHistory, history)
}

func (s *SQLStore) GetSpeciesHistory(ctx context.Context, runID string) ([]model.SpeciesGeneration, bool, error) {
	data, ok, err := s.artifact(ctx, runID, artifactSpeciesHistory)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := decodeJSON[[]model.SpeciesGeneration](data)
	if err != nil {
		return nil, false, fmt.Errorf("decode species history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *SQLStore) SaveTopGenomes(ctx context.Context, runID string, top []model.TopGenomeRecord) error {
	payload, err := EncodeTopGenomes(top)
	if err != nil {
		return err
	}
	return s.putArtifact(ctx, runID, artifactTopGenomes, payload)
}

func (s *SQLStore) GetTopGenomes(ctx context.Context, runID string) ([]model.TopGenomeRecord, bool, error) {
	data, ok, err := s.artifact(ctx, runID, artifactTopGenomes)
	if err != nil || !ok {
		return nil, false, err
	}
	top, err := DecodeTopGenomes(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode top genomes %s: %w", runID, err)
	}
	return top, true, nil
}
