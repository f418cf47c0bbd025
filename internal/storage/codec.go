package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"neattrade/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Current is the version stamp written with every new record.
func Current() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeGenome(g model.GenomeRecord) ([]byte, error) {
	g.VersionedRecord = Current()
	return json.Marshal(g)
}

func DecodeGenome(data []byte) (model.GenomeRecord, error) {
	var genome model.GenomeRecord
	if err := json.Unmarshal(data, &genome); err != nil {
		return model.GenomeRecord{}, err
	}
	if err := checkVersion(genome.VersionedRecord); err != nil {
		return model.GenomeRecord{}, err
	}
	return genome, nil
}

func EncodePopulation(p model.PopulationRecord) ([]byte, error) {
	p.VersionedRecord = Current()
	return json.Marshal(p)
}

func DecodePopulation(data []byte) (model.PopulationRecord, error) {
	var population model.PopulationRecord
	if err := json.Unmarshal(data, &population); err != nil {
		return model.PopulationRecord{}, err
	}
	if err := checkVersion(population.VersionedRecord); err != nil {
		return model.PopulationRecord{}, err
	}
	return population, nil
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	r.VersionedRecord = Current()
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeTopGenomes(top []model.TopGenomeRecord) ([]byte, error) {
	stamped := make([]model.TopGenomeRecord, len(top))
	for i, item := range top {
		item.VersionedRecord = Current()
		item.Genome.VersionedRecord = Current()
		stamped[i] = item
	}
	return json.Marshal(stamped)
}

func DecodeTopGenomes(data []byte) ([]model.TopGenomeRecord, error) {
	var top []model.TopGenomeRecord
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	for i, item := range top {
		if err := checkVersion(item.VersionedRecord); err != nil {
			return nil, fmt.Errorf("top genome %d: %w", i, err)
		}
	}
	return top, nil
}

// encodeJSON and decodeJSON carry the unversioned per-run series.
func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON[T any](data []byte) (T, error) {
	var out T
	err := json.Unmarshal(data, &out)
	return out, err
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
