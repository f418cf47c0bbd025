package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"neattrade/internal/model"
)

// SaveGenomeFile writes a versioned genome record as indented JSON.
func SaveGenomeFile(path string, genome model.GenomeRecord) error {
	genome.VersionedRecord = Current()
	data, err := json.MarshalIndent(genome, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadGenomeFile reports ok == false when there is no usable saved genome:
// a missing file, malformed JSON or an unknown version.
func LoadGenomeFile(path string) (model.GenomeRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.GenomeRecord{}, false
	}
	genome, err := DecodeGenome(data)
	if err != nil {
		return model.GenomeRecord{}, false
	}
	return genome, true
}
