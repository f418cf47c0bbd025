package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Candle is one OHLCV bar. Times are unix milliseconds.
type Candle struct {
	Symbol    string  `json:"symbol" csv:"symbol"`
	Open      float64 `json:"open" csv:"open"`
	High      float64 `json:"high" csv:"high"`
	Low       float64 `json:"low" csv:"low"`
	Close     float64 `json:"close" csv:"close"`
	Volume    float64 `json:"volume" csv:"volume"`
	OpenTime  int64   `json:"open_time" csv:"open_time"`
	CloseTime int64   `json:"close_time" csv:"close_time"`
}

// GenomeRecord is the portable form of a genome. Genes reference nodes by id.
type GenomeRecord struct {
	VersionedRecord
	ID         string       `json:"id"`
	Inputs     int          `json:"inputs"`
	Outputs    int          `json:"outputs"`
	Layers     int          `json:"layers"`
	BiasNodeID int          `json:"bias_node_id"`
	NextNodeID int          `json:"next_node_id"`
	Activation string       `json:"activation,omitempty"`
	Nodes      []NodeRecord `json:"nodes"`
	Genes      []GeneRecord `json:"genes"`
}

type NodeRecord struct {
	ID    int `json:"id"`
	Layer int `json:"layer"`
}

type GeneRecord struct {
	From         int     `json:"from"`
	To           int     `json:"to"`
	Weight       float64 `json:"weight"`
	Enabled      bool    `json:"enabled"`
	InnovationNo int     `json:"innovation_no"`
}

// PopulationRecord is a generation snapshot; genomes are stored separately.
type PopulationRecord struct {
	VersionedRecord
	ID             string   `json:"id"`
	RunID          string   `json:"run_id"`
	Generation     int      `json:"generation"`
	GenomeIDs      []string `json:"genome_ids"`
	NextInnovation int      `json:"next_innovation"`
	BestFitness    float64  `json:"best_fitness"`
	BestGenomeID   string   `json:"best_genome_id,omitempty"`

	Innovations []InnovationRecord `json:"innovations,omitempty"`
}

// InnovationRecord is one innovation ledger entry: the connection, its number
// and the sorted innovation set of the genome that first produced it.
type InnovationRecord struct {
	From        int   `json:"from"`
	To          int   `json:"to"`
	Innovation  int   `json:"innovation"`
	Innovations []int `json:"innovations"`
}

type GenerationDiagnostics struct {
	Generation     int     `json:"generation"`
	BestFitness    float64 `json:"best_fitness"`
	MeanFitness    float64 `json:"mean_fitness"`
	MinFitness     float64 `json:"min_fitness"`
	SpeciesCount   int     `json:"species_count"`
	StaleRemoved   int     `json:"stale_removed"`
	WeakRemoved    int     `json:"weak_removed"`
	Extinct        int     `json:"extinct"`
	ReplayTicks    int     `json:"replay_ticks"`
	MeanLifespan   float64 `json:"mean_lifespan"`
	MeanTrades     float64 `json:"mean_trades"`
	BestGenomeID   string  `json:"best_genome_id"`
	BestGenomeSize int     `json:"best_genome_size"`
}

type SpeciesGeneration struct {
	Generation     int              `json:"generation"`
	Species        []SpeciesMetrics `json:"species"`
	NewSpecies     []int            `json:"new_species,omitempty"`
	ExtinctSpecies []int            `json:"extinct_species,omitempty"`
}

type SpeciesMetrics struct {
	ID          int     `json:"id"`
	Size        int     `json:"size"`
	MeanFitness float64 `json:"mean_fitness"`
	BestFitness float64 `json:"best_fitness"`
	Staleness   int     `json:"staleness"`
}

type TopGenomeRecord struct {
	VersionedRecord
	Rank    int          `json:"rank"`
	Fitness float64      `json:"fitness"`
	Genome  GenomeRecord `json:"genome"`
}

// RunRecord summarizes one training run for listing.
type RunRecord struct {
	VersionedRecord
	ID               string  `json:"id"`
	Pair             string  `json:"pair"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	InitialCapital   float64 `json:"initial_capital"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	BestGenomeID     string  `json:"best_genome_id"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}
