package evo

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"neattrade/internal/genome"
	"neattrade/internal/nn"
)

var (
	ErrInvalidConfig = errors.New("invalid evolution config")
	ErrNoCandles     = errors.New("replay needs at least two candles")
)

// Config holds the speciation and reproduction parameters of a population.
type Config struct {
	PopulationSize int

	ExcessCoefficient      float64
	WeightDiffCoefficient  float64
	CompatibilityThreshold float64
	StaleLimit             int
	// MaxSpecies triggers mass extinction of the weakest species beyond the
	// cap. Zero disables it.
	MaxSpecies int
	CloneRate  float64

	Mutation   genome.MutationRates
	Activation string

	Workers int
	Seed    int64

	Logger *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		PopulationSize:         100,
		ExcessCoefficient:      1,
		WeightDiffCoefficient:  0.5,
		CompatibilityThreshold: 3,
		StaleLimit:             15,
		CloneRate:              0.25,
		Mutation:               genome.DefaultMutationRates(),
		Activation:             nn.DefaultActivation,
		Workers:                4,
		Seed:                   1,
	}
}

func (c Config) Validate() error {
	if c.PopulationSize <= 0 {
		return fmt.Errorf("%w: population size must be > 0", ErrInvalidConfig)
	}
	if c.CompatibilityThreshold <= 0 {
		return fmt.Errorf("%w: compatibility threshold must be > 0", ErrInvalidConfig)
	}
	if c.ExcessCoefficient < 0 || c.WeightDiffCoefficient < 0 {
		return fmt.Errorf("%w: distance coefficients must be >= 0", ErrInvalidConfig)
	}
	if c.StaleLimit <= 0 {
		return fmt.Errorf("%w: stale limit must be > 0", ErrInvalidConfig)
	}
	if c.MaxSpecies < 0 {
		return fmt.Errorf("%w: max species must be >= 0", ErrInvalidConfig)
	}
	if c.CloneRate < 0 || c.CloneRate > 1 {
		return fmt.Errorf("%w: clone rate must be in [0,1]", ErrInvalidConfig)
	}
	if _, err := nn.GetActivation(c.Activation); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) workers(jobs int) int {
	n := c.Workers
	if n <= 0 {
		n = 1
	}
	if n > jobs {
		n = jobs
	}
	if n < 1 {
		n = 1
	}
	return n
}
