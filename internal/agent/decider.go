package agent

import (
	"errors"
	"fmt"
	"sync"

	"neattrade/internal/genome"
	"neattrade/internal/indicators"
	"neattrade/internal/model"
)

var ErrNotEnoughHistory = errors.New("not enough candles to decide")

// Decision is the raw signal set plus its interpretation. Close is only
// produced by networks trained without an exit strategy.
type Decision struct {
	OpenLong  float64 `json:"open_long"`
	OpenShort float64 `json:"open_short"`
	Close     float64 `json:"close"`
	Action    Action  `json:"action"`
}

// Decider turns recent candles into a decision. Live collaborators poll it
// once per closed candle.
type Decider interface {
	Decide(candles []model.Candle, holding bool) (Decision, error)
}

// GenomeDecider evaluates a loaded genome with the look settings it was
// trained with.
type GenomeDecider struct {
	mu     sync.Mutex
	genome *genome.Genome
	cfg    Config
	source func(model.Candle) float64
}

func NewDecider(g *genome.Genome, cfg Config) (*GenomeDecider, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: genome is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if g.Inputs() != cfg.Inputs() || g.Outputs() != cfg.Outputs() {
		return nil, fmt.Errorf("%w: genome %dx%d, config %dx%d", ErrShapeMismatch, g.Inputs(), g.Outputs(), cfg.Inputs(), cfg.Outputs())
	}
	source, err := priceSource(cfg.PriceSource)
	if err != nil && cfg.InputMode == InputPriceWindow {
		return nil, err
	}
	return &GenomeDecider{genome: g.Clone(), cfg: cfg, source: source}, nil
}

// Decide evaluates the last candle. Indicator rows are scaled over the same
// trailing window as in training, so passing the training history up to t
// reproduces the replay inputs for t.
func (d *GenomeDecider) Decide(candles []model.Candle, holding bool) (Decision, error) {
	if len(candles) == 0 {
		return Decision{}, ErrNotEnoughHistory
	}
	t := len(candles) - 1

	var matrix *indicators.Matrix
	if d.cfg.InputMode == InputIndicators {
		m, err := indicators.Compute(candles, d.cfg.Indicators, d.cfg.HistoryWindow)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrNotEnoughHistory, err)
		}
		matrix = m
	}
	inputs, ok := look(d.cfg, d.source, candles, t, matrix, holding)
	if !ok {
		return Decision{}, ErrNotEnoughHistory
	}

	d.mu.Lock()
	outputs, err := d.genome.FeedForward(inputs)
	d.mu.Unlock()
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{Action: interpret(outputs, d.cfg.SignalThreshold)}
	decision.OpenLong = outputs[0]
	if len(outputs) > 1 {
		decision.OpenShort = outputs[1]
	}
	if len(outputs) > 2 {
		decision.Close = outputs[2]
	}
	return decision, nil
}
