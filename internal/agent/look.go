package agent

import (
	"fmt"

	"neattrade/internal/indicators"
	"neattrade/internal/model"
	"neattrade/internal/nn"
)

func priceSource(name string) (func(model.Candle) float64, error) {
	switch name {
	case "", "close":
		return func(c model.Candle) float64 { return c.Close }, nil
	case "open":
		return func(c model.Candle) float64 { return c.Open }, nil
	case "high":
		return func(c model.Candle) float64 { return c.High }, nil
	case "low":
		return func(c model.Candle) float64 { return c.Low }, nil
	case "hl2":
		return func(c model.Candle) float64 { return (c.High + c.Low) / 2 }, nil
	case "ohlc4":
		return func(c model.Candle) float64 { return (c.Open + c.High + c.Low + c.Close) / 4 }, nil
	default:
		return nil, fmt.Errorf("%w: unknown price source %q", ErrInvalidConfig, name)
	}
}

// look builds the input vector for candle t. It reports false while the
// window or indicators are still warming up.
func look(cfg Config, source func(model.Candle) float64, candles []model.Candle, t int, matrix *indicators.Matrix, holding bool) ([]float64, bool) {
	var features []float64
	switch cfg.InputMode {
	case InputIndicators:
		if matrix == nil {
			return nil, false
		}
		row, ok := matrix.Row(t)
		if !ok {
			return nil, false
		}
		features = row
	default:
		start := t - cfg.WindowSize + 1
		if start < 0 || t >= len(candles) {
			return nil, false
		}
		window := make([]float64, cfg.WindowSize)
		for i := range window {
			window[i] = source(candles[start+i])
		}
		features = nn.MinMaxNormalize(window)
	}

	if cfg.Exit != nil {
		return features, true
	}
	out := make([]float64, 0, len(features)+1)
	flag := 0.0
	if holding {
		flag = 1
	}
	out = append(out, flag)
	out = append(out, features...)
	return out, true
}

// Action is the interpreted network output.
type Action int

const (
	Hold Action = iota
	OpenLong
	OpenShort
	Close
)

func (a Action) String() string {
	switch a {
	case OpenLong:
		return "open_long"
	case OpenShort:
		return "open_short"
	case Close:
		return "close"
	default:
		return "hold"
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// interpret picks the strongest signal and requires it to exceed threshold.
// Ties go to the lower index.
func interpret(outputs []float64, threshold float64) Action {
	if len(outputs) == 0 {
		return Hold
	}
	best := 0
	for i := 1; i < len(outputs); i++ {
		if outputs[i] > outputs[best] {
			best = i
		}
	}
	if outputs[best] <= threshold {
		return Hold
	}
	switch best {
	case 0:
		return OpenLong
	case 1:
		return OpenShort
	case 2:
		return Close
	}
	return Hold
}

func tail(candles []model.Candle, t, n int) []model.Candle {
	end := t + 1
	if end > len(candles) {
		end = len(candles)
	}
	start := 0
	if n > 0 && end-n > 0 {
		start = end - n
	}
	return candles[start:end]
}
