package marketdata

import (
	"fmt"
	"math"
	"time"

	"neattrade/internal/model"
)

const (
	ShapeWave      = "wave"
	ShapeUptrend   = "uptrend"
	ShapeDowntrend = "downtrend"
)

// SyntheticConfig describes a deterministic candle series.
type SyntheticConfig struct {
	Symbol   string
	Shape    string
	Count    int
	Start    float64
	Interval time.Duration
	// StartTime is the open time of the first candle.
	StartTime time.Time
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Symbol:    "BTCUSDT",
		Shape:     ShapeWave,
		Count:     512,
		Start:     100,
		Interval:  time.Hour,
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Synthetic builds candles whose open is the previous close. Uptrend closes
// rise strictly every step; wave alternates regimes around a slow drift.
func Synthetic(cfg SyntheticConfig) ([]model.Candle, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("%w: synthetic count must be > 0", ErrNoCandles)
	}
	if cfg.Start <= 0 {
		cfg.Start = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = DefaultSyntheticConfig().StartTime
	}

	var price func(step int) float64
	switch cfg.Shape {
	case "", ShapeWave:
		price = func(step int) float64 { return cfg.Start * waveFactor(step) }
	case ShapeUptrend:
		price = func(step int) float64 { return cfg.Start * (1 + 0.004*float64(step)) }
	case ShapeDowntrend:
		price = func(step int) float64 { return cfg.Start / (1 + 0.004*float64(step)) }
	default:
		return nil, fmt.Errorf("%w: unknown synthetic shape %q", ErrInvalidCandle, cfg.Shape)
	}

	out := make([]model.Candle, cfg.Count)
	prevClose := price(0)
	for i := range out {
		closePrice := price(i + 1)
		openPrice := prevClose
		spread := 0.001 * math.Max(openPrice, closePrice)
		openAt := cfg.StartTime.Add(time.Duration(i) * cfg.Interval)
		out[i] = model.Candle{
			Symbol:    cfg.Symbol,
			Open:      openPrice,
			High:      math.Max(openPrice, closePrice) + spread,
			Low:       math.Min(openPrice, closePrice) - spread,
			Close:     closePrice,
			Volume:    1000 + 250*math.Abs(math.Sin(float64(i)*0.3)),
			OpenTime:  openAt.UnixMilli(),
			CloseTime: openAt.Add(cfg.Interval).UnixMilli() - 1,
		}
		prevClose = closePrice
	}
	return out, nil
}

// waveFactor is a drifting multi-cycle path with three regimes.
func waveFactor(step int) float64 {
	t := float64(step)
	base := 1 + 0.0006*t
	cycle := 0.035*math.Sin(t*0.11) + 0.012*math.Sin(t*0.37+0.9)
	regime := 0.0
	switch {
	case step >= 80 && step < 160:
		regime = 0.0008 * float64(step-80)
	case step >= 160 && step < 260:
		regime = 0.064 - 0.0009*float64(step-160)
	case step >= 260:
		regime = -0.026 + 0.00035*float64(step-260)
	}
	return math.Max(base+cycle+regime, 0.2)
}
