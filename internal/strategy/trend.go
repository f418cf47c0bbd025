package strategy

import (
	"neattrade/internal/indicators"
	"neattrade/internal/model"
)

// TrendFilter vetoes entries against the prevailing trend. Without enough
// history to decide, entries are blocked.
type TrendFilter interface {
	Name() string
	Allows(candles []model.Candle, dir Direction) bool
}

// EMACross allows longs while the fast EMA is above the slow one and shorts
// while it is below.
type EMACross struct {
	Fast int `json:"fast"`
	Slow int `json:"slow"`
}

func (EMACross) Name() string { return "ema_cross" }

func (f EMACross) Allows(candles []model.Candle, dir Direction) bool {
	fast, ok := indicators.Last(candles, indicators.Spec{Name: "ema", Period: f.Fast})
	if !ok {
		return false
	}
	slow, ok := indicators.Last(candles, indicators.Spec{Name: "ema", Period: f.Slow})
	if !ok {
		return false
	}
	if dir == Long {
		return fast > slow
	}
	return fast < slow
}

// PriceAboveEMA allows longs above the EMA and shorts below it.
type PriceAboveEMA struct {
	Period int `json:"period"`
}

func (PriceAboveEMA) Name() string { return "price_above_ema" }

func (f PriceAboveEMA) Allows(candles []model.Candle, dir Direction) bool {
	ema, ok := indicators.Last(candles, indicators.Spec{Name: "ema", Period: f.Period})
	if !ok || len(candles) == 0 {
		return false
	}
	last := candles[len(candles)-1].Close
	if dir == Long {
		return last > ema
	}
	return last < ema
}
