package strategy

import (
	"neattrade/internal/indicators"
	"neattrade/internal/model"
)

// Exits are absolute price levels for a position. Zero means unset. A
// trailing exit is described by its activation price and callback rate.
type Exits struct {
	TakeProfit         float64 `json:"take_profit,omitempty"`
	StopLoss           float64 `json:"stop_loss,omitempty"`
	TrailingActivation float64 `json:"trailing_activation,omitempty"`
	CallbackRate       float64 `json:"callback_rate,omitempty"`
}

func (e Exits) Trailing() bool {
	return e.TrailingActivation > 0 && e.CallbackRate > 0
}

// ExitStrategy places exits for a position entered at entry.
type ExitStrategy interface {
	Name() string
	Exits(candles []model.Candle, dir Direction, entry float64) (Exits, bool)
}

// FixedPercent exits at fixed fractional distances from entry.
type FixedPercent struct {
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

func (FixedPercent) Name() string { return "fixed_percent" }

func (f FixedPercent) Exits(_ []model.Candle, dir Direction, entry float64) (Exits, bool) {
	if entry <= 0 {
		return Exits{}, false
	}
	out := Exits{}
	d := float64(dir)
	if f.TakeProfit > 0 {
		out.TakeProfit = entry * (1 + d*f.TakeProfit)
	}
	if f.StopLoss > 0 {
		out.StopLoss = entry * (1 - d*f.StopLoss)
	}
	return out, out.TakeProfit > 0 || out.StopLoss > 0
}

// ATRMultiple exits at multiples of the latest average true range.
type ATRMultiple struct {
	Period     int     `json:"period"`
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

func (ATRMultiple) Name() string { return "atr_multiple" }

func (a ATRMultiple) Exits(candles []model.Candle, dir Direction, entry float64) (Exits, bool) {
	if entry <= 0 {
		return Exits{}, false
	}
	atr, ok := indicators.Last(candles, indicators.Spec{Name: "atr", Period: a.Period})
	if !ok || atr <= 0 {
		return Exits{}, false
	}
	out := Exits{}
	d := float64(dir)
	if a.TakeProfit > 0 {
		out.TakeProfit = entry + d*atr*a.TakeProfit
	}
	if a.StopLoss > 0 {
		out.StopLoss = entry - d*atr*a.StopLoss
		if out.StopLoss <= 0 {
			out.StopLoss = 0
		}
	}
	return out, out.TakeProfit > 0 || out.StopLoss > 0
}

// Trailing arms a trailing stop once price moves Activation in favour of the
// position, with an optional fixed stop loss behind entry.
type Trailing struct {
	Activation   float64 `json:"activation"`
	CallbackRate float64 `json:"callback_rate"`
	StopLoss     float64 `json:"stop_loss"`
}

func (Trailing) Name() string { return "trailing" }

func (t Trailing) Exits(_ []model.Candle, dir Direction, entry float64) (Exits, bool) {
	if entry <= 0 || t.CallbackRate <= 0 {
		return Exits{}, false
	}
	d := float64(dir)
	out := Exits{
		TrailingActivation: entry * (1 + d*t.Activation),
		CallbackRate:       t.CallbackRate,
	}
	if t.StopLoss > 0 {
		out.StopLoss = entry * (1 - d*t.StopLoss)
	}
	return out, true
}
