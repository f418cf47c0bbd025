package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidStrategy = errors.New("invalid strategy parameters")
)

// RiskConfig is the JSON form of a RiskManager.
type RiskConfig struct {
	Kind        string  `json:"kind"`
	Percent     float64 `json:"percent,omitempty"`
	RiskPercent float64 `json:"risk_percent,omitempty"`
}

func (c RiskConfig) Build() (RiskManager, error) {
	switch c.Kind {
	case "", "percent_of_balance":
		pct := c.Percent
		if pct == 0 {
			pct = 0.1
		}
		if pct < 0 || pct > 1 {
			return nil, fmt.Errorf("%w: percent=%v", ErrInvalidStrategy, c.Percent)
		}
		return PercentOfBalance{Percent: pct}, nil
	case "stop_distance":
		if c.RiskPercent <= 0 || c.RiskPercent > 1 {
			return nil, fmt.Errorf("%w: risk_percent=%v", ErrInvalidStrategy, c.RiskPercent)
		}
		return StopDistance{RiskPercent: c.RiskPercent}, nil
	default:
		return nil, fmt.Errorf("%w: risk %q", ErrUnknownStrategy, c.Kind)
	}
}

// ExitConfig is the JSON form of an ExitStrategy. An empty kind means no
// exit strategy: the network decides when to close.
type ExitConfig struct {
	Kind         string  `json:"kind,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	Period       int     `json:"period,omitempty"`
	Activation   float64 `json:"activation,omitempty"`
	CallbackRate float64 `json:"callback_rate,omitempty"`
}

func (c ExitConfig) Build() (ExitStrategy, error) {
	switch c.Kind {
	case "", "none":
		return nil, nil
	case "fixed_percent":
		if c.TakeProfit < 0 || c.StopLoss < 0 || (c.TakeProfit == 0 && c.StopLoss == 0) {
			return nil, fmt.Errorf("%w: fixed_percent needs take_profit or stop_loss", ErrInvalidStrategy)
		}
		return FixedPercent{TakeProfit: c.TakeProfit, StopLoss: c.StopLoss}, nil
	case "atr_multiple":
		if c.Period <= 1 {
			return nil, fmt.Errorf("%w: atr period=%d", ErrInvalidStrategy, c.Period)
		}
		return ATRMultiple{Period: c.Period, TakeProfit: c.TakeProfit, StopLoss: c.StopLoss}, nil
	case "trailing":
		if c.CallbackRate <= 0 || c.CallbackRate >= 1 {
			return nil, fmt.Errorf("%w: callback_rate=%v", ErrInvalidStrategy, c.CallbackRate)
		}
		return Trailing{Activation: c.Activation, CallbackRate: c.CallbackRate, StopLoss: c.StopLoss}, nil
	default:
		return nil, fmt.Errorf("%w: exit %q", ErrUnknownStrategy, c.Kind)
	}
}

// TrendConfig is the JSON form of a TrendFilter. An empty kind disables it.
type TrendConfig struct {
	Kind   string `json:"kind,omitempty"`
	Fast   int    `json:"fast,omitempty"`
	Slow   int    `json:"slow,omitempty"`
	Period int    `json:"period,omitempty"`
}

func (c TrendConfig) Build() (TrendFilter, error) {
	switch c.Kind {
	case "", "none":
		return nil, nil
	case "ema_cross":
		if c.Fast <= 1 || c.Slow <= c.Fast {
			return nil, fmt.Errorf("%w: ema_cross fast=%d slow=%d", ErrInvalidStrategy, c.Fast, c.Slow)
		}
		return EMACross{Fast: c.Fast, Slow: c.Slow}, nil
	case "price_above_ema":
		if c.Period <= 1 {
			return nil, fmt.Errorf("%w: ema period=%d", ErrInvalidStrategy, c.Period)
		}
		return PriceAboveEMA{Period: c.Period}, nil
	default:
		return nil, fmt.Errorf("%w: trend %q", ErrUnknownStrategy, c.Kind)
	}
}
