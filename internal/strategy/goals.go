package strategy

// Goals are optional survival thresholds. Nil fields are not checked.
// MaxRelativeDrawdown is a positive fraction of peak balance, e.g. 0.3.
type Goals struct {
	WinRate             *float64 `json:"win_rate,omitempty"`
	ProfitRatio         *float64 `json:"profit_ratio,omitempty"`
	MaxRelativeDrawdown *float64 `json:"max_relative_drawdown,omitempty"`
}

// Float is a convenience for filling optional goal fields.
func Float(v float64) *float64 {
	return &v
}

// DrawdownExceeded reports a drawdown worse than the goal.
func (g Goals) DrawdownExceeded(drawdown float64) bool {
	return g.MaxRelativeDrawdown != nil && drawdown > *g.MaxRelativeDrawdown
}

// WinRateMissed reports a defined win rate below the goal.
func (g Goals) WinRateMissed(rate float64, ok bool) bool {
	return ok && g.WinRate != nil && rate < *g.WinRate
}

// ProfitRatioMissed reports a defined profit ratio below the goal.
func (g Goals) ProfitRatioMissed(ratio float64, ok bool) bool {
	return ok && g.ProfitRatio != nil && ratio < *g.ProfitRatio
}
