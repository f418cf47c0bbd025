package agent

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"neattrade/internal/account"
)

// TradingStats is the per-agent ledger. A trade is any fill that realized
// profit or loss.
type TradingStats struct {
	TotalTrades         int     `json:"total_trades" structs:"total_trades"`
	WinningTrades       int     `json:"winning_trades" structs:"winning_trades"`
	LosingTrades        int     `json:"losing_trades" structs:"losing_trades"`
	Entries             int     `json:"entries" structs:"entries"`
	TotalProfit         float64 `json:"total_profit" structs:"total_profit"`
	TotalLoss           float64 `json:"total_loss" structs:"total_loss"`
	TotalFees           float64 `json:"total_fees" structs:"total_fees"`
	PeakBalance         float64 `json:"peak_balance" structs:"peak_balance"`
	MaxRelativeDrawdown float64 `json:"max_relative_drawdown" structs:"max_relative_drawdown"`
	Lifespan            int     `json:"lifespan" structs:"lifespan"`
	Liquidations        int     `json:"liquidations" structs:"liquidations"`
	RejectedOrders      int     `json:"rejected_orders" structs:"rejected_orders"`
	FinalBalance        float64 `json:"final_balance" structs:"final_balance"`

	equity []float64
}

func newTradingStats(initial float64) TradingStats {
	return TradingStats{PeakBalance: initial, FinalBalance: initial}
}

// Record books one fill.
func (s *TradingStats) Record(fill account.Fill) {
	s.TotalFees += fill.Fee
	if fill.Quantity > fill.ClosedQuantity {
		s.Entries++
	}
	if !fill.Reducing() {
		return
	}
	s.TotalTrades++
	if fill.RealizedProfit > 0 {
		s.WinningTrades++
		s.TotalProfit += fill.RealizedProfit
		return
	}
	s.LosingTrades++
	s.TotalLoss -= fill.RealizedProfit
}

// Observe tracks the equity curve, its peak and the worst relative drawdown.
func (s *TradingStats) Observe(balance float64) {
	s.equity = append(s.equity, balance)
	if balance > s.PeakBalance {
		s.PeakBalance = balance
	}
	if s.PeakBalance <= 0 {
		return
	}
	drawdown := (s.PeakBalance - balance) / s.PeakBalance
	if drawdown > s.MaxRelativeDrawdown {
		s.MaxRelativeDrawdown = drawdown
	}
}

// WinRate is undefined until a trade has closed.
func (s TradingStats) WinRate() (float64, bool) {
	if s.TotalTrades == 0 {
		return 0, false
	}
	return float64(s.WinningTrades) / float64(s.TotalTrades), true
}

// ProfitRatio is gross profit over gross loss, undefined without losses.
func (s TradingStats) ProfitRatio() (float64, bool) {
	if s.TotalLoss == 0 {
		return 0, false
	}
	return s.TotalProfit / s.TotalLoss, true
}

// NetProfit is realized profit after fees.
func (s TradingStats) NetProfit() float64 {
	return s.TotalProfit - s.TotalLoss - s.TotalFees
}

// Sharpe is the mean over the standard deviation of per-tick equity returns.
func (s TradingStats) Sharpe() (float64, bool) {
	returns := Returns(s.equity)
	if len(returns) < 2 {
		return 0, false
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0, false
	}
	return mean / std, true
}

// Equity returns a copy of the observed equity curve.
func (s TradingStats) Equity() []float64 {
	return append([]float64(nil), s.equity...)
}

// Returns converts an equity curve into simple returns, skipping
// non-positive bases.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			continue
		}
		out = append(out, (equity[i]-equity[i-1])/equity[i-1])
	}
	return out
}
