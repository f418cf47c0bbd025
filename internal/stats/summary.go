package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"neattrade/internal/agent"
)

// Summary describes a best-fitness series across generations.
type Summary struct {
	Generations int     `json:"generations"`
	InitialBest float64 `json:"initial_best"`
	FinalBest   float64 `json:"final_best"`
	BestMean    float64 `json:"best_mean"`
	BestStd     float64 `json:"best_std"`
	BestMax     float64 `json:"best_max"`
	BestMin     float64 `json:"best_min"`
	Improvement float64 `json:"improvement"`
}

func Summarize(bestByGeneration []float64) Summary {
	if len(bestByGeneration) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(bestByGeneration, nil)
	if math.IsNaN(std) {
		std = 0
	}
	first := bestByGeneration[0]
	last := bestByGeneration[len(bestByGeneration)-1]
	return Summary{
		Generations: len(bestByGeneration),
		InitialBest: first,
		FinalBest:   last,
		BestMean:    mean,
		BestStd:     std,
		BestMax:     floats.Max(bestByGeneration),
		BestMin:     floats.Min(bestByGeneration),
		Improvement: last - first,
	}
}

// EquitySummary describes one agent's margin-balance curve.
type EquitySummary struct {
	Points      int     `json:"points"`
	TotalReturn float64 `json:"total_return"`
	MeanReturn  float64 `json:"mean_return"`
	Volatility  float64 `json:"volatility"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

func SummarizeEquity(equity []float64) EquitySummary {
	out := EquitySummary{Points: len(equity)}
	if len(equity) < 2 {
		return out
	}
	if equity[0] > 0 {
		out.TotalReturn = (equity[len(equity)-1] - equity[0]) / equity[0]
	}
	returns := agent.Returns(equity)
	if len(returns) >= 2 {
		mean, std := stat.MeanStdDev(returns, nil)
		out.MeanReturn = mean
		if !math.IsNaN(std) {
			out.Volatility = std
		}
		if std > 0 {
			out.Sharpe = mean / std
		}
	}

	peak := equity[0]
	for _, v := range equity {
		peak = math.Max(peak, v)
		if peak > 0 {
			out.MaxDrawdown = math.Max(out.MaxDrawdown, (peak-v)/peak)
		}
	}
	return out
}
