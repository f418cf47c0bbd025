package stats

import (
	"os"

	"github.com/fatih/structs"
	"github.com/gocarina/gocsv"

	"neattrade/internal/agent"
)

// AgentReportRow is one line of agent_report.csv.
type AgentReportRow struct {
	Rank                int     `csv:"rank"`
	GenomeID            string  `csv:"genome_id"`
	Fitness             float64 `csv:"fitness"`
	DeathReason         string  `csv:"death_reason"`
	TotalTrades         int     `csv:"total_trades"`
	WinningTrades       int     `csv:"winning_trades"`
	LosingTrades        int     `csv:"losing_trades"`
	WinRate             float64 `csv:"win_rate"`
	ProfitRatio         float64 `csv:"profit_ratio"`
	NetProfit           float64 `csv:"net_profit"`
	TotalFees           float64 `csv:"total_fees"`
	MaxRelativeDrawdown float64 `csv:"max_relative_drawdown"`
	Sharpe              float64 `csv:"sharpe"`
	Lifespan            int     `csv:"lifespan"`
	Liquidations        int     `csv:"liquidations"`
	RejectedOrders      int     `csv:"rejected_orders"`
	FinalBalance        float64 `csv:"final_balance"`
}

// NewAgentReportRow flattens an agent's ledger. Undefined ratios are
// reported as zero.
func NewAgentReportRow(rank int, genomeID string, fitness float64, deathReason string, s agent.TradingStats) AgentReportRow {
	winRate, _ := s.WinRate()
	profitRatio, _ := s.ProfitRatio()
	sharpe, _ := s.Sharpe()
	return AgentReportRow{
		Rank:                rank,
		GenomeID:            genomeID,
		Fitness:             fitness,
		DeathReason:         deathReason,
		TotalTrades:         s.TotalTrades,
		WinningTrades:       s.WinningTrades,
		LosingTrades:        s.LosingTrades,
		WinRate:             winRate,
		ProfitRatio:         profitRatio,
		NetProfit:           s.NetProfit(),
		TotalFees:           s.TotalFees,
		MaxRelativeDrawdown: s.MaxRelativeDrawdown,
		Sharpe:              sharpe,
		Lifespan:            s.Lifespan,
		Liquidations:        s.Liquidations,
		RejectedOrders:      s.RejectedOrders,
		FinalBalance:        s.FinalBalance,
	}
}

func WriteAgentReportCSV(path string, rows []AgentReportRow) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	return gocsv.MarshalFile(&rows, file)
}

func ReadAgentReportCSV(path string) ([]AgentReportRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []AgentReportRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FlattenStats exposes the exported ledger fields keyed by their structs
// tags, plus the derived ratios that are defined.
func FlattenStats(s agent.TradingStats) map[string]any {
	fields := structs.Map(s)
	if rate, ok := s.WinRate(); ok {
		fields["win_rate"] = rate
	}
	if ratio, ok := s.ProfitRatio(); ok {
		fields["profit_ratio"] = ratio
	}
	if sharpe, ok := s.Sharpe(); ok {
		fields["sharpe"] = sharpe
	}
	fields["net_profit"] = s.NetProfit()
	return fields
}
