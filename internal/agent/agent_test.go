package agent

import (
	"errors"
	"math"
	"testing"
	"time"

	"neattrade/internal/account"
	"neattrade/internal/genome"
	"neattrade/internal/indicators"
	"neattrade/internal/marketdata"
	"neattrade/internal/model"
	"neattrade/internal/strategy"
)

// biasGenome wires only the bias node, so outputs are constant:
// sigmoid(w) per output, 0.5 where w is zero.
func biasGenome(t *testing.T, inputs int, weights ...float64) *genome.Genome {
	t.Helper()
	g, err := genome.New(inputs, len(weights))
	if err != nil {
		t.Fatalf("new genome: %v", err)
	}
	rec := g.Record()
	for j, w := range weights {
		if w == 0 {
			continue
		}
		rec.Genes = append(rec.Genes, model.GeneRecord{
			From:         rec.BiasNodeID,
			To:           inputs + j,
			Weight:       w,
			Enabled:      true,
			InnovationNo: genome.DefaultFirstInnovation + j,
		})
	}
	out, err := genome.FromRecord(rec)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	return out
}

func series(t *testing.T, shape string, count int) []model.Candle {
	t.Helper()
	cfg := marketdata.DefaultSyntheticConfig()
	cfg.Shape = shape
	cfg.Count = count
	candles, err := marketdata.Synthetic(cfg)
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	return candles
}

func exitConfig() Config {
	cfg := DefaultConfig()
	cfg.Exit = strategy.FixedPercent{TakeProfit: 0.01, StopLoss: 0.02}
	return cfg
}

// replay trades every candle but the last and settles at its close, so the
// final settlement never lands on the entry price.
func replay(a *Agent, candles []model.Candle) {
	last := len(candles) - 1
	for t := 0; t < last; t++ {
		a.Update(candles, t)
	}
	a.Finish(candles[last].Close)
}

func TestConfigShape(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Inputs() != 11 || cfg.Outputs() != 3 {
		t.Fatalf("expected 11x3 without exits, got %dx%d", cfg.Inputs(), cfg.Outputs())
	}
	cfg = exitConfig()
	if cfg.Inputs() != 10 || cfg.Outputs() != 2 {
		t.Fatalf("expected 10x2 with exits, got %dx%d", cfg.Inputs(), cfg.Outputs())
	}
}

func TestNewRejectsShapeMismatch(t *testing.T) {
	_, err := New(biasGenome(t, 3, 1, 0), exitConfig(), nil)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestAlwaysLongProfitsOnUptrend(t *testing.T) {
	cfg := exitConfig()
	a, err := New(biasGenome(t, cfg.Inputs(), 1, 0), cfg, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	candles := series(t, marketdata.ShapeUptrend, 200)
	replay(a, candles)

	stats := a.Stats()
	if stats.TotalTrades == 0 {
		t.Fatal("expected closed trades")
	}
	rate, ok := stats.WinRate()
	if !ok || rate != 1 {
		t.Fatalf("expected every trade to win, got %f %v", rate, ok)
	}
	if a.Fitness() <= cfg.InitialBalance {
		t.Fatalf("expected fitness above %f, got %f", cfg.InitialBalance, a.Fitness())
	}
	if a.Alive() {
		t.Fatal("expected agent to be finished")
	}
	if !a.Account().Position(cfg.Instrument.Pair).Flat() {
		t.Fatal("expected settled position")
	}
	w := a.Account().Wallet()
	if math.Abs(w.AvailableBalance-w.TotalWalletBalance) > 1e-9 {
		t.Fatalf("expected no locked margin after settlement: %+v", w)
	}
}

func TestSilentAgentDiesInactive(t *testing.T) {
	cfg := exitConfig()
	a, err := New(biasGenome(t, cfg.Inputs(), 0, 0), cfg, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	candles := series(t, marketdata.ShapeWave, 150)
	for i := range candles {
		a.Update(candles, i)
	}
	if a.Alive() {
		t.Fatal("expected inactive agent to die")
	}
	if a.DeathReason() != DeathInactive {
		t.Fatalf("expected %s, got %s", DeathInactive, a.DeathReason())
	}
	if a.Stats().Lifespan != cfg.InactivityLimit {
		t.Fatalf("expected lifespan %d, got %d", cfg.InactivityLimit, a.Stats().Lifespan)
	}
	if a.Fitness() != cfg.InitialBalance {
		t.Fatalf("expected untouched balance, got %f", a.Fitness())
	}
	if _, ok := a.Stats().WinRate(); ok {
		t.Fatal("win rate must be undefined without trades")
	}
}

func TestNoPyramidingEntersOnce(t *testing.T) {
	cfg := DefaultConfig()
	a, err := New(biasGenome(t, cfg.Inputs(), 1, 0, 0), cfg, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	candles := series(t, marketdata.ShapeUptrend, 50)
	for i := range candles {
		a.Update(candles, i)
	}
	if got := a.Stats().Entries; got != 1 {
		t.Fatalf("expected a single entry, got %d", got)
	}
	if !a.Account().Position(cfg.Instrument.Pair).Long() {
		t.Fatal("expected open long")
	}
}

func TestPyramidingRespectsMaxAllocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pyramiding = true
	cfg.MaxAllocation = 0.5
	a, err := New(biasGenome(t, cfg.Inputs(), 1, 0, 0), cfg, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	candles := series(t, marketdata.ShapeUptrend, 40)
	for i := range candles {
		a.Update(candles, i)
		if margin := a.Account().Position(cfg.Instrument.Pair).Margin; margin > cfg.MaxAllocation*cfg.InitialBalance {
			t.Fatalf("tick %d: margin %f above allocation cap", i, margin)
		}
	}
	if a.Stats().Entries < 2 {
		t.Fatalf("expected additive entries, got %d", a.Stats().Entries)
	}
}

func TestCloseSignalNeverOpens(t *testing.T) {
	cfg := DefaultConfig()
	a, err := New(biasGenome(t, cfg.Inputs(), 0, 0, 2), cfg, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	candles := series(t, marketdata.ShapeUptrend, 30)
	for i := range candles {
		a.Update(candles, i)
	}
	if a.Stats().Entries != 0 {
		t.Fatalf("expected no entries, got %d", a.Stats().Entries)
	}
}

func TestDrawdownGoalKillsAgent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Goals = strategy.Goals{MaxRelativeDrawdown: strategy.Float(0.05)}
	a, err := New(biasGenome(t, cfg.Inputs(), 1, 0, 0), cfg, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	candles := series(t, marketdata.ShapeDowntrend, 80)
	for i := range candles {
		a.Update(candles, i)
	}
	if a.DeathReason() != DeathDrawdown {
		t.Fatalf("expected %s, got %q", DeathDrawdown, a.DeathReason())
	}
	if !a.Account().Position(cfg.Instrument.Pair).Flat() {
		t.Fatal("expected position settled at death")
	}
	if a.Fitness() >= cfg.InitialBalance {
		t.Fatalf("expected a loss, got %f", a.Fitness())
	}
	if a.Stats().Liquidations != 0 {
		t.Fatal("drawdown goal should trigger before liquidation")
	}
}

func TestSessionsBlockEntries(t *testing.T) {
	cfg := exitConfig()
	cfg.Sessions = []strategy.Session{{StartHour: 0, EndHour: 12}}
	a, err := New(biasGenome(t, cfg.Inputs(), 1, 0), cfg, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	syn := marketdata.DefaultSyntheticConfig()
	syn.Shape = marketdata.ShapeUptrend
	syn.Count = 40
	syn.Interval = 24 * time.Hour
	candles, err := marketdata.Synthetic(syn)
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	for i := range candles {
		a.Update(candles, i)
	}
	if a.Stats().Entries != 0 {
		t.Fatalf("expected no entries outside session, got %d", a.Stats().Entries)
	}
}

func TestNetProfitFitnessMode(t *testing.T) {
	cfg := exitConfig()
	cfg.FitnessMode = FitnessNetProfit
	a, err := New(biasGenome(t, cfg.Inputs(), 1, 0), cfg, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	replay(a, series(t, marketdata.ShapeUptrend, 120))
	want := a.Account().Wallet().TotalWalletBalance - cfg.InitialBalance
	if math.Abs(a.Fitness()-want) > 1e-9 || a.Fitness() <= 0 {
		t.Fatalf("expected net profit fitness %f, got %f", want, a.Fitness())
	}
}

func TestTradingStatsRatios(t *testing.T) {
	s := newTradingStats(1000)
	s.Record(account.Fill{Quantity: 1, ClosedQuantity: 1, RealizedProfit: 30, Fee: 1})
	if _, ok := s.ProfitRatio(); ok {
		t.Fatal("profit ratio must be undefined without losses")
	}
	s.Record(account.Fill{Quantity: 1, ClosedQuantity: 1, RealizedProfit: -10, Fee: 1})
	ratio, ok := s.ProfitRatio()
	if !ok || ratio != 3 {
		t.Fatalf("expected ratio 3, got %f %v", ratio, ok)
	}
	rate, _ := s.WinRate()
	if rate != 0.5 {
		t.Fatalf("expected win rate 0.5, got %f", rate)
	}
	if s.NetProfit() != 18 {
		t.Fatalf("expected net profit 18, got %f", s.NetProfit())
	}

	s.Observe(1100)
	s.Observe(880)
	if math.Abs(s.MaxRelativeDrawdown-0.2) > 1e-12 {
		t.Fatalf("expected drawdown 0.2, got %f", s.MaxRelativeDrawdown)
	}
}

func TestDeciderSignalsLong(t *testing.T) {
	cfg := exitConfig()
	d, err := NewDecider(biasGenome(t, cfg.Inputs(), 1, 0), cfg)
	if err != nil {
		t.Fatalf("new decider: %v", err)
	}
	candles := series(t, marketdata.ShapeUptrend, 20)
	decision, err := d.Decide(candles, false)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Action != OpenLong {
		t.Fatalf("expected open_long, got %s", decision.Action)
	}
	if decision.OpenLong <= cfg.SignalThreshold || decision.OpenShort != 0.5 {
		t.Fatalf("unexpected signals: %+v", decision)
	}
	if _, err := d.Decide(candles[:3], false); !errors.Is(err, ErrNotEnoughHistory) {
		t.Fatalf("expected ErrNotEnoughHistory, got %v", err)
	}
}

func TestDeciderSeesTrainingInputs(t *testing.T) {
	cfg := exitConfig()
	cfg.InputMode = InputIndicators
	cfg.Indicators = indicators.DefaultSpecs()
	cfg.HistoryWindow = 60

	g, err := genome.New(cfg.Inputs(), cfg.Outputs())
	if err != nil {
		t.Fatalf("new genome: %v", err)
	}
	rec := g.Record()
	for i := 0; i < cfg.Inputs(); i++ {
		rec.Genes = append(rec.Genes, model.GeneRecord{
			From:         i,
			To:           cfg.Inputs() + i%2,
			Weight:       float64(i) - 1.7,
			Enabled:      true,
			InnovationNo: genome.DefaultFirstInnovation + i,
		})
	}
	g, err = genome.FromRecord(rec)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}

	candles := series(t, marketdata.ShapeWave, 300)
	matrix, err := indicators.Compute(candles, cfg.Indicators, cfg.HistoryWindow)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	a, err := New(g, cfg, matrix)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	d, err := NewDecider(g, cfg)
	if err != nil {
		t.Fatalf("new decider: %v", err)
	}

	for _, at := range []int{matrix.Warmup, 100, 200, 299} {
		if !a.Look(candles, at) {
			t.Fatalf("agent could not look at %d", at)
		}
		if err := a.Think(); err != nil {
			t.Fatalf("think: %v", err)
		}
		trained := a.Outputs()
		decision, err := d.Decide(candles[:at+1], false)
		if err != nil {
			t.Fatalf("decide at %d: %v", at, err)
		}
		if math.Abs(decision.OpenLong-trained[0]) > 1e-12 || math.Abs(decision.OpenShort-trained[1]) > 1e-12 {
			t.Fatalf("candle %d: decider %+v, replay %v", at, decision, trained)
		}
	}
}

func TestInterpretThreshold(t *testing.T) {
	cases := []struct {
		out  []float64
		want Action
	}{
		{[]float64{0.7, 0.2, 0.1}, OpenLong},
		{[]float64{0.2, 0.65, 0.1}, OpenShort},
		{[]float64{0.2, 0.3, 0.9}, Close},
		{[]float64{0.6, 0.5, 0.5}, Hold},
		{nil, Hold},
	}
	for _, tc := range cases {
		if got := interpret(tc.out, 0.6); got != tc.want {
			t.Fatalf("interpret(%v) = %s, want %s", tc.out, got, tc.want)
		}
	}
}
