package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"neattrade/internal/model"
)

func trendCandles(n int, step float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 100 + float64(i)*step
		out[i] = model.Candle{Open: p, High: p + 1, Low: p - 1, Close: p}
	}
	return out
}

func TestPercentOfBalanceQuantity(t *testing.T) {
	r := PercentOfBalance{Percent: 0.1}
	got := r.Quantity(SizeRequest{Price: 100, Available: 1000, Leverage: 10})
	if math.Abs(got-10) > 1e-12 {
		t.Fatalf("expected 10, got %f", got)
	}
	if got := r.Quantity(SizeRequest{Price: 0, Available: 1000}); got != 0 {
		t.Fatalf("expected 0 for zero price, got %f", got)
	}
}

func TestStopDistanceQuantity(t *testing.T) {
	r := StopDistance{RiskPercent: 0.02}
	got := r.Quantity(SizeRequest{Price: 100, StopPrice: 95, Balance: 1000})
	if math.Abs(got-4) > 1e-12 {
		t.Fatalf("expected 4, got %f", got)
	}
	if got := r.Quantity(SizeRequest{Price: 100, Balance: 1000}); got != 0 {
		t.Fatalf("expected 0 without stop, got %f", got)
	}
}

func TestFixedPercentExits(t *testing.T) {
	f := FixedPercent{TakeProfit: 0.02, StopLoss: 0.01}
	long, ok := f.Exits(nil, Long, 100)
	if !ok || math.Abs(long.TakeProfit-102) > 1e-9 || math.Abs(long.StopLoss-99) > 1e-9 {
		t.Fatalf("unexpected long exits: %+v", long)
	}
	short, _ := f.Exits(nil, Short, 100)
	if math.Abs(short.TakeProfit-98) > 1e-9 || math.Abs(short.StopLoss-101) > 1e-9 {
		t.Fatalf("unexpected short exits: %+v", short)
	}
}

func TestATRMultipleExits(t *testing.T) {
	a := ATRMultiple{Period: 14, TakeProfit: 2, StopLoss: 1}
	exits, ok := a.Exits(trendCandles(40, 0), Long, 100)
	if !ok {
		t.Fatal("expected atr exits")
	}
	// Flat candles with a 2-point range.
	if math.Abs(exits.TakeProfit-104) > 1e-6 || math.Abs(exits.StopLoss-98) > 1e-6 {
		t.Fatalf("unexpected atr exits: %+v", exits)
	}
	if _, ok := a.Exits(trendCandles(5, 0), Long, 100); ok {
		t.Fatal("expected no exits before atr warmup")
	}
}

func TestTrailingExits(t *testing.T) {
	tr := Trailing{Activation: 0.01, CallbackRate: 0.005, StopLoss: 0.02}
	exits, ok := tr.Exits(nil, Short, 200)
	if !ok || !exits.Trailing() {
		t.Fatalf("expected trailing exits, got %+v", exits)
	}
	if math.Abs(exits.TrailingActivation-198) > 1e-9 || math.Abs(exits.StopLoss-204) > 1e-9 {
		t.Fatalf("unexpected trailing exits: %+v", exits)
	}
}

func TestTrendFilters(t *testing.T) {
	up := trendCandles(60, 1)
	down := trendCandles(60, -1)

	cross := EMACross{Fast: 5, Slow: 20}
	if !cross.Allows(up, Long) || cross.Allows(up, Short) {
		t.Fatal("ema cross should allow only longs on uptrend")
	}
	if cross.Allows(down, Long) || !cross.Allows(down, Short) {
		t.Fatal("ema cross should allow only shorts on downtrend")
	}
	if cross.Allows(up[:10], Long) {
		t.Fatal("ema cross should block without enough history")
	}

	above := PriceAboveEMA{Period: 10}
	if !above.Allows(up, Long) || above.Allows(up, Short) {
		t.Fatal("price above ema should allow only longs on uptrend")
	}
}

func TestSessionContains(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 1, 2, h, 30, 0, 0, time.UTC) }
	cases := []struct {
		s    Session
		hour int
		want bool
	}{
		{Session{8, 16}, 8, true},
		{Session{8, 16}, 16, false},
		{Session{22, 2}, 23, true},
		{Session{22, 2}, 1, true},
		{Session{22, 2}, 12, false},
		{Session{0, 0}, 5, true},
	}
	for _, tc := range cases {
		if got := tc.s.Contains(at(tc.hour)); got != tc.want {
			t.Fatalf("session %+v hour %d: got %v want %v", tc.s, tc.hour, got, tc.want)
		}
	}
	if !InSession(nil, at(3)) {
		t.Fatal("no sessions should mean always open")
	}
	if InSession([]Session{{8, 16}}, at(3)) {
		t.Fatal("expected closed outside session")
	}
}

func TestGoals(t *testing.T) {
	g := Goals{WinRate: Float(0.5), MaxRelativeDrawdown: Float(0.2)}
	if !g.DrawdownExceeded(0.25) || g.DrawdownExceeded(0.2) {
		t.Fatal("unexpected drawdown check")
	}
	if !g.WinRateMissed(0.4, true) {
		t.Fatal("expected win rate miss")
	}
	if g.WinRateMissed(0, false) {
		t.Fatal("undefined win rate must not count")
	}
	if g.ProfitRatioMissed(0.1, true) {
		t.Fatal("nil profit ratio goal must not count")
	}
}

func TestConfigBuild(t *testing.T) {
	risk, err := RiskConfig{}.Build()
	if err != nil || risk.Name() != "percent_of_balance" {
		t.Fatalf("default risk: %v %v", risk, err)
	}
	if _, err := (RiskConfig{Kind: "martingale"}).Build(); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
	exit, err := ExitConfig{}.Build()
	if err != nil || exit != nil {
		t.Fatalf("expected no exit strategy, got %v %v", exit, err)
	}
	if _, err := (ExitConfig{Kind: "trailing"}).Build(); !errors.Is(err, ErrInvalidStrategy) {
		t.Fatalf("expected ErrInvalidStrategy, got %v", err)
	}
	trend, err := TrendConfig{Kind: "ema_cross", Fast: 9, Slow: 21}.Build()
	if err != nil || trend.Name() != "ema_cross" {
		t.Fatalf("ema cross: %v %v", trend, err)
	}
}
