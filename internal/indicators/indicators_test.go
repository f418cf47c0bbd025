package indicators

import (
	"errors"
	"math"
	"testing"

	"neattrade/internal/model"
)

func waveCandles(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		mid := 100 + 10*math.Sin(float64(i)/5) + float64(i)*0.1
		out[i] = model.Candle{
			Open:   mid - 0.5,
			High:   mid + 1,
			Low:    mid - 1,
			Close:  mid + 0.5,
			Volume: 1000 + float64(i%7)*10,
		}
	}
	return out
}

func TestComputeNormalizesEachColumn(t *testing.T) {
	candles := waveCandles(120)
	m, err := Compute(candles, DefaultSpecs(), 0)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if m.Warmup != 33 {
		t.Fatalf("expected macd warmup 33, got %d", m.Warmup)
	}
	if m.Width() != len(DefaultSpecs()) || m.Len() != len(candles) {
		t.Fatalf("unexpected shape %dx%d", m.Len(), m.Width())
	}
	if _, ok := m.Row(m.Warmup - 1); ok {
		t.Fatal("expected warmup row to be undefined")
	}
	first, _ := m.Row(m.Warmup)
	for col, v := range first {
		if v != 0.5 {
			t.Fatalf("first defined row of column %d should be 0.5, got %f", col, v)
		}
	}

	for col := 0; col < m.Width(); col++ {
		for i := m.Warmup; i < m.Len(); i++ {
			row, ok := m.Row(i)
			if !ok {
				t.Fatalf("row %d undefined", i)
			}
			v := row[col]
			if v < 0 || v > 1 || math.IsNaN(v) {
				t.Fatalf("column %d row %d out of range: %f", col, i, v)
			}
		}
	}
}

func TestComputeRowsIgnoreLaterCandles(t *testing.T) {
	candles := waveCandles(400)
	for _, window := range []int{0, 50} {
		full, err := Compute(candles, DefaultSpecs(), window)
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		for _, at := range []int{full.Warmup, 100, 250, 399} {
			prefix, err := Compute(candles[:at+1], DefaultSpecs(), window)
			if err != nil {
				t.Fatalf("compute prefix %d: %v", at, err)
			}
			want, _ := full.Row(at)
			got, ok := prefix.Row(at)
			if !ok {
				t.Fatalf("prefix row %d undefined", at)
			}
			for col := range want {
				if math.Abs(want[col]-got[col]) > 1e-12 {
					t.Fatalf("window=%d row %d column %d: full=%f prefix=%f", window, at, col, want[col], got[col])
				}
			}
		}
	}
}

func TestComputeTrailingWindowRange(t *testing.T) {
	candles := waveCandles(200)
	spec := Spec{Name: "rsi", Period: 14}
	const window = 30
	m, err := Compute(candles, []Spec{spec}, window)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	raw, err := Raw(Columns(candles), spec)
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	for i := m.Warmup; i < m.Len(); i++ {
		start := i - window + 1
		if start < m.Warmup {
			start = m.Warmup
		}
		lo, hi := raw[start], raw[start]
		for _, v := range raw[start : i+1] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		want := 0.5
		if hi != lo {
			want = (raw[i] - lo) / (hi - lo)
		}
		row, _ := m.Row(i)
		if math.Abs(row[0]-want) > 1e-12 {
			t.Fatalf("row %d: got %f want %f", i, row[0], want)
		}
	}
}

func TestComputeRejectsShortSeries(t *testing.T) {
	_, err := Compute(waveCandles(20), []Spec{{Name: "rsi", Period: 30}}, 0)
	if !errors.Is(err, ErrNotEnoughCandles) {
		t.Fatalf("expected ErrNotEnoughCandles, got %v", err)
	}
}

func TestComputeRejectsUnknownIndicator(t *testing.T) {
	_, err := Compute(waveCandles(20), []Spec{{Name: "vwap", Period: 5}}, 0)
	if !errors.Is(err, ErrUnknownIndicator) {
		t.Fatalf("expected ErrUnknownIndicator, got %v", err)
	}
	_, err = Compute(waveCandles(20), []Spec{{Name: "ema", Period: 1}}, 0)
	if !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestLastEMAFollowsTrend(t *testing.T) {
	candles := make([]model.Candle, 50)
	for i := range candles {
		p := 100 + float64(i)
		candles[i] = model.Candle{Open: p, High: p + 1, Low: p - 1, Close: p}
	}
	fast, ok := Last(candles, Spec{Name: "ema", Period: 5})
	if !ok {
		t.Fatal("expected fast ema")
	}
	slow, ok := Last(candles, Spec{Name: "ema", Period: 20})
	if !ok {
		t.Fatal("expected slow ema")
	}
	if fast <= slow {
		t.Fatalf("expected fast ema above slow on uptrend: fast=%f slow=%f", fast, slow)
	}
	if _, ok := Last(candles[:3], Spec{Name: "ema", Period: 5}); ok {
		t.Fatal("expected no value before warmup")
	}
}
