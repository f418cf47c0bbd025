package indicators

import (
	"errors"
	"fmt"
	"strings"

	talib "github.com/markcheno/go-talib"

	"neattrade/internal/model"
	"neattrade/internal/nn"
)

var (
	ErrUnknownIndicator = errors.New("unknown indicator")
	ErrInvalidPeriod    = errors.New("invalid indicator period")
	ErrNotEnoughCandles = errors.New("not enough candles for indicator warmup")
)

// Spec selects one indicator column. Period is used by single-period
// indicators; MACD reads Fast, Slow and Signal.
type Spec struct {
	Name   string `json:"name"`
	Period int    `json:"period,omitempty"`
	Fast   int    `json:"fast,omitempty"`
	Slow   int    `json:"slow,omitempty"`
	Signal int    `json:"signal,omitempty"`
}

func (s Spec) String() string {
	if s.isMACD() {
		return fmt.Sprintf("%s(%d,%d,%d)", s.Name, s.Fast, s.Slow, s.Signal)
	}
	if s.Period > 0 {
		return fmt.Sprintf("%s(%d)", s.Name, s.Period)
	}
	return s.Name
}

func (s Spec) isMACD() bool {
	return strings.HasPrefix(s.Name, "macd")
}

// DefaultSpecs is a small momentum/volatility/trend mix.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "rsi", Period: 14},
		{Name: "natr", Period: 14},
		{Name: "roc", Period: 10},
		{Name: "macd_hist", Fast: 12, Slow: 26, Signal: 9},
		{Name: "bb_percent", Period: 20},
	}
}

// OHLCV splits candles into talib-ready columns.
type OHLCV struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

func Columns(candles []model.Candle) OHLCV {
	out := OHLCV{
		Open:   make([]float64, len(candles)),
		High:   make([]float64, len(candles)),
		Low:    make([]float64, len(candles)),
		Close:  make([]float64, len(candles)),
		Volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		out.Open[i] = c.Open
		out.High[i] = c.High
		out.Low[i] = c.Low
		out.Close[i] = c.Close
		out.Volume[i] = c.Volume
	}
	return out
}

// Lookback is the number of leading rows the indicator leaves undefined.
func Lookback(spec Spec) (int, error) {
	if spec.isMACD() {
		if spec.Fast <= 1 || spec.Slow <= 1 || spec.Signal <= 0 {
			return 0, fmt.Errorf("%w: %s", ErrInvalidPeriod, spec)
		}
		slow := spec.Slow
		if spec.Fast > slow {
			slow = spec.Fast
		}
		return slow - 1 + spec.Signal - 1, nil
	}
	if spec.Name == "obv" {
		return 0, nil
	}
	if spec.Period <= 1 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPeriod, spec)
	}
	switch spec.Name {
	case "rsi", "atr", "natr", "roc", "mom":
		return spec.Period, nil
	case "ema", "sma", "willr", "cci", "bb_percent", "bb_width":
		return spec.Period - 1, nil
	case "adx":
		return 2*spec.Period - 1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownIndicator, spec.Name)
	}
}

// Raw computes one indicator over the full series. Rows inside the lookback
// window are zero, as returned by talib.
func Raw(data OHLCV, spec Spec) ([]float64, error) {
	lookback, err := Lookback(spec)
	if err != nil {
		return nil, err
	}
	if len(data.Close) <= lookback {
		return nil, fmt.Errorf("%w: %s needs > %d candles, got %d", ErrNotEnoughCandles, spec, lookback, len(data.Close))
	}

	switch spec.Name {
	case "rsi":
		return talib.Rsi(data.Close, spec.Period), nil
	case "ema":
		return talib.Ema(data.Close, spec.Period), nil
	case "sma":
		return talib.Sma(data.Close, spec.Period), nil
	case "atr":
		return talib.Atr(data.High, data.Low, data.Close, spec.Period), nil
	case "natr":
		return talib.Natr(data.High, data.Low, data.Close, spec.Period), nil
	case "roc":
		return talib.Roc(data.Close, spec.Period), nil
	case "mom":
		return talib.Mom(data.Close, spec.Period), nil
	case "willr":
		return talib.WillR(data.High, data.Low, data.Close, spec.Period), nil
	case "cci":
		return talib.Cci(data.High, data.Low, data.Close, spec.Period), nil
	case "adx":
		return talib.Adx(data.High, data.Low, data.Close, spec.Period), nil
	case "obv":
		return talib.Obv(data.Close, data.Volume), nil
	case "macd", "macd_signal", "macd_hist":
		macd, signal, hist := talib.Macd(data.Close, spec.Fast, spec.Slow, spec.Signal)
		switch spec.Name {
		case "macd":
			return macd, nil
		case "macd_signal":
			return signal, nil
		}
		return hist, nil
	case "bb_percent", "bb_width":
		upper, middle, lower := talib.BBands(data.Close, spec.Period, 2, 2, talib.SMA)
		out := make([]float64, len(data.Close))
		for i := lookback; i < len(out); i++ {
			band := upper[i] - lower[i]
			if spec.Name == "bb_width" {
				if middle[i] != 0 {
					out[i] = band / middle[i]
				}
				continue
			}
			if band == 0 {
				out[i] = 0.5
				continue
			}
			out[i] = (data.Close[i] - lower[i]) / band
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownIndicator, spec.Name)
}

// Last returns the most recent value of spec over candles.
func Last(candles []model.Candle, spec Spec) (float64, bool) {
	values, err := Raw(Columns(candles), spec)
	if err != nil || len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// Matrix holds one normalized input row per candle. Rows before Warmup are
// not defined and must not be fed to a network.
type Matrix struct {
	Specs  []Spec
	Warmup int
	rows   [][]float64
}

// Compute evaluates every spec and scales each column to [0, 1] causally:
// row i is placed inside the min/max of the last window defined rows of its
// column, ending at i. A window <= 0 uses every defined row up to i. Row i
// therefore only depends on candles[:i+1].
func Compute(candles []model.Candle, specs []Spec, window int) (*Matrix, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no indicators configured", ErrUnknownIndicator)
	}
	warmup := 0
	for _, spec := range specs {
		lookback, err := Lookback(spec)
		if err != nil {
			return nil, err
		}
		if lookback > warmup {
			warmup = lookback
		}
	}
	if len(candles) <= warmup {
		return nil, fmt.Errorf("%w: need > %d candles, got %d", ErrNotEnoughCandles, warmup, len(candles))
	}

	data := Columns(candles)
	m := &Matrix{
		Specs:  append([]Spec(nil), specs...),
		Warmup: warmup,
		rows:   make([][]float64, len(candles)),
	}
	for i := warmup; i < len(candles); i++ {
		m.rows[i] = make([]float64, len(specs))
	}
	for col, spec := range specs {
		raw, err := Raw(data, spec)
		if err != nil {
			return nil, err
		}
		for i, v := range trailingNormalize(raw[warmup:], window) {
			m.rows[warmup+i][col] = v
		}
	}
	return m, nil
}

// trailingNormalize maps values[i] into the range of values[i-window+1:i+1].
// Monotonic deques keep the running min and max.
func trailingNormalize(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	var minQ, maxQ []int
	for i, v := range values {
		for len(minQ) > 0 && values[minQ[len(minQ)-1]] >= v {
			minQ = minQ[:len(minQ)-1]
		}
		minQ = append(minQ, i)
		for len(maxQ) > 0 && values[maxQ[len(maxQ)-1]] <= v {
			maxQ = maxQ[:len(maxQ)-1]
		}
		maxQ = append(maxQ, i)
		if window > 0 {
			for minQ[0] <= i-window {
				minQ = minQ[1:]
			}
			for maxQ[0] <= i-window {
				maxQ = maxQ[1:]
			}
		}
		out[i] = nn.MinMaxValue(v, values[minQ[0]], values[maxQ[0]])
	}
	return out
}

// Width is the number of columns per row.
func (m *Matrix) Width() int { return len(m.Specs) }

// Len is the number of candles covered, including the warmup rows.
func (m *Matrix) Len() int { return len(m.rows) }

// Row returns the normalized inputs for candle i.
func (m *Matrix) Row(i int) ([]float64, bool) {
	if i < m.Warmup || i >= len(m.rows) {
		return nil, false
	}
	return m.rows[i], true
}
