package agent

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"neattrade/internal/account"
	"neattrade/internal/indicators"
	"neattrade/internal/strategy"
)

var (
	ErrInvalidConfig = errors.New("invalid agent config")
	ErrShapeMismatch = errors.New("genome shape does not match agent inputs/outputs")
)

const (
	InputPriceWindow = "price_window"
	InputIndicators  = "indicators"

	FitnessBalance   = "balance"
	FitnessNetProfit = "net_profit"
)

// Config is shared by every agent of a population.
type Config struct {
	Instrument     account.Instrument
	InitialBalance float64
	Fees           account.Fees

	InputMode   string
	WindowSize  int
	PriceSource string
	Indicators  []indicators.Spec

	Risk     strategy.RiskManager
	Exit     strategy.ExitStrategy
	Trend    strategy.TrendFilter
	Sessions []strategy.Session
	Goals    strategy.Goals

	Pyramiding bool
	// MaxAllocation caps locked margin as a fraction of the wallet balance
	// when pyramiding.
	MaxAllocation float64

	SignalThreshold   float64
	InactivityLimit   int
	MinTradesForGoals int
	// HistoryWindow bounds the candles handed to trend filters and exits.
	HistoryWindow int
	FitnessMode   string

	Logger *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		Instrument: account.Instrument{
			Pair:         "BTCUSDT",
			MinQuantity:  0.001,
			QuantityStep: 0.001,
			Leverage:     10,
		},
		InitialBalance:    1000,
		Fees:              account.DefaultFees(),
		InputMode:         InputPriceWindow,
		WindowSize:        10,
		PriceSource:       "close",
		Risk:              strategy.PercentOfBalance{Percent: 0.1},
		MaxAllocation:     0.5,
		SignalThreshold:   0.6,
		InactivityLimit:   100,
		MinTradesForGoals: 10,
		HistoryWindow:     200,
		FitnessMode:       FitnessBalance,
	}
}

// Inputs is the network input width implied by the config.
func (c Config) Inputs() int {
	n := c.WindowSize
	if c.InputMode == InputIndicators {
		n = len(c.Indicators)
	}
	if c.Exit == nil {
		n++
	}
	return n
}

// Outputs is 3 ([long, short, close]) without an exit strategy and 2 with one.
func (c Config) Outputs() int {
	if c.Exit == nil {
		return 3
	}
	return 2
}

func (c Config) Validate() error {
	if c.Instrument.Pair == "" {
		return fmt.Errorf("%w: instrument pair is required", ErrInvalidConfig)
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("%w: initial balance must be > 0", ErrInvalidConfig)
	}
	switch c.InputMode {
	case InputPriceWindow:
		if c.WindowSize <= 0 {
			return fmt.Errorf("%w: window size must be > 0", ErrInvalidConfig)
		}
		if _, err := priceSource(c.PriceSource); err != nil {
			return err
		}
	case InputIndicators:
		if len(c.Indicators) == 0 {
			return fmt.Errorf("%w: indicator input mode needs indicators", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown input mode %q", ErrInvalidConfig, c.InputMode)
	}
	if c.Risk == nil {
		return fmt.Errorf("%w: risk manager is required", ErrInvalidConfig)
	}
	if c.SignalThreshold < 0 || c.SignalThreshold >= 1 {
		return fmt.Errorf("%w: signal threshold must be in [0,1)", ErrInvalidConfig)
	}
	if c.Pyramiding && (c.MaxAllocation <= 0 || c.MaxAllocation > 1) {
		return fmt.Errorf("%w: max allocation must be in (0,1] when pyramiding", ErrInvalidConfig)
	}
	if c.InactivityLimit < 0 || c.MinTradesForGoals < 0 {
		return fmt.Errorf("%w: limits must be >= 0", ErrInvalidConfig)
	}
	switch c.FitnessMode {
	case "", FitnessBalance, FitnessNetProfit:
	default:
		return fmt.Errorf("%w: unknown fitness mode %q", ErrInvalidConfig, c.FitnessMode)
	}
	return nil
}

func (c Config) accountConfig() account.Config {
	return account.Config{
		InitialBalance: c.InitialBalance,
		Instruments:    []account.Instrument{c.Instrument},
		Fees:           c.Fees,
		Logger:         c.Logger,
	}
}
