package marketdata

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/gocarina/gocsv"

	"neattrade/internal/model"
)

var (
	ErrNoCandles        = errors.New("no candles")
	ErrInvalidCandle    = errors.New("invalid candle")
	ErrNotChronological = errors.New("candles are not chronological")
	ErrDuplicateCandle  = errors.New("duplicate candle")
)

// LoadCSV reads candles with the header
// symbol,open,high,low,close,volume,open_time,close_time and validates them.
func LoadCSV(path string) ([]model.Candle, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("candle csv path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle csv %s: %w", path, err)
	}
	defer f.Close()

	rows := []*model.Candle{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse candle csv %s: %w", path, err)
	}
	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			candles = append(candles, *row)
		}
	}
	if err := Validate(candles); err != nil {
		return nil, fmt.Errorf("candle csv %s: %w", path, err)
	}
	return candles, nil
}

// WriteCSV stores candles in the format LoadCSV reads.
func WriteCSV(path string, candles []model.Candle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create candle csv %s: %w", path, err)
	}
	defer f.Close()

	rows := make([]*model.Candle, len(candles))
	for i := range candles {
		rows[i] = &candles[i]
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("write candle csv %s: %w", path, err)
	}
	return nil
}

// Validate checks price sanity and, when timestamps are present, strict
// chronological order without duplicates.
func Validate(candles []model.Candle) error {
	if len(candles) == 0 {
		return ErrNoCandles
	}
	for i, c := range candles {
		if !finitePositive(c.Open) || !finitePositive(c.High) || !finitePositive(c.Low) || !finitePositive(c.Close) {
			return fmt.Errorf("%w: row %d has non-positive price", ErrInvalidCandle, i)
		}
		if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
			return fmt.Errorf("%w: row %d high/low do not bound open/close", ErrInvalidCandle, i)
		}
		if c.Volume < 0 {
			return fmt.Errorf("%w: row %d has negative volume", ErrInvalidCandle, i)
		}
		if i == 0 || (c.OpenTime == 0 && candles[i-1].OpenTime == 0) {
			continue
		}
		prev := candles[i-1].OpenTime
		if c.OpenTime == prev {
			return fmt.Errorf("%w: open_time %d at row %d", ErrDuplicateCandle, c.OpenTime, i)
		}
		if c.OpenTime < prev {
			return fmt.Errorf("%w: row %d open_time %d after %d", ErrNotChronological, i, c.OpenTime, prev)
		}
	}
	return nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Split cuts off the trailing holdout fraction as a validation window.
func Split(candles []model.Candle, holdout float64) (train, validation []model.Candle) {
	if holdout <= 0 || holdout >= 1 || len(candles) < 2 {
		return candles, nil
	}
	cut := int(math.Round(float64(len(candles)) * (1 - holdout)))
	if cut < 1 {
		cut = 1
	}
	if cut >= len(candles) {
		return candles, nil
	}
	return candles[:cut], candles[cut:]
}

// Closes extracts closing prices.
func Closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
