package strategy

import "math"

// Direction is +1 for long exposure and -1 for short exposure.
type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) String() string {
	if d == Long {
		return "long"
	}
	return "short"
}

// SizeRequest carries what a risk manager may need to size an entry.
type SizeRequest struct {
	Direction Direction
	Price     float64
	StopPrice float64
	Available float64
	Balance   float64
	Leverage  float64
}

// RiskManager turns a signal into an order quantity. A zero result means
// "do not trade"; the account still rejects anything below the instrument
// minimum.
type RiskManager interface {
	Name() string
	Quantity(req SizeRequest) float64
}

// PercentOfBalance commits Percent of the available balance as margin.
type PercentOfBalance struct {
	Percent float64 `json:"percent"`
}

func (PercentOfBalance) Name() string { return "percent_of_balance" }

func (r PercentOfBalance) Quantity(req SizeRequest) float64 {
	if req.Price <= 0 || req.Available <= 0 || r.Percent <= 0 {
		return 0
	}
	leverage := math.Max(req.Leverage, 1)
	return req.Available * r.Percent * leverage / req.Price
}

// StopDistance risks RiskPercent of the wallet balance between entry and stop.
type StopDistance struct {
	RiskPercent float64 `json:"risk_percent"`
}

func (StopDistance) Name() string { return "stop_distance" }

func (r StopDistance) Quantity(req SizeRequest) float64 {
	distance := math.Abs(req.Price - req.StopPrice)
	if req.StopPrice <= 0 || distance == 0 || req.Balance <= 0 || r.RiskPercent <= 0 {
		return 0
	}
	return req.Balance * r.RiskPercent / distance
}
