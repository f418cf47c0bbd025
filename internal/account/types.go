package account

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrInvalidConfig        = errors.New("invalid account config")
	ErrInvalidQuantity      = errors.New("invalid order quantity")
	ErrQuantityBelowMinimum = errors.New("quantity below instrument minimum")
	ErrInvalidPrice         = errors.New("invalid order price")
	ErrInsufficientMargin   = errors.New("insufficient available balance")
	ErrNothingToReduce      = errors.New("reduce-only order has no position to reduce")
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) sign() float64 {
	if s == Buy {
		return 1
	}
	return -1
}

type OrderType string

const (
	Limit        OrderType = "LIMIT"
	TrailingStop OrderType = "TRAILING_STOP_MARKET"
)

// OrderStatus follows NEW -> FILLED | CANCELED for limit orders and
// PENDING -> ACTIVE -> FILLED | EXPIRED for trailing stops.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPending  OrderStatus = "PENDING"
	StatusActive   OrderStatus = "ACTIVE"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusExpired  OrderStatus = "EXPIRED"
)

func (s OrderStatus) open() bool {
	return s == StatusNew || s == StatusPending || s == StatusActive
}

// Instrument holds the exchange trading rules for one pair.
type Instrument struct {
	Pair         string  `json:"pair"`
	MinQuantity  float64 `json:"min_quantity"`
	QuantityStep float64 `json:"quantity_step"`
	Leverage     float64 `json:"leverage"`
}

// Fees are fractional rates applied to notional value.
type Fees struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

func DefaultFees() Fees {
	return Fees{Maker: 0.0002, Taker: 0.0004}
}

type Config struct {
	InitialBalance float64
	Instruments    []Instrument
	Fees           Fees
	Logger         *zap.Logger
}

func (c Config) validate() error {
	if c.InitialBalance <= 0 {
		return fmt.Errorf("%w: initial balance must be > 0", ErrInvalidConfig)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("%w: at least one instrument is required", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.Pair == "" {
			return fmt.Errorf("%w: instrument pair is required", ErrInvalidConfig)
		}
		if _, ok := seen[inst.Pair]; ok {
			return fmt.Errorf("%w: duplicate instrument %s", ErrInvalidConfig, inst.Pair)
		}
		seen[inst.Pair] = struct{}{}
		if inst.Leverage < 1 {
			return fmt.Errorf("%w: %s leverage must be >= 1", ErrInvalidConfig, inst.Pair)
		}
		if inst.MinQuantity < 0 || inst.QuantityStep < 0 {
			return fmt.Errorf("%w: %s quantity rules must be >= 0", ErrInvalidConfig, inst.Pair)
		}
	}
	if c.Fees.Maker < 0 || c.Fees.Taker < 0 {
		return fmt.Errorf("%w: fees must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Wallet mirrors the futures wallet. AvailableBalance plus the margin locked
// in positions always equals TotalWalletBalance.
type Wallet struct {
	InitialBalance        float64 `json:"initial_balance"`
	TotalWalletBalance    float64 `json:"total_wallet_balance"`
	AvailableBalance      float64 `json:"available_balance"`
	TotalUnrealizedProfit float64 `json:"total_unrealized_profit"`
	TotalFees             float64 `json:"total_fees"`
	RealizedProfit        float64 `json:"realized_profit"`
}

// MarginBalance is the wallet balance including open profit.
func (w Wallet) MarginBalance() float64 {
	return w.TotalWalletBalance + w.TotalUnrealizedProfit
}

// Position is signed: Size > 0 is long, Size < 0 is short.
type Position struct {
	Pair             string  `json:"pair"`
	Size             float64 `json:"size"`
	EntryPrice       float64 `json:"entry_price"`
	Margin           float64 `json:"margin"`
	Leverage         float64 `json:"leverage"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
}

func (p Position) Flat() bool  { return p.Size == 0 }
func (p Position) Long() bool  { return p.Size > 0 }
func (p Position) Short() bool { return p.Size < 0 }

// Quantity is the absolute position size.
func (p Position) Quantity() float64 {
	if p.Size < 0 {
		return -p.Size
	}
	return p.Size
}

// ProfitAt is the leveraged profit of the whole position at price.
func (p Position) ProfitAt(price float64) float64 {
	if p.Size == 0 || p.EntryPrice == 0 {
		return 0
	}
	sign := 1.0
	if p.Size < 0 {
		sign = -1
	}
	return sign * ((price - p.EntryPrice) / p.EntryPrice) * p.Margin * p.Leverage
}

type Order struct {
	ID         string      `json:"id"`
	Pair       string      `json:"pair"`
	Type       OrderType   `json:"type"`
	Side       Side        `json:"side"`
	Price      float64     `json:"price,omitempty"`
	Quantity   float64     `json:"quantity"`
	ReduceOnly bool        `json:"reduce_only"`
	Status     OrderStatus `json:"status"`

	ActivationPrice float64 `json:"activation_price,omitempty"`
	CallbackRate    float64 `json:"callback_rate,omitempty"`

	seq int
}

// Fill reports one execution. RealizedProfit and ClosedQuantity are zero for
// purely opening fills.
type Fill struct {
	OrderID        string  `json:"order_id,omitempty"`
	Pair           string  `json:"pair"`
	Side           Side    `json:"side"`
	Price          float64 `json:"price"`
	Quantity       float64 `json:"quantity"`
	ClosedQuantity float64 `json:"closed_quantity"`
	Fee            float64 `json:"fee"`
	RealizedProfit float64 `json:"realized_profit"`
	Maker          bool    `json:"maker"`
	Reason         string  `json:"reason"`
}

// Reducing reports whether the fill closed some exposure.
func (f Fill) Reducing() bool {
	return f.ClosedQuantity > 0
}

const (
	ReasonMarket       = "market"
	ReasonLimit        = "limit"
	ReasonTrailingStop = "trailing_stop"
	ReasonLiquidation  = "liquidation"
	ReasonSettlement   = "settlement"
)
