package account

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Account is a simulated USDT-margined futures account. It is not safe for
// concurrent use; every agent owns its own account.
type Account struct {
	fees        Fees
	logger      *zap.Logger
	instruments map[string]Instrument
	pairs       []string

	wallet     Wallet
	positions  map[string]*Position
	orders     []*Order
	nextOrder  int
	rejections int
}

func New(cfg Config) (*Account, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Account{
		fees:        cfg.Fees,
		logger:      logger,
		instruments: make(map[string]Instrument, len(cfg.Instruments)),
		positions:   make(map[string]*Position, len(cfg.Instruments)),
		wallet: Wallet{
			InitialBalance:     cfg.InitialBalance,
			TotalWalletBalance: cfg.InitialBalance,
			AvailableBalance:   cfg.InitialBalance,
		},
	}
	for _, inst := range cfg.Instruments {
		a.instruments[inst.Pair] = inst
		a.positions[inst.Pair] = &Position{Pair: inst.Pair, Leverage: inst.Leverage}
		a.pairs = append(a.pairs, inst.Pair)
	}
	sort.Strings(a.pairs)
	return a, nil
}

func (a *Account) Wallet() Wallet { return a.wallet }

// Rejections counts orders refused by trading rules since creation.
func (a *Account) Rejections() int { return a.rejections }

// Instrument returns the trading rules for pair. Unknown pairs panic.
func (a *Account) Instrument(pair string) Instrument {
	inst, ok := a.instruments[pair]
	if !ok {
		panic(fmt.Sprintf("account: unknown pair %q", pair))
	}
	return inst
}

// Position returns a copy of the position on pair. Unknown pairs panic.
func (a *Account) Position(pair string) Position {
	return *a.position(pair)
}

func (a *Account) position(pair string) *Position {
	pos, ok := a.positions[pair]
	if !ok {
		panic(fmt.Sprintf("account: unknown pair %q", pair))
	}
	return pos
}

// LockedMargin sums the margin held by every open position.
func (a *Account) LockedMargin() float64 {
	total := 0.0
	for _, pair := range a.pairs {
		total += a.positions[pair].Margin
	}
	return total
}

// NormalizeQuantity rounds qty down to the instrument step.
func NormalizeQuantity(inst Instrument, qty float64) float64 {
	if inst.QuantityStep <= 0 || qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return qty
	}
	step := decimal.NewFromFloat(inst.QuantityStep)
	steps := decimal.NewFromFloat(qty).Div(step).Floor()
	out, _ := steps.Mul(step).Float64()
	return out
}

func (a *Account) checkQuantity(inst Instrument, qty float64) (float64, error) {
	if math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQuantity, qty)
	}
	normalized := NormalizeQuantity(inst, qty)
	if normalized <= 0 || normalized < inst.MinQuantity {
		return 0, fmt.Errorf("%w: %s quantity=%v min=%v", ErrQuantityBelowMinimum, inst.Pair, qty, inst.MinQuantity)
	}
	return normalized, nil
}

func checkPrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	return nil
}

func (a *Account) reject(op, pair string, qty float64, err error) error {
	a.rejections++
	a.logger.Warn("order rejected",
		zap.String("op", op),
		zap.String("pair", pair),
		zap.Float64("quantity", qty),
		zap.Error(err),
	)
	return err
}

// OrderMarket fills qty at price immediately with the taker fee. A rejected
// order leaves the account unchanged.
func (a *Account) OrderMarket(pair string, side Side, price, qty float64) (Fill, error) {
	fill, err := a.fill(fillRequest{
		pair:    pair,
		side:    side,
		price:   price,
		qty:     qty,
		feeRate: a.fees.Taker,
		reason:  ReasonMarket,
	})
	if err != nil {
		return Fill{}, a.reject("market", pair, qty, err)
	}
	return fill, nil
}

// ClosePosition flattens the position on pair at price. It is a no-op when
// the position is already flat.
func (a *Account) ClosePosition(pair string, price float64, reason string) (Fill, bool, error) {
	pos := a.position(pair)
	if pos.Flat() {
		return Fill{}, false, nil
	}
	side := Sell
	if pos.Short() {
		side = Buy
	}
	fill, err := a.fill(fillRequest{
		pair:     pair,
		side:     side,
		price:    price,
		qty:      pos.Quantity(),
		feeRate:  a.fees.Taker,
		closeAll: true,
		reason:   reason,
	})
	if err != nil {
		return Fill{}, false, a.reject("close", pair, pos.Quantity(), err)
	}
	return fill, true, nil
}

// CloseAll settles every open position at the given prices and drops all
// resting orders. Pairs missing from prices keep their position.
func (a *Account) CloseAll(prices map[string]float64, reason string) []Fill {
	fills := make([]Fill, 0)
	for _, pair := range a.pairs {
		price, ok := prices[pair]
		if !ok {
			continue
		}
		fill, closed, err := a.ClosePosition(pair, price, reason)
		if err == nil && closed {
			fills = append(fills, fill)
		}
		a.CancelOrders(pair)
	}
	return fills
}

// Mark revalues the position on pair at price.
func (a *Account) Mark(pair string, price float64) {
	pos := a.position(pair)
	pos.UnrealizedProfit = pos.ProfitAt(price)
	total := 0.0
	for _, p := range a.pairs {
		total += a.positions[p].UnrealizedProfit
	}
	a.wallet.TotalUnrealizedProfit = total
}

// CheckLiquidation marks pair at price and force-closes the position when its
// margin plus open profit is exhausted.
func (a *Account) CheckLiquidation(pair string, price float64) (Fill, bool) {
	a.Mark(pair, price)
	pos := a.position(pair)
	if pos.Flat() || pos.Margin+pos.UnrealizedProfit > 0 {
		return Fill{}, false
	}
	fill, closed, err := a.ClosePosition(pair, price, ReasonLiquidation)
	if err != nil || !closed {
		return Fill{}, false
	}
	a.CancelOrders(pair)
	a.Mark(pair, price)
	return fill, true
}

type fillRequest struct {
	pair       string
	side       Side
	price      float64
	qty        float64
	feeRate    float64
	reduceOnly bool
	// closeAll takes the position size as is, skipping step rounding.
	closeAll bool
	reason   string
	orderID  string
}

// fill executes one trade. All validation happens before any state changes.
// When the flip remainder of an opposite fill lacks margin, the close is
// executed alone and the remainder is counted as a rejection.
func (a *Account) fill(req fillRequest) (Fill, error) {
	pair, side, price, feeRate := req.pair, req.side, req.price, req.feeRate
	inst := a.Instrument(pair)
	pos := a.position(pair)
	if err := checkPrice(price); err != nil {
		return Fill{}, err
	}
	qty := req.qty
	if !req.closeAll {
		var err error
		qty, err = a.checkQuantity(inst, qty)
		if err != nil {
			return Fill{}, err
		}
	}

	opening := pos.Flat() || (pos.Long() && side == Buy) || (pos.Short() && side == Sell)
	closeQty := 0.0
	if !opening {
		closeQty = math.Min(qty, pos.Quantity())
	}
	openQty := qty - closeQty
	if req.reduceOnly {
		if closeQty == 0 {
			return Fill{}, ErrNothingToReduce
		}
		openQty = 0
		qty = closeQty
	}

	// Closing leg.
	closedMargin, pnl, closeFee := 0.0, 0.0, 0.0
	if closeQty > 0 {
		closedMargin = pos.Margin * closeQty / pos.Quantity()
		partial := *pos
		partial.Margin = closedMargin
		pnl = partial.ProfitAt(price)
		closeFee = price * closeQty * feeRate
	}

	// Opening leg.
	openMargin, openFee := 0.0, 0.0
	if openQty > 0 {
		openMargin = price * openQty / inst.Leverage
		openFee = price * openQty * feeRate
		available := a.wallet.AvailableBalance + closedMargin + pnl - closeFee
		if available < openMargin+openFee {
			err := fmt.Errorf("%w: need=%.8f available=%.8f", ErrInsufficientMargin, openMargin+openFee, available)
			if closeQty == 0 {
				return Fill{}, err
			}
			// The closing leg still executes; only the flip is refused.
			a.reject("flip", pair, openQty, err)
			openQty, openMargin, openFee = 0, 0, 0
			qty = closeQty
		}
	}

	if closeQty > 0 {
		remaining := pos.Quantity() - closeQty
		pos.Margin -= closedMargin
		a.wallet.AvailableBalance += closedMargin + pnl - closeFee
		a.wallet.TotalWalletBalance += pnl - closeFee
		a.wallet.RealizedProfit += pnl
		if remaining <= 0 || isDust(inst, remaining) {
			pos.Size = 0
			pos.EntryPrice = 0
			a.wallet.AvailableBalance += pos.Margin
			pos.Margin = 0
			pos.UnrealizedProfit = 0
		} else if pos.Long() {
			pos.Size = remaining
		} else {
			pos.Size = -remaining
		}
	}

	if openQty > 0 {
		held := pos.Quantity()
		pos.EntryPrice = (pos.EntryPrice*held + price*openQty) / (held + openQty)
		pos.Size += side.sign() * openQty
		pos.Margin += openMargin
		a.wallet.AvailableBalance -= openMargin + openFee
		a.wallet.TotalWalletBalance -= openFee
	}

	fee := closeFee + openFee
	a.wallet.TotalFees += fee
	if pos.Flat() {
		a.expireReduceOnly(pair)
	}
	a.Mark(pair, price)

	return Fill{
		OrderID:        req.orderID,
		Pair:           pair,
		Side:           side,
		Price:          price,
		Quantity:       qty,
		ClosedQuantity: closeQty,
		Fee:            fee,
		RealizedProfit: pnl,
		Maker:          req.reason == ReasonLimit,
		Reason:         req.reason,
	}, nil
}

// isDust reports a residual size too small to ever be traded again.
func isDust(inst Instrument, remaining float64) bool {
	if inst.QuantityStep > 0 {
		return remaining < inst.QuantityStep/2
	}
	return remaining < 1e-12
}
