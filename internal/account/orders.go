package account

import (
	"fmt"
	"math"
	"sort"

	"neattrade/internal/model"
)

// PlaceLimitOrder rests a LIMIT order that fills at price with the maker fee
// once a candle trades through it.
func (a *Account) PlaceLimitOrder(pair string, side Side, price, qty float64, reduceOnly bool) (Order, error) {
	inst := a.Instrument(pair)
	if err := checkPrice(price); err != nil {
		return Order{}, a.reject("limit", pair, qty, err)
	}
	normalized, err := a.checkQuantity(inst, qty)
	if err != nil {
		return Order{}, a.reject("limit", pair, qty, err)
	}
	order := a.newOrder(pair, Limit, side, normalized, reduceOnly)
	order.Price = price
	order.Status = StatusNew
	a.orders = append(a.orders, order)
	return *order, nil
}

// PlaceTrailingStop rests a reduce-only trailing stop. It stays PENDING until
// a candle reaches activationPrice and can fill from the following candle on.
func (a *Account) PlaceTrailingStop(pair string, side Side, qty, activationPrice, callbackRate float64) (Order, error) {
	inst := a.Instrument(pair)
	if err := checkPrice(activationPrice); err != nil {
		return Order{}, a.reject("trailing_stop", pair, qty, err)
	}
	if callbackRate <= 0 || callbackRate >= 1 || math.IsNaN(callbackRate) {
		return Order{}, a.reject("trailing_stop", pair, qty, fmt.Errorf("%w: callback rate %v", ErrInvalidPrice, callbackRate))
	}
	normalized, err := a.checkQuantity(inst, qty)
	if err != nil {
		return Order{}, a.reject("trailing_stop", pair, qty, err)
	}
	order := a.newOrder(pair, TrailingStop, side, normalized, true)
	order.ActivationPrice = activationPrice
	order.CallbackRate = callbackRate
	order.Status = StatusPending
	a.orders = append(a.orders, order)
	return *order, nil
}

func (a *Account) newOrder(pair string, typ OrderType, side Side, qty float64, reduceOnly bool) *Order {
	a.nextOrder++
	return &Order{
		ID:         fmt.Sprintf("%s-%d", pair, a.nextOrder),
		Pair:       pair,
		Type:       typ,
		Side:       side,
		Quantity:   qty,
		ReduceOnly: reduceOnly,
		seq:        a.nextOrder,
	}
}

// OpenOrders returns copies of the resting orders on pair in placement order.
func (a *Account) OpenOrders(pair string) []Order {
	a.Instrument(pair)
	out := make([]Order, 0, len(a.orders))
	for _, o := range a.orders {
		if o.Pair == pair && o.Status.open() {
			out = append(out, *o)
		}
	}
	return out
}

// CancelOrders drops every resting order on pair.
func (a *Account) CancelOrders(pair string) int {
	a.Instrument(pair)
	canceled := 0
	for _, o := range a.orders {
		if o.Pair == pair && o.Status.open() {
			o.Status = StatusCanceled
			canceled++
		}
	}
	a.prune()
	return canceled
}

func (a *Account) expireReduceOnly(pair string) {
	for _, o := range a.orders {
		if o.Pair != pair || !o.ReduceOnly || !o.Status.open() {
			continue
		}
		if o.Type == TrailingStop {
			o.Status = StatusExpired
		} else {
			o.Status = StatusCanceled
		}
	}
}

func (a *Account) prune() {
	kept := a.orders[:0]
	for _, o := range a.orders {
		if o.Status.open() {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(a.orders); i++ {
		a.orders[i] = nil
	}
	a.orders = kept
}

// CheckOpenOrders runs the resting orders on pair against one candle. Each
// side is processed nearest-price-first and stops as soon as a fill leaves
// the position flat, so a single candle never double-fills an exit.
func (a *Account) CheckOpenOrders(pair string, candle model.Candle) []Fill {
	a.Instrument(pair)
	if len(a.orders) == 0 {
		return nil
	}

	// Orders activated by this candle must wait for the next one.
	activeBefore := make(map[*Order]bool)
	for _, o := range a.orders {
		if o.Pair == pair && o.Status == StatusActive {
			activeBefore[o] = true
		}
	}

	var fills []Fill
	for _, side := range []Side{Buy, Sell} {
		queue := a.sideQueue(pair, side, candle)
		for _, o := range queue {
			if !o.Status.open() {
				continue
			}
			fill, filled := a.tryOrder(o, candle, activeBefore[o])
			if !filled {
				continue
			}
			fills = append(fills, fill)
			if a.position(pair).Flat() {
				break
			}
		}
	}
	a.prune()
	return fills
}

func (a *Account) sideQueue(pair string, side Side, candle model.Candle) []*Order {
	queue := make([]*Order, 0)
	for _, o := range a.orders {
		if o.Pair == pair && o.Side == side && o.Status.open() {
			queue = append(queue, o)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		di := math.Abs(queue[i].referencePrice(candle) - candle.Open)
		dj := math.Abs(queue[j].referencePrice(candle) - candle.Open)
		if di != dj {
			return di < dj
		}
		return queue[i].seq < queue[j].seq
	})
	return queue
}

func (o *Order) referencePrice(candle model.Candle) float64 {
	if o.Type == Limit {
		return o.Price
	}
	if o.Status == StatusPending {
		return o.ActivationPrice
	}
	return o.triggerPrice(candle)
}

// triggerPrice is the callback level measured from the candle open.
func (o *Order) triggerPrice(candle model.Candle) float64 {
	if o.Side == Sell {
		return candle.Open * (1 - o.CallbackRate)
	}
	return candle.Open * (1 + o.CallbackRate)
}

func (a *Account) tryOrder(o *Order, candle model.Candle, wasActive bool) (Fill, bool) {
	switch o.Type {
	case Limit:
		if !(candle.Low < o.Price && o.Price < candle.High) {
			return Fill{}, false
		}
		return a.execute(o, o.Price, a.fees.Maker, ReasonLimit)
	case TrailingStop:
		if o.Status == StatusPending {
			if o.activatedBy(candle) {
				o.Status = StatusActive
			}
			return Fill{}, false
		}
		if !wasActive {
			return Fill{}, false
		}
		trigger := o.triggerPrice(candle)
		if o.Side == Sell && candle.Low > trigger {
			return Fill{}, false
		}
		if o.Side == Buy && candle.High < trigger {
			return Fill{}, false
		}
		return a.execute(o, trigger, a.fees.Taker, ReasonTrailingStop)
	}
	return Fill{}, false
}

func (o *Order) activatedBy(candle model.Candle) bool {
	if o.Side == Sell {
		return candle.High >= o.ActivationPrice
	}
	return candle.Low <= o.ActivationPrice
}

func (a *Account) execute(o *Order, price, feeRate float64, reason string) (Fill, bool) {
	fill, err := a.fill(fillRequest{
		pair:       o.Pair,
		side:       o.Side,
		price:      price,
		qty:        o.Quantity,
		feeRate:    feeRate,
		reduceOnly: o.ReduceOnly,
		reason:     reason,
		orderID:    o.ID,
	})
	if err != nil {
		o.Status = StatusCanceled
		a.reject(string(o.Type), o.Pair, o.Quantity, err)
		return Fill{}, false
	}
	o.Status = StatusFilled
	return fill, true
}
