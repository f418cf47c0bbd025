package agent

import (
	"fmt"
	"math"

	"neattrade/internal/account"
	"neattrade/internal/genome"
	"neattrade/internal/indicators"
	"neattrade/internal/model"
	"neattrade/internal/strategy"
)

const (
	DeathBankrupt    = "bankrupt"
	DeathInactive    = "inactive"
	DeathDrawdown    = "drawdown"
	DeathWinRate     = "win_rate"
	DeathProfitRatio = "profit_ratio"
)

// Agent drives one genome through a candle replay against its own simulated
// account. Agents share nothing mutable, so different agents may be updated
// concurrently; a single agent must not.
type Agent struct {
	genome  *genome.Genome
	cfg     Config
	source  func(model.Candle) float64
	matrix  *indicators.Matrix
	account *account.Account

	stats       TradingStats
	alive       bool
	deathReason string
	fitness     float64
	inputs      []float64
	outputs     []float64
}

// New binds g to a fresh account. matrix is required in indicator input
// mode and must cover the candles later passed to Update.
func New(g *genome.Genome, cfg Config, matrix *indicators.Matrix) (*Agent, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: genome is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if g.Inputs() != cfg.Inputs() || g.Outputs() != cfg.Outputs() {
		return nil, fmt.Errorf("%w: genome %dx%d, config %dx%d", ErrShapeMismatch, g.Inputs(), g.Outputs(), cfg.Inputs(), cfg.Outputs())
	}
	if cfg.InputMode == InputIndicators && matrix == nil {
		return nil, fmt.Errorf("%w: indicator matrix is required", ErrInvalidConfig)
	}
	source, err := priceSource(cfg.PriceSource)
	if err != nil && cfg.InputMode == InputPriceWindow {
		return nil, err
	}
	acct, err := account.New(cfg.accountConfig())
	if err != nil {
		return nil, err
	}
	return &Agent{
		genome:  g,
		cfg:     cfg,
		source:  source,
		matrix:  matrix,
		account: acct,
		stats:   newTradingStats(cfg.InitialBalance),
		alive:   true,
		fitness: cfg.InitialBalance,
	}, nil
}

func (a *Agent) Genome() *genome.Genome    { return a.genome }
func (a *Agent) Account() *account.Account { return a.account }
func (a *Agent) Alive() bool               { return a.alive }
func (a *Agent) DeathReason() string       { return a.deathReason }
func (a *Agent) Stats() TradingStats       { return a.stats }
func (a *Agent) Outputs() []float64        { return append([]float64(nil), a.outputs...) }

// Fitness is locked at death or at the end of the replay.
func (a *Agent) Fitness() float64 { return a.fitness }

// Update advances the agent by one candle: resting orders, liquidation guard,
// decision at the candle close, bookkeeping and death checks.
func (a *Agent) Update(candles []model.Candle, t int) {
	if !a.alive || t < 0 || t >= len(candles) {
		return
	}
	candle := candles[t]
	pair := a.cfg.Instrument.Pair

	for _, fill := range a.account.CheckOpenOrders(pair, candle) {
		a.stats.Record(fill)
	}
	a.account.Mark(pair, candle.Close)
	if fill, liquidated := a.account.CheckLiquidation(pair, candle.Close); liquidated {
		a.stats.Record(fill)
		a.stats.Liquidations++
	}

	if a.Look(candles, t) {
		if err := a.Think(); err == nil {
			a.Trade(candles, t)
		}
	}

	a.account.Mark(pair, candle.Close)
	a.stats.RejectedOrders = a.account.Rejections()
	a.stats.Observe(a.account.Wallet().MarginBalance())
	a.stats.Lifespan++

	if reason, dead := a.checkDeath(); dead {
		a.die(reason, candle.Close)
	}
}

// Look builds the input vector for candle t.
func (a *Agent) Look(candles []model.Candle, t int) bool {
	holding := !a.account.Position(a.cfg.Instrument.Pair).Flat()
	inputs, ok := look(a.cfg, a.source, candles, t, a.matrix, holding)
	if !ok {
		return false
	}
	a.inputs = inputs
	return true
}

// Think runs the network on the last inputs.
func (a *Agent) Think() error {
	out, err := a.genome.FeedForward(a.inputs)
	if err != nil {
		return err
	}
	a.outputs = out
	return nil
}

// Trade acts on the last outputs at the close of candle t.
func (a *Agent) Trade(candles []model.Candle, t int) Action {
	action := interpret(a.outputs, a.cfg.SignalThreshold)
	candle := candles[t]
	pair := a.cfg.Instrument.Pair

	switch action {
	case OpenLong:
		a.enter(candles, t, strategy.Long)
	case OpenShort:
		a.enter(candles, t, strategy.Short)
	case Close:
		fill, closed, err := a.account.ClosePosition(pair, candle.Close, account.ReasonMarket)
		if err == nil && closed {
			a.stats.Record(fill)
		}
		a.account.CancelOrders(pair)
	}
	return action
}

func (a *Agent) enter(candles []model.Candle, t int, dir strategy.Direction) {
	candle := candles[t]
	pair := a.cfg.Instrument.Pair
	if !strategy.InSession(a.cfg.Sessions, strategy.CandleTime(candle)) {
		return
	}
	history := tail(candles, t, a.cfg.HistoryWindow)
	if a.cfg.Trend != nil && !a.cfg.Trend.Allows(history, dir) {
		return
	}

	pos := a.account.Position(pair)
	sameSide := (dir == strategy.Long && pos.Long()) || (dir == strategy.Short && pos.Short())
	opposite := (dir == strategy.Long && pos.Short()) || (dir == strategy.Short && pos.Long())
	if !a.cfg.Pyramiding && (sameSide || opposite) {
		return
	}

	price := candle.Close
	var exits strategy.Exits
	if a.cfg.Exit != nil {
		planned, ok := a.cfg.Exit.Exits(history, dir, price)
		if !ok {
			return
		}
		exits = planned
	}

	wallet := a.account.Wallet()
	qty := a.cfg.Risk.Quantity(strategy.SizeRequest{
		Direction: dir,
		Price:     price,
		StopPrice: exits.StopLoss,
		Available: wallet.AvailableBalance,
		Balance:   wallet.TotalWalletBalance,
		Leverage:  a.cfg.Instrument.Leverage,
	})
	if sameSide {
		room := a.cfg.MaxAllocation*wallet.TotalWalletBalance - pos.Margin
		maxQty := room * a.cfg.Instrument.Leverage / price
		qty = math.Min(qty, maxQty)
	}
	if qty <= 0 || math.IsNaN(qty) {
		return
	}

	side := account.Buy
	if dir == strategy.Short {
		side = account.Sell
	}
	fill, err := a.account.OrderMarket(pair, side, price, qty)
	if err != nil {
		return
	}
	a.stats.Record(fill)
	a.placeExits(history)
}

// placeExits replaces the resting exits with ones computed from the current
// average entry.
func (a *Agent) placeExits(history []model.Candle) {
	if a.cfg.Exit == nil {
		return
	}
	pair := a.cfg.Instrument.Pair
	a.account.CancelOrders(pair)
	pos := a.account.Position(pair)
	if pos.Flat() {
		return
	}
	dir := strategy.Long
	closing := account.Sell
	if pos.Short() {
		dir = strategy.Short
		closing = account.Buy
	}
	exits, ok := a.cfg.Exit.Exits(history, dir, pos.EntryPrice)
	if !ok {
		return
	}
	qty := pos.Quantity()
	if exits.TakeProfit > 0 {
		a.account.PlaceLimitOrder(pair, closing, exits.TakeProfit, qty, true)
	}
	if exits.StopLoss > 0 {
		a.account.PlaceLimitOrder(pair, closing, exits.StopLoss, qty, true)
	}
	if exits.Trailing() {
		a.account.PlaceTrailingStop(pair, closing, qty, exits.TrailingActivation, exits.CallbackRate)
	}
}

func (a *Agent) checkDeath() (string, bool) {
	wallet := a.account.Wallet()
	if wallet.TotalWalletBalance <= 0 {
		return DeathBankrupt, true
	}
	if a.cfg.InactivityLimit > 0 && a.stats.Lifespan >= a.cfg.InactivityLimit && a.stats.TotalTrades == 0 {
		return DeathInactive, true
	}
	if a.cfg.Goals.DrawdownExceeded(a.stats.MaxRelativeDrawdown) {
		return DeathDrawdown, true
	}
	if a.stats.TotalTrades >= a.cfg.MinTradesForGoals {
		rate, ok := a.stats.WinRate()
		if a.cfg.Goals.WinRateMissed(rate, ok) {
			return DeathWinRate, true
		}
		ratio, ok := a.stats.ProfitRatio()
		if a.cfg.Goals.ProfitRatioMissed(ratio, ok) {
			return DeathProfitRatio, true
		}
	}
	return "", false
}

func (a *Agent) die(reason string, price float64) {
	a.deathReason = reason
	a.settle(price)
}

// Finish ends the replay for a surviving agent, settling at price.
func (a *Agent) Finish(price float64) {
	if !a.alive {
		return
	}
	a.settle(price)
}

func (a *Agent) settle(price float64) {
	pair := a.cfg.Instrument.Pair
	for _, fill := range a.account.CloseAll(map[string]float64{pair: price}, account.ReasonSettlement) {
		a.stats.Record(fill)
	}
	wallet := a.account.Wallet()
	a.stats.FinalBalance = wallet.TotalWalletBalance
	a.stats.RejectedOrders = a.account.Rejections()
	a.alive = false
	switch a.cfg.FitnessMode {
	case FitnessNetProfit:
		a.fitness = wallet.TotalWalletBalance - wallet.InitialBalance
	default:
		a.fitness = wallet.TotalWalletBalance
	}
}
