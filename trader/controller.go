package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/evdnx/golog"
	"github.com/google/uuid"
	"github.com/kylerberry/JACT/candles"
	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/internal/logutil"
	"github.com/kylerberry/JACT/ledger"
	"github.com/kylerberry/JACT/models"
	"github.com/kylerberry/JACT/strategy"
)

const (
	controllerComponent = "controller"
	eventQueueSize      = 1024
	cancelAfterMinute   = "min"
)

// ErrStopped is returned by Sync once the loop has exited.
var ErrStopped = errors.New("controller stopped")

// Deps are the collaborators a controller drives.
type Deps struct {
	Gateway    exchange.Gateway
	Ledger     *ledger.Ledger
	Strategy   strategy.Strategy
	Aggregator *candles.Aggregator
	Series     *candles.Series
}

type activeOrder struct {
	clientOID string
	orderID   string
	side      exchange.OrderSide
	stop      bool
}

// pendingStop is a stop loss waiting for the resting order to leave the
// book before the market sell goes out.
type pendingStop struct {
	clientOID string
	// orderID is set once the cancel has been sent.
	orderID string
	price   float64
}

// Controller turns strategy signals into at most one outstanding order and
// reconciles that order from feed events. All state is owned by the Run
// loop; other goroutines talk to it through Submit.
type Controller struct {
	settings   Settings
	gateway    exchange.Gateway
	ledger     *ledger.Ledger
	strategy   strategy.Strategy
	aggregator *candles.Aggregator
	series     *candles.Series
	quote      string

	logger   *golog.Logger
	notifier Notifier
	now      func() time.Time
	sync     bool
	manual   bool

	events   chan Event
	stopped  chan struct{}
	running  atomic.Bool
	snapshot atomic.Pointer[Snapshot]
	ctx      context.Context
	ticker   *time.Ticker

	state             State
	lastSignal        strategy.Signal
	orderPlaced       bool
	stopLossTriggered bool
	signaledBuy       float64
	signaledSell      float64
	active            activeOrder
	stop              *pendingStop
	// clientOIDs maps client_oid to order id and ours maps back. Entries
	// are dropped once the order is done.
	clientOIDs    map[string]string
	ours          map[string]string
	orderFailures int
	bestBid       float64
	bestAsk       float64
	cycles        int
}

// NewController wires a controller. Aggregator and Series are created when
// omitted.
func NewController(cfg Settings, deps Deps, opts ...Option) (*Controller, error) {
	if deps.Gateway == nil {
		return nil, fmt.Errorf("controller requires a gateway")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("controller requires a ledger")
	}
	if deps.Strategy == nil {
		return nil, fmt.Errorf("controller requires a strategy")
	}
	if cfg.ProductID == "" {
		return nil, fmt.Errorf("controller requires a product id")
	}
	if cfg.Granularity <= 0 {
		return nil, fmt.Errorf("granularity must be positive, got %s", cfg.Granularity)
	}
	if deps.Aggregator == nil {
		deps.Aggregator = candles.NewAggregator(cfg.Granularity)
	}
	if deps.Series == nil {
		deps.Series = candles.NewSeries(candles.DefaultCapacity)
	}
	_, quote := exchange.SplitProduct(cfg.ProductID)

	c := &Controller{
		settings:   cfg,
		gateway:    deps.Gateway,
		ledger:     deps.Ledger,
		strategy:   deps.Strategy,
		aggregator: deps.Aggregator,
		series:     deps.Series,
		quote:      quote,
		logger:     logutil.Default(),
		now:        time.Now,
		events:     make(chan Event, eventQueueSize),
		stopped:    make(chan struct{}),
		ctx:        context.Background(),
		state:      StateIdle,
		clientOIDs: make(map[string]string),
		ours:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.aggregator.OnClose(func(candle models.Candle) {
		c.series.Append(candle)
	})
	c.publish()
	return c, nil
}

// Submit queues an event for the loop. It drops the event once the loop
// has exited.
func (c *Controller) Submit(ev Event) {
	if ev == nil {
		return
	}
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// Sync blocks until every event submitted before it has been handled.
func (c *Controller) Sync(ctx context.Context) error {
	b := barrier{done: make(chan struct{})}
	select {
	case c.events <- b:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-b.done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the flags as of the last handled event.
func (c *Controller) Snapshot() Snapshot {
	if s := c.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{State: StateIdle, OrdersResolved: true}
}

// Run owns the controller state until ctx is done. A trade cycle fires
// every granularity unless the timer is disabled.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("controller already running")
	}
	c.ctx = ctx
	defer close(c.stopped)

	var tick <-chan time.Time
	if !c.manual {
		c.ticker = time.NewTicker(c.settings.Granularity)
		defer c.ticker.Stop()
		tick = c.ticker.C
	}

	c.logger.Info("controller started",
		golog.String("component", controllerComponent),
		golog.String("product", c.settings.ProductID),
		golog.String("strategy", c.strategy.Name()),
		golog.String("granularity", c.settings.Granularity.String()),
	)
	c.refreshBalances()
	c.publish()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped",
				golog.String("component", controllerComponent),
			)
			return nil
		case at := <-tick:
			c.handle(TradeTick{At: at})
		case ev := <-c.events:
			c.handle(ev)
		}
		c.publish()
	}
}

func (c *Controller) handle(ev Event) {
	switch e := ev.(type) {
	case nil:
	case FeedEvent:
		c.handleFeed(e.FeedEvent)
	case TradeTick:
		candle, ok := c.aggregator.Flush()
		if !ok {
			c.logger.Debug("no ticks yet, skipping cycle")
			return
		}
		c.series.Append(candle)
		c.trade(candle)
	case CandleClosed:
		c.series.Append(e.Candle)
		c.trade(e.Candle)
	case SettingsUpdate:
		c.applySettings(e.Settings)
	case orderResult:
		c.onOrderResult(e)
	case cancelResult:
		c.onCancelResult(e)
	case balanceResult:
		if e.err != nil {
			c.logger.Warn("balance refresh failed",
				golog.String("component", controllerComponent),
				golog.String("error", e.err.Error()),
			)
			return
		}
		c.ledger.SetAvailableFunds(e.available)
	case barrier:
		close(e.done)
	}
}

func (c *Controller) applySettings(s Settings) {
	if s.ProductID == "" {
		s.ProductID = c.settings.ProductID
	}
	if s.Granularity <= 0 {
		s.Granularity = c.settings.Granularity
	}
	if c.ticker != nil && s.Granularity != c.settings.Granularity {
		c.ticker.Reset(s.Granularity)
	}
	c.settings = s
}

// dispatch runs a gateway call off the loop and feeds its result back in.
func (c *Controller) dispatch(call func(ctx context.Context) Event) {
	if c.sync {
		c.handle(call(c.ctx))
		return
	}
	ctx := c.ctx
	go func() {
		c.Submit(call(ctx))
	}()
}

func (c *Controller) trade(candle models.Candle) {
	c.cycles++
	c.updateQuotes(candle.BestBid, candle.BestAsk, candle.Close)

	if c.stopLossTriggered {
		if s := c.stop; s != nil && s.orderID != "" {
			c.logger.Warn("stop loss still waiting on cancel, retrying",
				golog.String("component", controllerComponent),
				golog.String("order_id", s.orderID),
			)
			c.cancelOrder(s.orderID)
			return
		}
		c.narrate("stop loss in flight, skipping cycle")
		return
	}

	signal, err := c.strategy.Evaluate(c.series.Get())
	if err != nil {
		if !errors.Is(err, strategy.ErrInsufficientHistory) {
			c.logger.Warn("strategy evaluation failed",
				golog.String("component", controllerComponent),
				golog.String("strategy", c.strategy.Name()),
				golog.String("error", err.Error()),
			)
		}
		signal = strategy.Neutral
	}
	c.lastSignal = signal
	if !c.orderPlaced {
		c.state = StateSignalEvaluated
	}
	if c.settings.Logging {
		c.logger.Info("signal evaluated",
			golog.String("component", controllerComponent),
			golog.String("signal", signal.String()),
			golog.String("close", exchange.FormatAmount(candle.Close)),
		)
	}

	switch {
	case c.ledger.ShouldTriggerStop(candle.Close, c.settings.StopLoss):
		c.stopLosses(candle.Close)
	case signal == strategy.Long:
		c.longPosition()
	case signal == strategy.Short:
		c.shortPosition()
	}
}

func (c *Controller) updateQuotes(bid, ask, last float64) {
	switch {
	case bid > 0:
		c.bestBid = bid
	case last > 0:
		c.bestBid = last
	}
	switch {
	case ask > 0:
		c.bestAsk = ask
	case last > 0:
		c.bestAsk = last
	}
}

func (c *Controller) stopLosses(price float64) {
	position := c.ledger.GetRemainingPositionSize()
	if position < c.ledger.MinimumOrderSize() {
		c.narrate("position too small to stop out")
		return
	}
	c.logger.Warn("stop loss triggered",
		golog.String("component", controllerComponent),
		golog.String("price", exchange.FormatAmount(price)),
		golog.String("position", exchange.FormatAmount(position)),
	)
	c.stopLossTriggered = true
	if !c.orderPlaced {
		c.sellStop(price)
		return
	}

	// The resting order holds funds until it leaves the book, so the market
	// sell waits for the cancel or its done event.
	c.stop = &pendingStop{clientOID: c.active.clientOID, price: price}
	if c.active.orderID == "" {
		c.logger.Warn("resting order not acknowledged yet, cancel deferred",
			golog.String("component", controllerComponent),
			golog.String("client_oid", c.active.clientOID),
		)
		return
	}
	c.cancelForStop(c.active.orderID)
}

func (c *Controller) cancelForStop(orderID string) {
	c.stop.orderID = orderID
	c.logger.Warn("canceling resting order before stop loss sell",
		golog.String("component", controllerComponent),
		golog.String("order_id", orderID),
	)
	c.cancelOrder(orderID)
}

// releaseStop sends the pending stop loss sell once the resting order is
// off the book.
func (c *Controller) releaseStop() {
	s := c.stop
	if s == nil {
		return
	}
	c.stop = nil
	c.sellStop(s.price)
}

// sellStop sells whatever position is left at market.
func (c *Controller) sellStop(price float64) {
	position := c.ledger.GetRemainingPositionSize()
	if position < c.ledger.MinimumOrderSize() {
		c.narrate("position closed before the stop loss sell")
		c.resolve()
		return
	}
	c.placeOrder(exchange.OrderRequest{
		Side:  exchange.OrderSideSell,
		Type:  exchange.OrderTypeMarket,
		Size:  position,
		Price: price,
	}, true)
}

func (c *Controller) longPosition() {
	if c.orderPlaced {
		c.narrate("cannot buy while orders are unresolved")
		return
	}
	if c.ledger.GetRemainingPositionSize() >= c.ledger.MinimumOrderSize() {
		c.narrate("already long")
		return
	}
	if c.bestBid <= 0 {
		c.narrate("no best bid yet")
		return
	}
	size, err := c.ledger.GetOrderSize(c.bestBid)
	if err != nil || size < c.ledger.MinimumOrderSize() {
		c.logger.Warn("insufficient funds for a buy",
			golog.String("component", controllerComponent),
			golog.String("funds", exchange.FormatAmount(c.ledger.GetFundingAmount())),
			golog.String("best_bid", exchange.FormatAmount(c.bestBid)),
		)
		c.refreshBalances()
		return
	}
	c.signaledBuy = c.bestBid
	c.placeOrder(c.limitOrder(exchange.OrderSideBuy, size, c.bestBid), false)
}

func (c *Controller) shortPosition() {
	if c.orderPlaced {
		c.narrate("cannot sell while orders are unresolved")
		return
	}
	position := c.ledger.GetRemainingPositionSize()
	if position < c.ledger.MinimumOrderSize() {
		c.narrate("nothing to sell")
		return
	}
	if c.bestAsk <= 0 {
		c.narrate("no best ask yet")
		return
	}
	c.signaledSell = c.bestAsk
	c.placeOrder(c.limitOrder(exchange.OrderSideSell, position, c.bestAsk), false)
}

func (c *Controller) limitOrder(side exchange.OrderSide, size, price float64) exchange.OrderRequest {
	return exchange.OrderRequest{
		Side:        side,
		Type:        exchange.OrderTypeLimit,
		Size:        size,
		Price:       price,
		PostOnly:    true,
		TimeInForce: exchange.TimeInForceGTT,
		CancelAfter: cancelAfterMinute,
	}
}

func (c *Controller) placeOrder(req exchange.OrderRequest, stop bool) {
	req.ClientOID = uuid.NewString()
	req.ProductID = c.settings.ProductID

	c.orderPlaced = true
	c.active = activeOrder{clientOID: req.ClientOID, side: req.Side, stop: stop}
	c.clientOIDs[req.ClientOID] = ""
	c.state = StateOrderPlaced

	if c.settings.Logging {
		c.logger.Info("placing order",
			golog.String("component", controllerComponent),
			golog.String("side", req.Side.String()),
			golog.String("type", req.Type.String()),
			golog.String("size", exchange.FormatAmount(req.Size)),
			golog.String("price", exchange.FormatAmount(req.Price)),
			golog.String("client_oid", req.ClientOID),
		)
	}

	gw := c.gateway
	now := c.now
	c.dispatch(func(ctx context.Context) Event {
		start := now()
		ack, err := gw.PlaceOrder(ctx, req)
		return orderResult{req: req, ack: ack, err: err, took: now().Sub(start)}
	})
}

func (c *Controller) onOrderResult(r orderResult) {
	if r.err != nil {
		c.logger.Error("order placement failed",
			golog.String("component", controllerComponent),
			golog.String("side", r.req.Side.String()),
			golog.String("client_oid", r.req.ClientOID),
			golog.String("error", r.err.Error()),
		)
		c.orderFailures++
		delete(c.clientOIDs, r.req.ClientOID)
		if s := c.stop; s != nil && s.clientOID == r.req.ClientOID {
			// The resting order never reached the book.
			c.releaseStop()
			return
		}
		if r.req.ClientOID != c.active.clientOID {
			return
		}
		if c.active.stop {
			c.logger.Warn("stop loss sell failed, next cycle will retry",
				golog.String("component", controllerComponent),
			)
		}
		c.resetFlags()
		c.refreshBalances()
		return
	}
	if r.ack == nil || r.ack.OrderID == "" {
		return
	}
	if c.settings.Logging {
		c.logger.Info("order acknowledged",
			golog.String("component", controllerComponent),
			golog.String("order_id", r.ack.OrderID),
			golog.String("status", r.ack.Status),
			golog.String("took", r.took.String()),
		)
	}
	c.track(r.req.ClientOID, r.ack.OrderID)
}

// track attributes orderID to a client_oid we placed. Acknowledgements
// that arrive after the order is done are ignored.
func (c *Controller) track(clientOID, orderID string) {
	if _, ok := c.clientOIDs[clientOID]; !ok {
		return
	}
	c.ours[orderID] = clientOID
	c.clientOIDs[clientOID] = orderID
	if c.active.clientOID == clientOID && c.active.orderID == "" {
		c.active.orderID = orderID
	}
	if s := c.stop; s != nil && s.clientOID == clientOID && s.orderID == "" {
		c.cancelForStop(orderID)
	}
}

// finish forgets a done order so late events for it are ignored.
func (c *Controller) finish(orderID string) {
	if clientOID, ok := c.ours[orderID]; ok {
		delete(c.clientOIDs, clientOID)
	}
	delete(c.ours, orderID)
}

func (c *Controller) cancelOrder(orderID string) {
	gw := c.gateway
	c.dispatch(func(ctx context.Context) Event {
		return cancelResult{orderID: orderID, err: gw.CancelOrder(ctx, orderID)}
	})
}

func (c *Controller) onCancelResult(r cancelResult) {
	if r.err != nil {
		c.logger.Warn("cancel failed",
			golog.String("component", controllerComponent),
			golog.String("order_id", r.orderID),
			golog.String("error", r.err.Error()),
		)
	} else {
		c.ledger.RemoveOpenOrder(r.orderID)
	}
	// A failed cancel usually means the order is already done, so the stop
	// sell goes out either way.
	if s := c.stop; s != nil && s.orderID == r.orderID {
		c.releaseStop()
	}
}

func (c *Controller) refreshBalances() {
	gw := c.gateway
	quote := c.quote
	c.dispatch(func(ctx context.Context) Event {
		balances, err := gw.GetBalances(ctx)
		if err != nil {
			return balanceResult{err: err}
		}
		b, ok := balances[quote]
		if !ok {
			return balanceResult{err: fmt.Errorf("no %s balance", quote)}
		}
		available, err := exchange.ParseAmount(b.Available)
		if err != nil {
			return balanceResult{err: fmt.Errorf("failed to parse %s balance: %w", quote, err)}
		}
		return balanceResult{available: available}
	})
}

func (c *Controller) handleFeed(ev exchange.FeedEvent) {
	switch ev.Type {
	case exchange.EventTicker:
		c.onTicker(ev)
	case exchange.EventReceived:
		c.onReceived(ev)
	case exchange.EventOpen:
		c.onOpen(ev)
	case exchange.EventMatch:
		c.onMatch(ev)
	case exchange.EventDone:
		c.onDone(ev)
	default:
		c.logger.Debug("feed event " + ev.Type)
	}
}

func (c *Controller) onTicker(ev exchange.FeedEvent) {
	if _, err := c.aggregator.Update(ev.Tick()); err != nil {
		c.logger.Warn("dropping tick",
			golog.String("component", controllerComponent),
			golog.String("error", err.Error()),
		)
		return
	}
	bid, _ := exchange.ParseAmount(ev.BestBid)
	ask, _ := exchange.ParseAmount(ev.BestAsk)
	price, _ := exchange.ParseAmount(ev.Price)
	c.updateQuotes(bid, ask, price)
}

// ourOrder returns the id of ours the event refers to.
func (c *Controller) ourOrder(ev exchange.FeedEvent) (string, bool) {
	for _, id := range ev.OrderIDs() {
		if _, ok := c.ours[id]; ok {
			return id, true
		}
	}
	return "", false
}

func (c *Controller) onReceived(ev exchange.FeedEvent) {
	if ev.ClientOID == "" {
		return
	}
	if _, ok := c.clientOIDs[ev.ClientOID]; !ok {
		return
	}
	if ev.OrderID == "" {
		c.logger.Warn("received event without order id",
			golog.String("component", controllerComponent),
			golog.String("client_oid", ev.ClientOID),
		)
		return
	}
	c.track(ev.ClientOID, ev.OrderID)
}

func (c *Controller) onOpen(ev exchange.FeedEvent) {
	if !c.orderPlaced {
		return
	}
	id, ok := c.ourOrder(ev)
	if !ok {
		return
	}
	remaining, err := ev.Remaining()
	if err != nil {
		c.logger.Warn("malformed open event",
			golog.String("component", controllerComponent),
			golog.String("order_id", id),
			golog.String("error", err.Error()),
		)
		return
	}
	price, _ := exchange.ParseAmount(ev.Price)
	c.ledger.AddOpenOrder(models.OpenOrder{
		OrderID:       id,
		Side:          strings.ToLower(ev.Side),
		Size:          remaining,
		Price:         price,
		RemainingSize: remaining,
		OpenedAt:      ev.Time,
	})
	if id == c.active.orderID {
		c.state = StateOpen
	}
}

func (c *Controller) onMatch(ev exchange.FeedEvent) {
	id, ok := c.ourOrder(ev)
	if !ok {
		return
	}
	raw := ev.Fill(id)
	// Matches carry the maker's side.
	if ev.TakerOrderID == id {
		raw.Side = flipSide(ev.Side)
	}
	if err := c.ledger.AddFilledRaw(raw); err != nil {
		c.logger.Warn("rejected fill",
			golog.String("component", controllerComponent),
			golog.String("order_id", id),
			golog.String("error", err.Error()),
		)
		return
	}
	if strings.EqualFold(raw.Side, exchange.OrderSideBuy.String()) && c.signaledBuy > 0 {
		c.ledger.RecordSignal(id, c.signaledBuy)
	}
	c.ledger.RemoveOpenOrder(id)
	if id == c.active.orderID {
		c.state = StatePartiallyFilled
	}
	if c.settings.Logging {
		c.logger.Info("order matched",
			golog.String("component", controllerComponent),
			golog.String("order_id", id),
			golog.String("side", raw.Side),
			golog.String("size", raw.Size),
			golog.String("price", raw.Price),
		)
	}
}

func flipSide(side string) string {
	if strings.EqualFold(side, exchange.OrderSideBuy.String()) {
		return exchange.OrderSideSell.String()
	}
	return exchange.OrderSideBuy.String()
}

func (c *Controller) onDone(ev exchange.FeedEvent) {
	id, ok := c.ourOrder(ev)
	if !ok {
		return
	}
	remaining, err := ev.Remaining()
	if err != nil {
		c.logger.Warn("malformed done event",
			golog.String("component", controllerComponent),
			golog.String("order_id", id),
			golog.String("error", err.Error()),
		)
		return
	}
	c.ledger.RemoveOpenOrder(id)
	c.finish(id)

	if s := c.stop; s != nil && s.orderID == id {
		c.releaseStop()
		return
	}
	if !c.orderPlaced || id != c.active.orderID {
		c.logger.Debug("done for superseded order " + id)
		return
	}
	if c.stopLossTriggered {
		if c.active.stop {
			c.logger.Warn("stop loss sell complete",
				golog.String("component", controllerComponent),
				golog.String("order_id", id),
			)
			c.resolve()
		}
		return
	}
	side := exchange.OrderSide(strings.ToLower(ev.Side))
	if !side.Valid() {
		side = c.active.side
	}
	reason := exchange.DoneReason(strings.ToLower(ev.Reason))
	dust := remaining < c.ledger.MinimumOrderSize()
	if reason == exchange.DoneReasonCanceled {
		c.state = StateCanceled
	} else {
		c.state = StateFilled
	}

	switch {
	case dust:
		c.resolve()
	case reason == exchange.DoneReasonCanceled && side == exchange.OrderSideSell:
		c.replace(side, remaining)
	case reason == exchange.DoneReasonCanceled && side == exchange.OrderSideBuy:
		c.rebid(remaining)
	case reason == exchange.DoneReasonFilled && side == exchange.OrderSideSell:
		c.replace(side, remaining)
	case reason == exchange.DoneReasonFilled && side == exchange.OrderSideBuy && c.settings.ReplacePartialBuys:
		c.rebid(remaining)
	default:
		c.resolve()
	}
}

func (c *Controller) rebid(remaining float64) {
	if !c.ledger.IsBidAllowed(c.signaledBuy, c.bestBid, c.settings.AllowedSlippage) {
		c.logger.Warn("max slippage won't allow a replacement bid",
			golog.String("component", controllerComponent),
			golog.String("signaled", exchange.FormatAmount(c.signaledBuy)),
			golog.String("best_bid", exchange.FormatAmount(c.bestBid)),
		)
		c.resolve()
		return
	}
	c.replace(exchange.OrderSideBuy, remaining)
}

// replace re-places the unfilled part of the active order at the current
// top of book.
func (c *Controller) replace(side exchange.OrderSide, size float64) {
	price := c.bestAsk
	if side == exchange.OrderSideBuy {
		price = c.bestBid
	}
	if c.settings.Logging {
		c.logger.Info("replacing order",
			golog.String("component", controllerComponent),
			golog.String("side", side.String()),
			golog.String("size", exchange.FormatAmount(size)),
			golog.String("price", exchange.FormatAmount(price)),
		)
	}
	c.placeOrder(c.limitOrder(side, size, price), false)
}

// resolve ends the cycle: flags reset and the summary goes out.
func (c *Controller) resolve() {
	c.resetFlags()
	summary := c.ledger.Info()
	if c.settings.Logging {
		c.logger.Info("orders resolved",
			golog.String("component", controllerComponent),
			golog.Int("trades", summary.TotalTrades),
			golog.Int("wins", summary.Wins),
			golog.Int("losses", summary.Losses),
			golog.String("position", exchange.FormatAmount(summary.OpenPosition)),
		)
	}
	if n := c.notifier; n != nil {
		c.dispatch(func(context.Context) Event {
			if err := n.Notify(summary); err != nil {
				c.logger.Warn("notify failed",
					golog.String("component", controllerComponent),
					golog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	c.refreshBalances()
}

func (c *Controller) resetFlags() {
	c.orderPlaced = false
	c.stopLossTriggered = false
	c.signaledBuy = 0
	c.signaledSell = 0
	c.active = activeOrder{}
	c.stop = nil
	c.state = StateIdle
}

func (c *Controller) narrate(msg string) {
	if c.settings.Logging {
		c.logger.Info(msg, golog.String("component", controllerComponent))
	}
}

func (c *Controller) publish() {
	s := Snapshot{
		State:             c.state,
		LastSignal:        c.lastSignal.String(),
		OrderPlaced:       c.orderPlaced,
		OrdersResolved:    !c.orderPlaced,
		StopLossTriggered: c.stopLossTriggered,
		ActiveOrderID:     c.active.orderID,
		SignaledBuyPrice:  c.signaledBuy,
		SignaledSellPrice: c.signaledSell,
		BestBid:           c.bestBid,
		BestAsk:           c.bestAsk,
		Position:          c.ledger.GetRemainingPositionSize(),
		Cycles:            c.cycles,
		OrderFailures:     c.orderFailures,
		UpdatedAt:         c.now(),
	}
	c.snapshot.Store(&s)
}
