package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kylerberry/JACT/models"
)

// PaperConfig configures the in-memory gateway.
type PaperConfig struct {
	ProductID    string
	QuoteBalance float64
	BaseBalance  float64
	// AutoFill fills limit orders as soon as they are placed. When false
	// orders rest until Match or CancelOrder is called.
	AutoFill bool
	// Slippage is the maximum fraction a buy fill may exceed its limit price.
	Slippage float64
	// SlippageOdds is the probability a buy incurs slippage. Zero means 0.5.
	SlippageOdds float64
	Seed         int64
}

type paperOrder struct {
	id        string
	clientOID string
	side      OrderSide
	orderType OrderType
	price     float64
	size      float64
	filled    float64
}

func (o *paperOrder) remaining() float64 {
	r := o.size - o.filled
	if r < 1e-12 {
		return 0
	}
	return r
}

// PaperGateway simulates an exchange account. Every state change is
// published to its PaperFeed using the same event shapes the live feed
// produces.
type PaperGateway struct {
	mu       sync.Mutex
	cfg      PaperConfig
	base     string
	quote    string
	balances map[string]float64
	orders   map[string]*paperOrder
	candles  []models.Candle
	rng      *rand.Rand
	feed     *PaperFeed
	now      func() time.Time
}

// NewPaperGateway creates a paper account funded per cfg.
func NewPaperGateway(cfg PaperConfig) *PaperGateway {
	if cfg.ProductID == "" {
		cfg.ProductID = "BTC-USD"
	}
	if cfg.SlippageOdds <= 0 {
		cfg.SlippageOdds = 0.5
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	base, quote := SplitProduct(cfg.ProductID)
	return &PaperGateway{
		cfg:   cfg,
		base:  base,
		quote: quote,
		balances: map[string]float64{
			base:  cfg.BaseBalance,
			quote: cfg.QuoteBalance,
		},
		orders: make(map[string]*paperOrder),
		rng:    rand.New(rand.NewSource(seed)),
		feed:   NewPaperFeed(),
		now:    time.Now,
	}
}

// SplitProduct splits "BTC-USD" into its base and quote currencies.
func SplitProduct(productID string) (base, quote string) {
	parts := strings.SplitN(productID, "-", 2)
	if len(parts) != 2 {
		return productID, "USD"
	}
	return parts[0], parts[1]
}

// Feed returns the feed carrying this account's order events.
func (p *PaperGateway) Feed() *PaperFeed { return p.feed }

// SetClock replaces the time source used for event timestamps.
func (p *PaperGateway) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// GetName returns the gateway name.
func (p *PaperGateway) GetName() string { return "Paper" }

// LoadCandles sets the history served by GetCandles.
func (p *PaperGateway) LoadCandles(candles []models.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles = append([]models.Candle(nil), candles...)
	sort.Slice(p.candles, func(i, j int) bool { return p.candles[i].Time < p.candles[j].Time })
}

// GetCandles returns loaded candles within [start, end].
func (p *PaperGateway) GetCandles(_ context.Context, _ string, _ time.Duration, start, end time.Time) ([]models.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Candle, 0)
	for _, c := range p.candles {
		if !start.IsZero() && c.Time < start.Unix() {
			continue
		}
		if !end.IsZero() && c.Time > end.Unix() {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// GetBalances returns the simulated balances.
func (p *PaperGateway) GetBalances(context.Context) (map[string]*Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*Balance, len(p.balances))
	for asset, v := range p.balances {
		out[asset] = &Balance{Asset: asset, Available: FormatAmount(v), Hold: "0"}
	}
	return out, nil
}

// PlaceOrder accepts an order and publishes received, then open for limit
// orders. With AutoFill, or for market orders, the order fills at once.
func (p *PaperGateway) PlaceOrder(_ context.Context, req OrderRequest) (*OrderAck, error) {
	if !req.Side.Valid() {
		return nil, NewOrderRejected("invalid order side "+req.Side.String(), nil)
	}
	if req.Size <= 0 {
		return nil, NewOrderRejected("order size must be positive", nil)
	}
	if req.Type == OrderTypeLimit && req.Price <= 0 {
		return nil, NewOrderRejected("limit price must be positive", nil)
	}

	p.mu.Lock()
	price := req.Price
	if req.Type == OrderTypeMarket && price <= 0 {
		price = p.lastCloseLocked()
	}
	if price <= 0 {
		p.mu.Unlock()
		return nil, NewOrderRejected("no reference price for market order", nil)
	}
	if err := p.checkFundsLocked(req.Side, req.Size, price); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	order := &paperOrder{
		id:        uuid.NewString(),
		clientOID: req.ClientOID,
		side:      req.Side,
		orderType: req.Type,
		price:     price,
		size:      req.Size,
	}
	p.orders[order.id] = order
	now := p.now()
	p.mu.Unlock()

	p.feed.Publish(FeedEvent{
		Type:      EventReceived,
		ProductID: p.cfg.ProductID,
		Time:      now,
		OrderID:   order.id,
		ClientOID: order.clientOID,
		Side:      order.side.String(),
		OrderType: order.orderType.String(),
		Price:     FormatAmount(order.price),
		Size:      FormatAmount(order.size),
	})

	ack := &OrderAck{
		OrderID:   order.id,
		Status:    "pending",
		Side:      order.side,
		Size:      order.size,
		Price:     order.price,
		CreatedAt: now,
	}

	if order.orderType == OrderTypeMarket {
		value, err := p.Match(order.id, order.size)
		if err != nil {
			return nil, err
		}
		ack.Status = "done"
		ack.Settled = true
		ack.FilledSize = order.size
		ack.ExecutedValue = value
		return ack, nil
	}

	p.feed.Publish(FeedEvent{
		Type:          EventOpen,
		ProductID:     p.cfg.ProductID,
		Time:          now,
		OrderID:       order.id,
		Side:          order.side.String(),
		Price:         FormatAmount(order.price),
		RemainingSize: FormatAmount(order.size),
	})
	ack.Status = "open"

	if p.cfg.AutoFill {
		if _, err := p.Match(order.id, order.size); err != nil {
			return nil, err
		}
	}
	return ack, nil
}

func (p *PaperGateway) lastCloseLocked() float64 {
	if n := len(p.candles); n > 0 {
		return p.candles[n-1].Close
	}
	return 0
}

func (p *PaperGateway) checkFundsLocked(side OrderSide, size, price float64) error {
	if side == OrderSideSell {
		if p.balances[p.base]+1e-12 < size {
			return NewOrderRejected(fmt.Sprintf("insufficient %s balance", p.base), nil)
		}
		return nil
	}
	if price > 0 && p.balances[p.quote]+1e-9 < size*price {
		return NewOrderRejected(fmt.Sprintf("insufficient %s balance", p.quote), nil)
	}
	return nil
}

// slippageLocked returns the extra fraction a buy pays: with SlippageOdds
// probability, a uniform value up to Slippage.
func (p *PaperGateway) slippageLocked() float64 {
	if p.cfg.Slippage <= 0 {
		return 0
	}
	if p.rng.Float64() > p.cfg.SlippageOdds {
		return 0
	}
	return p.rng.Float64() * p.cfg.Slippage
}

// Match fills size of a resting order and publishes the match, plus done
// when nothing remains. It returns the quote value of the fill.
func (p *PaperGateway) Match(orderID string, size float64) (float64, error) {
	p.mu.Lock()
	order, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return 0, NewOrderRejected("unknown order "+orderID, nil)
	}
	if size > order.remaining() {
		size = order.remaining()
	}
	price := order.price
	if order.side == OrderSideBuy {
		price *= 1 + p.slippageLocked()
	}
	value := price * size
	if order.side == OrderSideBuy {
		p.balances[p.quote] -= value
		p.balances[p.base] += size
	} else {
		p.balances[p.base] -= size
		p.balances[p.quote] += value
	}
	order.filled += size
	remaining := order.remaining()
	if remaining == 0 {
		delete(p.orders, orderID)
	}
	now := p.now()
	p.mu.Unlock()

	match := FeedEvent{
		Type:          EventMatch,
		ProductID:     p.cfg.ProductID,
		Time:          now,
		Side:          order.side.String(),
		Price:         FormatAmount(price),
		Size:          FormatAmount(size),
		RemainingSize: FormatAmount(remaining),
	}
	// The feed reports the maker's side; market orders are always takers.
	if order.orderType == OrderTypeMarket {
		match.TakerOrderID = order.id
		match.Side = opposite(order.side).String()
	} else {
		match.MakerOrderID = order.id
	}
	p.feed.Publish(match)

	if remaining == 0 {
		p.feed.Publish(FeedEvent{
			Type:          EventDone,
			ProductID:     p.cfg.ProductID,
			Time:          now,
			OrderID:       order.id,
			Side:          order.side.String(),
			Price:         FormatAmount(order.price),
			RemainingSize: "0",
			Reason:        string(DoneReasonFilled),
		})
	}
	return value, nil
}

// CancelOrder removes a resting order and publishes done/canceled with the
// unfilled size.
func (p *PaperGateway) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	order, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return NewCancelFailed(orderID, "order not found", nil)
	}
	delete(p.orders, orderID)
	now := p.now()
	p.mu.Unlock()

	p.feed.Publish(FeedEvent{
		Type:          EventDone,
		ProductID:     p.cfg.ProductID,
		Time:          now,
		OrderID:       order.id,
		Side:          order.side.String(),
		Price:         FormatAmount(order.price),
		RemainingSize: FormatAmount(order.remaining()),
		Reason:        string(DoneReasonCanceled),
	})
	return nil
}

// OpenOrderIDs lists resting orders.
func (p *PaperGateway) OpenOrderIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.orders))
	for id := range p.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func opposite(s OrderSide) OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// PaperFeed delivers paper account events. In buffered mode events queue
// until Drain is called, which lets a replay step deterministically.
type PaperFeed struct {
	mu       sync.Mutex
	handlers map[string][]func(FeedEvent)
	buffered bool
	queue    []FeedEvent
}

// NewPaperFeed creates an unbuffered feed.
func NewPaperFeed() *PaperFeed {
	return &PaperFeed{handlers: make(map[string][]func(FeedEvent))}
}

// SetBuffered toggles buffered delivery.
func (f *PaperFeed) SetBuffered(buffered bool) {
	f.mu.Lock()
	f.buffered = buffered
	f.mu.Unlock()
}

// Subscribe registers handler for eventType, or every event with AllEvents.
func (f *PaperFeed) Subscribe(eventType string, handler func(FeedEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[eventType] = append(f.handlers[eventType], handler)
}

// Connect is a no-op.
func (f *PaperFeed) Connect(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (f *PaperFeed) Close() error { return nil }

// Publish delivers or queues ev.
func (f *PaperFeed) Publish(ev FeedEvent) {
	f.mu.Lock()
	if f.buffered {
		f.queue = append(f.queue, ev)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.deliver(ev)
}

// Drain delivers queued events in order and returns how many were sent.
func (f *PaperFeed) Drain() int {
	f.mu.Lock()
	queue := f.queue
	f.queue = nil
	f.mu.Unlock()
	for _, ev := range queue {
		f.deliver(ev)
	}
	return len(queue)
}

// Pending returns the number of queued events.
func (f *PaperFeed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *PaperFeed) deliver(ev FeedEvent) {
	f.mu.Lock()
	handlers := append(append([]func(FeedEvent){}, f.handlers[ev.Type]...), f.handlers[AllEvents]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}
