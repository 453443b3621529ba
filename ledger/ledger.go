package ledger

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/models"
	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance used for all size and price comparisons.
const Epsilon = 1e-8

// DefaultMinimumOrderSize is the smallest base size the exchange accepts.
const DefaultMinimumOrderSize = 0.001

// sizePrecision is the number of decimals order sizes are rounded to.
const sizePrecision = 8

// Options configures a Ledger.
type Options struct {
	// MaxFunds caps the quote amount committed to one buy. Zero means no cap.
	MaxFunds float64
	// MinimumOrderSize defaults to DefaultMinimumOrderSize.
	MinimumOrderSize float64
	// FundingReserve is the usable fraction of the available balance.
	// Zero means the whole balance.
	FundingReserve float64
}

// Ledger is the single source of truth for fills, resting orders and the
// position derived from them.
type Ledger struct {
	mu sync.RWMutex

	opts      Options
	fills     []models.Fill
	open      map[string]models.OpenOrder
	openOrder []string
	signals   map[string]float64
	available float64

	onFill []func(models.Fill)
}

// New creates an empty ledger.
func New(opts Options) *Ledger {
	if opts.MinimumOrderSize <= 0 {
		opts.MinimumOrderSize = DefaultMinimumOrderSize
	}
	opts.FundingReserve = normalizeReserve(opts.FundingReserve)
	return &Ledger{
		opts:    opts,
		open:    make(map[string]models.OpenOrder),
		signals: make(map[string]float64),
	}
}

// OnFill registers a hook invoked with every accepted fill. Hooks run
// outside the ledger lock.
func (l *Ledger) OnFill(fn func(models.Fill)) {
	l.mu.Lock()
	l.onFill = append(l.onFill, fn)
	l.mu.Unlock()
}

// MinimumOrderSize returns the configured minimum base size.
func (l *Ledger) MinimumOrderSize() float64 {
	return l.opts.MinimumOrderSize
}

// SetMaxFunds updates the funding cap.
func (l *Ledger) SetMaxFunds(v float64) {
	l.mu.Lock()
	l.opts.MaxFunds = v
	l.mu.Unlock()
}

// AddFilled appends a fill to the log.
func (l *Ledger) AddFilled(f models.Fill) error {
	f.Side = strings.ToLower(f.Side)
	if !exchange.OrderSide(f.Side).Valid() {
		return exchange.NewInvalidFillData("side", "fill side must be buy or sell, got "+f.Side)
	}
	if f.Size <= 0 || math.IsNaN(f.Size) {
		return exchange.NewInvalidFillData("size", "fill size must be positive")
	}
	if f.Price <= 0 || math.IsNaN(f.Price) {
		return exchange.NewInvalidFillData("price", "fill price must be positive")
	}
	if f.Time.IsZero() {
		f.Time = time.Now().UTC()
	}

	l.mu.Lock()
	l.fills = append(l.fills, f)
	hooks := l.onFill
	l.mu.Unlock()

	for _, fn := range hooks {
		fn(f)
	}
	return nil
}

// AddFilledRaw parses a fill whose numeric fields are still strings.
func (l *Ledger) AddFilledRaw(raw models.RawFill) error {
	size, err := exchange.ParseAmount(raw.Size)
	if err != nil || raw.Size == "" {
		return exchange.NewInvalidFillData("size", "non-numeric fill size "+raw.Size)
	}
	price, err := exchange.ParseAmount(raw.Price)
	if err != nil || raw.Price == "" {
		return exchange.NewInvalidFillData("price", "non-numeric fill price "+raw.Price)
	}
	remaining, err := exchange.ParseAmount(raw.RemainingSize)
	if err != nil {
		return exchange.NewInvalidFillData("remaining_size", "non-numeric remaining size "+raw.RemainingSize)
	}
	return l.AddFilled(models.Fill{
		OrderID:       raw.OrderID,
		Side:          raw.Side,
		Size:          size,
		Price:         price,
		RemainingSize: remaining,
		Time:          raw.Time,
	})
}

// Fills returns a copy of the fill log.
func (l *Ledger) Fills() []models.Fill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// GetRemainingPositionSize walks the log backwards, summing sells until the
// most recent buy run, and returns what is left of that buy.
func (l *Ledger) GetRemainingPositionSize() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return remainingPosition(l.fills)
}

func remainingPosition(fills []models.Fill) float64 {
	sold := 0.0
	i := len(fills) - 1
	for ; i >= 0 && fills[i].Side == string(exchange.OrderSideSell); i-- {
		sold += fills[i].Size
	}
	if i < 0 {
		return 0
	}
	buy := lastBuyRun(fills, i)
	return snap(buy.Size - sold)
}

// lastBuyRun aggregates the contiguous buys ending at index end.
func lastBuyRun(fills []models.Fill, end int) models.Fill {
	agg := fills[end]
	cost := agg.Notional()
	for j := end - 1; j >= 0 && fills[j].Side == string(exchange.OrderSideBuy); j-- {
		agg.Size += fills[j].Size
		cost += fills[j].Notional()
	}
	if agg.Size > 0 {
		agg.Price = cost / agg.Size
	}
	return agg
}

// GetLastBuy returns the most recent buy. Partial matches of one order are
// merged into a single size-weighted fill.
func (l *Ledger) GetLastBuy() (models.Fill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.fills) - 1; i >= 0; i-- {
		if l.fills[i].Side == string(exchange.OrderSideBuy) {
			return lastBuyRun(l.fills, i), true
		}
	}
	return models.Fill{}, false
}

// GetLastFill returns the newest fill of any side.
func (l *Ledger) GetLastFill() (models.Fill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.fills) == 0 {
		return models.Fill{}, false
	}
	return l.fills[len(l.fills)-1], true
}

// ShouldTriggerStop reports whether price breached the stop below the last
// buy while a sellable position is held. A stopLoss of zero disables it.
func (l *Ledger) ShouldTriggerStop(price, stopLoss float64) bool {
	if stopLoss <= 0 {
		return false
	}
	if l.GetRemainingPositionSize() <= l.opts.MinimumOrderSize {
		return false
	}
	buy, ok := l.GetLastBuy()
	if !ok {
		return false
	}
	return price <= buy.Price*(1-stopLoss)+Epsilon
}

// IsBidAllowed reports whether a replacement bid stays within the allowed
// slippage of the originally signaled price. Without a signaled price or a
// configured slippage any bid is allowed.
func (l *Ledger) IsBidAllowed(signaled, proposed, slippage float64) bool {
	if signaled <= 0 || slippage <= 0 {
		return true
	}
	return proposed <= signaled*(1+slippage)+Epsilon
}

// AddOpenOrder tracks an order resting on the book.
func (l *Ledger) AddOpenOrder(o models.OpenOrder) {
	if o.OpenedAt.IsZero() {
		o.OpenedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.open[o.OrderID]; !exists {
		l.openOrder = append(l.openOrder, o.OrderID)
	}
	l.open[o.OrderID] = o
}

// GetOpenOrder looks up a resting order. An empty id selects the most
// recently added one.
func (l *Ledger) GetOpenOrder(id string) (models.OpenOrder, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id == "" {
		if len(l.openOrder) == 0 {
			return models.OpenOrder{}, false
		}
		id = l.openOrder[len(l.openOrder)-1]
	}
	o, ok := l.open[id]
	return o, ok
}

// RemoveOpenOrder drops a resting order and returns it. An empty id removes
// the most recently added one.
func (l *Ledger) RemoveOpenOrder(id string) (models.OpenOrder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == "" {
		if len(l.openOrder) == 0 {
			return models.OpenOrder{}, false
		}
		id = l.openOrder[len(l.openOrder)-1]
	}
	o, ok := l.open[id]
	if !ok {
		return models.OpenOrder{}, false
	}
	delete(l.open, id)
	for i, v := range l.openOrder {
		if v == id {
			l.openOrder = append(l.openOrder[:i], l.openOrder[i+1:]...)
			break
		}
	}
	return o, true
}

// OpenOrders returns the resting orders in insertion order.
func (l *Ledger) OpenOrders() []models.OpenOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.OpenOrder, 0, len(l.openOrder))
	for _, id := range l.openOrder {
		out = append(out, l.open[id])
	}
	return out
}

// SetFundingReserve changes the usable fraction of the available balance.
func (l *Ledger) SetFundingReserve(v float64) {
	l.mu.Lock()
	l.opts.FundingReserve = normalizeReserve(v)
	l.mu.Unlock()
}

func normalizeReserve(v float64) float64 {
	if v <= 0 || v > 1 {
		return 1
	}
	return v
}

// SetAvailableFunds stores the latest available quote balance.
func (l *Ledger) SetAvailableFunds(v float64) {
	l.mu.Lock()
	l.available = v
	l.mu.Unlock()
}

// GetFundingAmount returns the quote amount usable for the next buy.
func (l *Ledger) GetFundingAmount() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	funds := l.available * l.opts.FundingReserve
	if l.opts.MaxFunds > 0 && l.opts.MaxFunds < funds {
		funds = l.opts.MaxFunds
	}
	if funds < 0 {
		return 0
	}
	return funds
}

// GetOrderSize converts the funding amount into a base size at price,
// rounded down to the exchange lot precision.
func (l *Ledger) GetOrderSize(price float64) (float64, error) {
	if price <= 0 || math.IsNaN(price) {
		return 0, exchange.NewInvalidTickData("price", decimal.NewFromFloat(price).String())
	}
	size := decimal.NewFromFloat(l.GetFundingAmount()).
		Div(decimal.NewFromFloat(price)).
		RoundFloor(sizePrecision)
	f, _ := size.Float64()
	return f, nil
}

// RecordSignal remembers the price a buy order was signaled at so the
// slippage of its fills can be measured.
func (l *Ledger) RecordSignal(orderID string, price float64) {
	if orderID == "" || price <= 0 {
		return
	}
	l.mu.Lock()
	l.signals[orderID] = price
	l.mu.Unlock()
}

func snap(v float64) float64 {
	if v < Epsilon {
		return 0
	}
	return v
}
