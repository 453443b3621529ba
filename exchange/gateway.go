package exchange

import (
	"context"
	"time"

	"github.com/kylerberry/JACT/models"
	"github.com/shopspring/decimal"
)

// Feed event types delivered by the realtime feed.
const (
	EventReceived      = "received"
	EventOpen          = "open"
	EventMatch         = "match"
	EventDone          = "done"
	EventChange        = "change"
	EventActivate      = "activate"
	EventTicker        = "ticker"
	EventHeartbeat     = "heartbeat"
	EventSubscriptions = "subscriptions"
)

// Gateway is the order API the trading controller talks to.
type Gateway interface {
	GetName() string
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetBalances(ctx context.Context) (map[string]*Balance, error)
	GetCandles(ctx context.Context, productID string, granularity time.Duration, start, end time.Time) ([]models.Candle, error)
}

// CandlePager is implemented by gateways that cap candles per request.
type CandlePager interface {
	MaxCandlesPerRequest() int
}

// Feed is a realtime event source.
type Feed interface {
	Subscribe(eventType string, handler func(FeedEvent))
	Connect(ctx context.Context) error
	Close() error
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	ClientOID   string
	ProductID   string
	Side        OrderSide
	Type        OrderType
	Size        float64
	// Price is the limit price. Market orders do not send it; the paper
	// gateway fills them at it.
	Price       float64
	PostOnly    bool
	TimeInForce TimeInForce
	// CancelAfter applies to GTT orders: "min", "hour" or "day".
	CancelAfter string
}

// OrderAck is the exchange's response to a placed order.
type OrderAck struct {
	OrderID       string
	Status        string
	Side          OrderSide
	Size          float64
	Price         float64
	FilledSize    float64
	ExecutedValue float64
	Settled       bool
	CreatedAt     time.Time
}

// AveragePrice returns executed value over filled size, or Price when nothing filled.
func (a *OrderAck) AveragePrice() float64 {
	if a.FilledSize > 0 && a.ExecutedValue > 0 {
		return a.ExecutedValue / a.FilledSize
	}
	return a.Price
}

// FeedEvent is the tagged union of all realtime messages. Numeric fields
// keep the exchange's string encoding.
type FeedEvent struct {
	Type          string    `json:"type"`
	ProductID     string    `json:"product_id"`
	Sequence      int64     `json:"sequence"`
	Time          time.Time `json:"time"`
	OrderID       string    `json:"order_id"`
	MakerOrderID  string    `json:"maker_order_id"`
	TakerOrderID  string    `json:"taker_order_id"`
	ClientOID     string    `json:"client_oid"`
	Side          string    `json:"side"`
	OrderType     string    `json:"order_type"`
	Price         string    `json:"price"`
	Size          string    `json:"size"`
	RemainingSize string    `json:"remaining_size"`
	Reason        string    `json:"reason"`
	BestBid       string    `json:"best_bid"`
	BestAsk       string    `json:"best_ask"`
	LastSize      string    `json:"last_size"`
}

// OrderIDs returns every order id the event refers to.
func (e FeedEvent) OrderIDs() []string {
	ids := make([]string, 0, 3)
	for _, id := range []string{e.OrderID, e.MakerOrderID, e.TakerOrderID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Tick converts a ticker event into the aggregator's input.
func (e FeedEvent) Tick() models.RawTick {
	return models.RawTick{
		Time:     e.Time,
		Price:    e.Price,
		LastSize: e.LastSize,
		BestBid:  e.BestBid,
		BestAsk:  e.BestAsk,
		Side:     e.Side,
	}
}

// Fill converts a match event into a raw fill attributed to orderID.
func (e FeedEvent) Fill(orderID string) models.RawFill {
	return models.RawFill{
		OrderID:       orderID,
		Side:          e.Side,
		Size:          e.Size,
		Price:         e.Price,
		RemainingSize: e.RemainingSize,
		Time:          e.Time,
	}
}

// Remaining parses remaining_size; an absent value reads as zero.
func (e FeedEvent) Remaining() (float64, error) {
	return ParseAmount(e.RemainingSize)
}

// ParseAmount parses an exchange decimal string. Empty input is zero.
func ParseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// FormatAmount renders a size or price with at most 8 decimals.
func FormatAmount(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}
