package trader

import (
	"time"

	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/models"
)

// Event is anything the controller loop consumes. Submit is the only way
// to hand one to a running controller.
type Event interface {
	event()
}

// FeedEvent wraps a realtime feed message.
type FeedEvent struct {
	exchange.FeedEvent
}

// TradeTick asks the loop to run one trade cycle on the aggregator's
// current candle.
type TradeTick struct {
	At time.Time
}

// CandleClosed runs one trade cycle on a finished candle. Replays use it
// instead of feeding ticks.
type CandleClosed struct {
	Candle models.Candle
}

// SettingsUpdate swaps the runtime settings between cycles.
type SettingsUpdate struct {
	Settings Settings
}

type orderResult struct {
	req  exchange.OrderRequest
	ack  *exchange.OrderAck
	err  error
	took time.Duration
}

type cancelResult struct {
	orderID string
	err     error
}

type balanceResult struct {
	available float64
	err       error
}

type barrier struct {
	done chan struct{}
}

func (FeedEvent) event()      {}
func (TradeTick) event()      {}
func (CandleClosed) event()   {}
func (SettingsUpdate) event() {}
func (orderResult) event()    {}
func (cancelResult) event()   {}
func (balanceResult) event()  {}
func (barrier) event()        {}

// FromFeed adapts a feed handler so every message is submitted to c.
func FromFeed(c *Controller) func(exchange.FeedEvent) {
	return func(ev exchange.FeedEvent) {
		c.Submit(FeedEvent{FeedEvent: ev})
	}
}
