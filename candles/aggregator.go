package candles

import (
	"time"

	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/models"
)

// Aggregator folds realtime ticks into one candle per granularity window.
// It is not safe for concurrent use; the trading loop owns it.
type Aggregator struct {
	granularity int64
	active      bool
	current     models.Candle
	onClose     func(models.Candle)
}

// NewAggregator creates an aggregator for windows of the given length.
func NewAggregator(granularity time.Duration) *Aggregator {
	seconds := int64(granularity / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return &Aggregator{granularity: seconds}
}

// OnClose registers a sink that receives every finalized candle.
func (a *Aggregator) OnClose(fn func(models.Candle)) {
	a.onClose = fn
}

type parsedTick struct {
	time     int64
	price    float64
	lastSize float64
	bestBid  float64
	bestAsk  float64
	side     string
}

func parseTick(tick models.RawTick) (parsedTick, error) {
	price, err := exchange.ParseAmount(tick.Price)
	if err != nil || tick.Price == "" {
		return parsedTick{}, exchange.NewInvalidTickData("price", tick.Price)
	}
	size, err := exchange.ParseAmount(tick.LastSize)
	if err != nil {
		return parsedTick{}, exchange.NewInvalidTickData("last_size", tick.LastSize)
	}
	bid, err := exchange.ParseAmount(tick.BestBid)
	if err != nil {
		return parsedTick{}, exchange.NewInvalidTickData("best_bid", tick.BestBid)
	}
	ask, err := exchange.ParseAmount(tick.BestAsk)
	if err != nil {
		return parsedTick{}, exchange.NewInvalidTickData("best_ask", tick.BestAsk)
	}
	ts := tick.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return parsedTick{
		time:     ts.Unix(),
		price:    price,
		lastSize: size,
		bestBid:  bid,
		bestAsk:  ask,
		side:     tick.Side,
	}, nil
}

// Update applies one tick. When the tick falls outside the active window the
// finished candle is returned and a new window opens with this tick. Windows
// start on multiples of the granularity, like exchange history candles.
func (a *Aggregator) Update(tick models.RawTick) (*models.Candle, error) {
	t, err := parseTick(tick)
	if err != nil {
		return nil, err
	}

	if !a.active {
		a.start(t)
		return nil, nil
	}

	if t.time-a.current.Time >= a.granularity {
		closed := a.current
		a.start(t)
		a.emit(closed)
		return &closed, nil
	}

	c := &a.current
	if t.price > c.High {
		c.High = t.price
	}
	if t.price < c.Low {
		c.Low = t.price
	}
	c.Close = t.price
	c.Volume += t.lastSize
	c.BestBid = t.bestBid
	c.BestAsk = t.bestAsk
	c.Side = t.side
	return nil, nil
}

func (a *Aggregator) start(t parsedTick) {
	a.active = true
	a.current = models.Candle{
		Time:    t.time - t.time%a.granularity,
		Open:    t.price,
		High:    t.price,
		Low:     t.price,
		Close:   t.price,
		Volume:  t.lastSize,
		BestBid: t.bestBid,
		BestAsk: t.bestAsk,
		Side:    t.side,
	}
}

func (a *Aggregator) emit(c models.Candle) {
	if a.onClose != nil {
		a.onClose(c)
	}
}

// Current returns a copy of the active candle.
func (a *Aggregator) Current() (models.Candle, bool) {
	return a.current, a.active
}

// HasData reports whether any tick has been applied.
func (a *Aggregator) HasData() bool {
	return a.active
}

// Flush finalizes the active candle on demand. The aggregator keeps the
// window open so later ticks in the same window still update it.
func (a *Aggregator) Flush() (models.Candle, bool) {
	if !a.active {
		return models.Candle{}, false
	}
	return a.current, true
}
