package models

import "time"

// Candle represents OHLCV data for one granularity window, plus the top of
// book and last trade side observed while the window was open.
type Candle struct {
	Time    int64   `json:"time"`
	Open    float64 `json:"open"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Close   float64 `json:"close"`
	Volume  float64 `json:"volume"`
	BestBid float64 `json:"best_bid"`
	BestAsk float64 `json:"best_ask"`
	Side    string  `json:"side"`
}

// OpenTime returns the window start as a time.Time.
func (c Candle) OpenTime() time.Time {
	return time.Unix(c.Time, 0).UTC()
}

// RawTick is a realtime ticker update as delivered by the feed. Numeric
// fields stay strings until the aggregator parses them.
type RawTick struct {
	Time     time.Time
	Price    string
	LastSize string
	BestBid  string
	BestAsk  string
	Side     string
}

// Fill represents a match against one of our orders.
type Fill struct {
	OrderID       string    `json:"order_id"`
	Side          string    `json:"side"`
	Size          float64   `json:"size"`
	Price         float64   `json:"price"`
	RemainingSize float64   `json:"remaining_size"`
	Time          time.Time `json:"time"`
}

// Notional returns price times size.
func (f Fill) Notional() float64 {
	return f.Price * f.Size
}

// RawFill is a fill whose numeric fields have not been parsed yet.
type RawFill struct {
	OrderID       string
	Side          string
	Size          string
	Price         string
	RemainingSize string
	Time          time.Time
}

// OpenOrder represents an order resting on the exchange book.
type OpenOrder struct {
	OrderID       string    `json:"order_id"`
	Side          string    `json:"side"`
	Size          float64   `json:"size"`
	Price         float64   `json:"price"`
	RemainingSize float64   `json:"remaining_size"`
	OpenedAt      time.Time `json:"opened_at"`
}
