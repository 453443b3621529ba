package trader

import "time"

// State is the controller's position in the order lifecycle.
type State string

const (
	StateIdle            State = "IDLE"
	StateSignalEvaluated State = "SIGNAL_EVALUATED"
	StateOrderPlaced     State = "ORDER_PLACED"
	StateOpen            State = "OPEN"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCanceled        State = "CANCELED"
)

// Snapshot is a copy of the controller flags, safe to read from any goroutine.
type Snapshot struct {
	State             State     `json:"state"`
	LastSignal        string    `json:"lastSignal"`
	OrderPlaced       bool      `json:"orderPlaced"`
	OrdersResolved    bool      `json:"ordersResolved"`
	StopLossTriggered bool      `json:"stopLossTriggered"`
	ActiveOrderID     string    `json:"activeOrderId,omitempty"`
	SignaledBuyPrice  float64   `json:"signaledBuyPrice"`
	SignaledSellPrice float64   `json:"signaledSellPrice"`
	BestBid           float64   `json:"bestBid"`
	BestAsk           float64   `json:"bestAsk"`
	Position          float64   `json:"position"`
	Cycles            int       `json:"cycles"`
	OrderFailures     int       `json:"orderFailures"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
