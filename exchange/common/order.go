// Package common holds the order vocabulary shared by every gateway.
package common

// TimeInForce is the lifetime policy of a limit order.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	// TimeInForceGTT expires after the order's CancelAfter window.
	TimeInForceGTT TimeInForce = "GTT"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderSide is buy or sell, spelled the way the exchange spells it.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

func (s OrderSide) String() string {
	return string(s)
}

// Valid reports whether s is buy or sell.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType is market or limit.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

func (t OrderType) String() string {
	return string(t)
}

// DoneReason says why a "done" message removed an order from the book.
type DoneReason string

const (
	DoneReasonFilled   DoneReason = "filled"
	DoneReasonCanceled DoneReason = "canceled"
)

// Balance is one account's holdings as decimal strings.
type Balance struct {
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}
