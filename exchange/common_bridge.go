package exchange

import (
	common "github.com/kylerberry/JACT/exchange/common"
)

// Re-export shared types so consumers only need the exchange package.
type (
	Balance     = common.Balance
	OrderSide   = common.OrderSide
	OrderType   = common.OrderType
	TimeInForce = common.TimeInForce
	DoneReason  = common.DoneReason
)

// Re-export shared constants.
const (
	TimeInForceGTC TimeInForce = common.TimeInForceGTC
	TimeInForceGTT TimeInForce = common.TimeInForceGTT
	TimeInForceIOC TimeInForce = common.TimeInForceIOC
	TimeInForceFOK TimeInForce = common.TimeInForceFOK

	OrderSideBuy  OrderSide = common.OrderSideBuy
	OrderSideSell OrderSide = common.OrderSideSell

	OrderTypeMarket OrderType = common.OrderTypeMarket
	OrderTypeLimit  OrderType = common.OrderTypeLimit

	DoneReasonFilled   DoneReason = common.DoneReasonFilled
	DoneReasonCanceled DoneReason = common.DoneReasonCanceled
)
