package exchange

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType classifies a GatewayError.
type ErrorType string

const (
	ErrorTypeInvalidTickData     ErrorType = "invalid_tick_data"
	ErrorTypeInvalidFillData     ErrorType = "invalid_fill_data"
	ErrorTypeOrderRejected       ErrorType = "order_rejected"
	ErrorTypeCancelFailed        ErrorType = "cancel_failed"
	ErrorTypeNetwork             ErrorType = "network"
	ErrorTypeStrategyUnavailable ErrorType = "strategy_unavailable"
	ErrorTypeHTTP                ErrorType = "http"
	ErrorTypeRateLimit           ErrorType = "rate_limit"
	ErrorTypeAuthentication      ErrorType = "authentication"
	ErrorTypeParsing             ErrorType = "parsing"
	ErrorTypeValidation          ErrorType = "validation"
)

// Sentinels for errors.Is; they match any GatewayError of the same type.
var (
	ErrInvalidTickData     = &GatewayError{Type: ErrorTypeInvalidTickData}
	ErrInvalidFillData     = &GatewayError{Type: ErrorTypeInvalidFillData}
	ErrOrderRejected       = &GatewayError{Type: ErrorTypeOrderRejected}
	ErrCancelFailed        = &GatewayError{Type: ErrorTypeCancelFailed}
	ErrNetwork             = &GatewayError{Type: ErrorTypeNetwork}
	ErrRateLimit           = &GatewayError{Type: ErrorTypeRateLimit}
	ErrStrategyUnavailable = &GatewayError{Type: ErrorTypeStrategyUnavailable}
)

// GatewayError is returned by gateways, feeds and the parsers feeding the
// ledger.
type GatewayError struct {
	Type        ErrorType
	Code        string
	Message     string
	StatusCode  int
	RawResponse []byte
	Timestamp   time.Time
	Retriable   bool
	Cause       error
}

func newGatewayError(t ErrorType, code, message string, cause error) *GatewayError {
	return &GatewayError{
		Type:      t,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s:%s] %s (HTTP %d)", e.Type, e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is matches on Type only.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	return ok && t.Type == e.Type
}

// NewInvalidTickData reports a ticker field that is not numeric.
func NewInvalidTickData(field, value string) *GatewayError {
	return newGatewayError(ErrorTypeInvalidTickData, "invalid_"+field,
		fmt.Sprintf("tick %s %q is not numeric", field, value), nil)
}

// NewInvalidFillData reports a fill the ledger cannot accept.
func NewInvalidFillData(code, message string) *GatewayError {
	return newGatewayError(ErrorTypeInvalidFillData, code, message, nil)
}

// NewOrderRejected carries the exchange's rejection message.
func NewOrderRejected(message string, cause error) *GatewayError {
	return newGatewayError(ErrorTypeOrderRejected, "order_rejected", message, cause)
}

// NewCancelFailed reports a refused or failed cancel.
func NewCancelFailed(orderID, message string, cause error) *GatewayError {
	return newGatewayError(ErrorTypeCancelFailed, "cancel_failed",
		fmt.Sprintf("cancel %s: %s", orderID, message), cause)
}

// NewNetworkError reports a transport or feed failure.
func NewNetworkError(code string, message string, cause error, retriable bool) *GatewayError {
	e := newGatewayError(ErrorTypeNetwork, code, message, cause)
	e.Retriable = retriable
	return e
}

// NewStrategyUnavailable reports an unknown strategy key.
func NewStrategyUnavailable(key string, cause error) *GatewayError {
	return newGatewayError(ErrorTypeStrategyUnavailable, "strategy_unavailable",
		fmt.Sprintf("could not find strategy %q", key), cause)
}

// NewExchangeHTTPError classifies a non-2xx REST response. Server errors and
// 429 are retriable.
func NewExchangeHTTPError(statusCode int, body []byte, message string) *GatewayError {
	e := newGatewayError(ErrorTypeHTTP, fmt.Sprintf("http_%d", statusCode), message, nil)
	switch statusCode {
	case http.StatusTooManyRequests:
		e.Type, e.Code = ErrorTypeRateLimit, "rate_limit_exceeded"
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Type, e.Code = ErrorTypeAuthentication, "authentication_failed"
	case http.StatusBadRequest:
		e.Type, e.Code = ErrorTypeValidation, "invalid_request"
	}
	e.StatusCode = statusCode
	e.RawResponse = body
	e.Retriable = statusCode >= 500 || statusCode == http.StatusTooManyRequests
	return e
}

// NewParsingError reports an undecodable payload.
func NewParsingError(message string, cause error, rawData []byte) *GatewayError {
	e := newGatewayError(ErrorTypeParsing, "json_parse_error", message, cause)
	e.RawResponse = rawData
	return e
}

// IsNetworkError reports whether err is a network GatewayError.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsOrderRejected reports whether the exchange refused an order.
func IsOrderRejected(err error) bool {
	return errors.Is(err, ErrOrderRejected)
}

// IsRateLimitError reports whether the exchange throttled the request.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// IsRetriable reports whether err is a GatewayError marked retriable.
func IsRetriable(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Retriable
}
