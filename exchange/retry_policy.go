package exchange

import (
	"errors"
	"math/rand"
	"net"
	"time"
)

// BackoffStrategy selects how the wait grows between attempts.
type BackoffStrategy string

const (
	// BackoffExponential multiplies the wait by BackoffFactor each attempt
	BackoffExponential BackoffStrategy = "exponential"

	// BackoffLinear grows the wait by InitialBackoff each attempt
	BackoffLinear BackoffStrategy = "linear"

	// BackoffConstant waits InitialBackoff every time
	BackoffConstant BackoffStrategy = "constant"

	// BackoffFibonacci scales InitialBackoff by the fibonacci sequence
	BackoffFibonacci BackoffStrategy = "fibonacci"
)

// RetryPolicy bounds how often and how fast an operation is retried. It
// drives websocket reconnects and paged history downloads.
type RetryPolicy struct {
	// MaxRetries is the maximum number of attempts after the first failure
	MaxRetries int

	// InitialBackoff is the first wait
	InitialBackoff time.Duration

	// MaxBackoff caps any single wait
	MaxBackoff time.Duration

	// BackoffFactor is used by BackoffExponential
	BackoffFactor float64

	// JitterFactor adds up to this fraction of random extra wait
	JitterFactor float64

	Strategy BackoffStrategy
}

// DefaultRetryPolicy is used for REST pagination: a few fast exponential retries.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
		Strategy:       BackoffExponential,
	}
}

// ReconnectPolicy retries a dropped feed every interval, up to maxAttempts.
func ReconnectPolicy(interval time.Duration, maxAttempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     maxAttempts,
		InitialBackoff: interval,
		MaxBackoff:     interval,
		BackoffFactor:  1,
		Strategy:       BackoffConstant,
	}
}

// Exhausted reports whether attempt is past the budget.
func (p *RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxRetries > 0 && attempt > p.MaxRetries
}

// ShouldRetry reports whether a failed attempt may be retried.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxRetries {
		return false
	}
	if IsRetriable(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var transport *transportError
	return errors.As(err, &transport)
}

// Backoff returns the wait before attempt (1-based).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var backoff float64

	switch p.Strategy {
	case BackoffLinear:
		backoff = float64(p.InitialBackoff) * float64(attempt)
	case BackoffConstant:
		backoff = float64(p.InitialBackoff)
	case BackoffFibonacci:
		backoff = float64(p.InitialBackoff) * float64(fibonacci(attempt))
	default:
		backoff = float64(p.InitialBackoff)
		for i := 1; i < attempt; i++ {
			backoff *= p.BackoffFactor
		}
	}

	if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	if p.JitterFactor > 0 {
		backoff += rand.Float64() * p.JitterFactor * backoff
	}
	return time.Duration(backoff)
}

func fibonacci(n int) int {
	a, b := 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}
