// Package strategy turns a candle history into trading signals.
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/models"
)

// Signal is the directional outcome of one strategy evaluation.
type Signal int

const (
	// Neutral means hold.
	Neutral Signal = iota
	// Long means open a position.
	Long
	// Short means close the position.
	Short
)

func (s Signal) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "NEUTRAL"
	}
}

// ErrInsufficientHistory is returned when the series is too short for the
// indicator to produce two comparable values.
var ErrInsufficientHistory = errors.New("insufficient candle history")

// Strategy evaluates a time-ascending candle history.
type Strategy interface {
	Name() string
	// MinHistory is the number of candles needed before Evaluate can signal.
	MinHistory() int
	Evaluate(candles []models.Candle) (Signal, error)
}

// Factory builds a strategy instance.
type Factory func() Strategy

// Registry maps configuration keys to strategy factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("macd", func() Strategy { return NewMACD() })
	r.Register("rsi", func() Strategy { return NewRSI() })
	r.Register("slow-stochastic", func() Strategy { return NewSlowStochastic() })
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(key string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeKey(key)] = f
}

// Resolve builds the strategy registered under key.
func (r *Registry) Resolve(key string) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[normalizeKey(key)]
	r.mu.RUnlock()
	if !ok {
		return nil, exchange.NewStrategyUnavailable(key,
			fmt.Errorf("known strategies: %s", strings.Join(r.Keys(), ", ")))
	}
	return f(), nil
}

// Keys lists registered strategy keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeKey accepts keys with or without a .js suffix, as older config
// files named strategies after their script files.
func normalizeKey(key string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(key)), ".js")
}

func closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// crossedAbove reports whether a moved from at or below b to strictly above.
func crossedAbove(prevA, prevB, currA, currB float64) bool {
	return prevA <= prevB && currA > currB
}

// crossedBelow reports whether a moved from at or above b to strictly below.
func crossedBelow(prevA, prevB, currA, currB float64) bool {
	return prevA >= prevB && currA < currB
}

func lastTwo(values []float64) (prev, curr float64) {
	n := len(values)
	return values[n-2], values[n-1]
}
