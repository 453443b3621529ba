package cache

import (
	"time"
)

// Config controls the candle cache.
type Config struct {
	// Enabled turns caching on. A disabled cache always misses.
	Enabled bool

	// RecentTTL applies to ranges that reach into the still-open window
	RecentTTL time.Duration

	// HistoricalTTL applies to ranges that ended before the current window
	HistoricalTTL time.Duration

	// MaxEntries bounds the number of cached ranges (0 = unlimited)
	MaxEntries int

	// CleanupInterval is how often expired entries are purged
	CleanupInterval time.Duration
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		RecentTTL:       30 * time.Second,
		HistoricalTTL:   24 * time.Hour, // closed candles never change
		MaxEntries:      1000,
		CleanupInterval: time.Minute,
	}
}
