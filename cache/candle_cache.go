package cache

import (
	"fmt"
	"time"

	"github.com/kylerberry/JACT/models"
)

// CandleCache caches candle ranges fetched from an exchange. Ranges that
// ended before the current window are immutable and kept longer.
type CandleCache struct {
	cache  *Cache[[]models.Candle]
	config Config
}

// NewCandleCache creates a candle cache with the default configuration
func NewCandleCache() *CandleCache {
	return NewCandleCacheWithConfig(DefaultConfig())
}

// NewCandleCacheWithConfig creates a candle cache with the given configuration
func NewCandleCacheWithConfig(config Config) *CandleCache {
	return &CandleCache{
		cache:  New[[]models.Candle](config),
		config: config,
	}
}

// RangeKey identifies one product, granularity and time range.
func RangeKey(productID string, granularity time.Duration, start, end time.Time) string {
	return fmt.Sprintf("%s:%d:%d:%d", productID, int64(granularity/time.Second), start.Unix(), end.Unix())
}

// ttlFor picks the lifetime of a range ending at end.
func (m *CandleCache) ttlFor(granularity time.Duration, end time.Time) time.Duration {
	if end.IsZero() || m.cache.now().Sub(end) < granularity {
		return m.config.RecentTTL
	}
	return m.config.HistoricalTTL
}

// SetRange stores candles for the range.
func (m *CandleCache) SetRange(productID string, granularity time.Duration, start, end time.Time, candles []models.Candle) {
	if !m.config.Enabled {
		return
	}
	stored := make([]models.Candle, len(candles))
	copy(stored, candles)
	m.cache.Set(RangeKey(productID, granularity, start, end), stored, m.ttlFor(granularity, end))
}

// GetRange returns a copy of the cached range.
func (m *CandleCache) GetRange(productID string, granularity time.Duration, start, end time.Time) ([]models.Candle, bool) {
	if !m.config.Enabled {
		return nil, false
	}
	candles, found := m.cache.Get(RangeKey(productID, granularity, start, end))
	if !found {
		return nil, false
	}
	out := make([]models.Candle, len(candles))
	copy(out, candles)
	return out, true
}

// Clear clears all cached candles
func (m *CandleCache) Clear() {
	m.cache.Clear()
}

// Stop stops the cache's background processes
func (m *CandleCache) Stop() {
	m.cache.Stop()
}

// IsEnabled returns whether caching is enabled
func (m *CandleCache) IsEnabled() bool {
	return m.config.Enabled
}
