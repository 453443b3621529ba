package exchange

import (
	"context"
	"time"

	"github.com/kylerberry/JACT/cache"
	"github.com/kylerberry/JACT/models"
)

// CachedGateway wraps a Gateway and serves repeated candle range requests
// from memory. Order and balance calls pass straight through.
type CachedGateway struct {
	Gateway
	candles *cache.CandleCache
}

// NewCachedGateway wraps gateway with the default cache configuration
func NewCachedGateway(gateway Gateway) *CachedGateway {
	return NewCachedGatewayWithConfig(gateway, cache.DefaultConfig())
}

// NewCachedGatewayWithConfig wraps gateway with the given cache configuration
func NewCachedGatewayWithConfig(gateway Gateway, config cache.Config) *CachedGateway {
	return &CachedGateway{
		Gateway: gateway,
		candles: cache.NewCandleCacheWithConfig(config),
	}
}

// GetCandles returns the cached range when present, otherwise fetches and
// caches it.
func (c *CachedGateway) GetCandles(ctx context.Context, productID string, granularity time.Duration, start, end time.Time) ([]models.Candle, error) {
	if candles, found := c.candles.GetRange(productID, granularity, start, end); found {
		return candles, nil
	}
	candles, err := c.Gateway.GetCandles(ctx, productID, granularity, start, end)
	if err != nil {
		return nil, err
	}
	c.candles.SetRange(productID, granularity, start, end, candles)
	return candles, nil
}

// Stop stops the cache's background processes
func (c *CachedGateway) Stop() {
	c.candles.Stop()
}

// MaxCandlesPerRequest forwards the wrapped gateway's page size.
func (c *CachedGateway) MaxCandlesPerRequest() int {
	if p, ok := c.Gateway.(CandlePager); ok {
		return p.MaxCandlesPerRequest()
	}
	return 0
}
