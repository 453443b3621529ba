package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/kylerberry/JACT/cache"
	"github.com/kylerberry/JACT/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGateway struct {
	*PaperGateway
	calls int
}

func (c *countingGateway) GetCandles(ctx context.Context, productID string, granularity time.Duration, start, end time.Time) ([]models.Candle, error) {
	c.calls++
	return c.PaperGateway.GetCandles(ctx, productID, granularity, start, end)
}

func TestCachedGatewayServesRepeatedRanges(t *testing.T) {
	paper := NewPaperGateway(PaperConfig{ProductID: "BTC-USD"})
	paper.LoadCandles([]models.Candle{{Time: 100, Close: 1}, {Time: 200, Close: 2}})
	inner := &countingGateway{PaperGateway: paper}

	cfg := cache.DefaultConfig()
	gw := NewCachedGatewayWithConfig(inner, cfg)
	defer gw.Stop()

	start, end := time.Unix(0, 0), time.Unix(300, 0)
	first, err := gw.GetCandles(context.Background(), "BTC-USD", time.Minute, start, end)
	require.NoError(t, err)
	first[0].Close = 99

	second, err := gw.GetCandles(context.Background(), "BTC-USD", time.Minute, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1.0, second[0].Close)

	_, err = gw.GetCandles(context.Background(), "BTC-USD", time.Minute, start, time.Unix(250, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	assert.Equal(t, "Paper", gw.GetName())
	assert.Zero(t, gw.MaxCandlesPerRequest())
}

func TestCachedGatewayDisabled(t *testing.T) {
	paper := NewPaperGateway(PaperConfig{ProductID: "BTC-USD"})
	inner := &countingGateway{PaperGateway: paper}
	cfg := cache.DefaultConfig()
	cfg.Enabled = false
	gw := NewCachedGatewayWithConfig(inner, cfg)
	defer gw.Stop()

	for i := 0; i < 3; i++ {
		_, err := gw.GetCandles(context.Background(), "BTC-USD", time.Minute, time.Time{}, time.Time{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls)
}

func TestNewGatewayKinds(t *testing.T) {
	_, err := NewGateway(GatewayConfig{Kind: KindCoinbase, ProductID: "BTC-USD"}, nil)
	assert.Error(t, err)

	_, err = NewGateway(GatewayConfig{Kind: "kraken", ProductID: "BTC-USD"}, nil)
	assert.Error(t, err)

	_, err = NewGateway(GatewayConfig{Kind: KindPaper}, nil)
	assert.Error(t, err)

	cfg := cache.DefaultConfig()
	conn, err := NewGateway(GatewayConfig{
		Kind:      KindPaper,
		ProductID: "BTC-USD",
		Paper:     PaperConfig{QuoteBalance: 100},
		Cache:     &cfg,
	}, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NotNil(t, conn.Paper)
	assert.Same(t, conn.Paper, conn.Gateway)
	assert.IsType(t, &CachedGateway{}, conn.History)
	assert.IsType(t, &MergedFeed{}, conn.Feed)

	conn, err = NewGateway(GatewayConfig{
		Kind:      "COINBASE",
		ProductID: "BTC-USD",
		Coinbase:  CoinbaseConfig{APIKey: "k", APISecret: "s", Passphrase: "p", Sandbox: true},
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CoinbaseGateway{}, conn.Gateway)
	assert.Same(t, conn.Gateway, conn.History)
	assert.IsType(t, &CoinbaseFeed{}, conn.Feed)
}
