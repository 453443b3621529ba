package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evdnx/golog"
	metrics "github.com/evdnx/gotrademetrics"
	"github.com/kylerberry/JACT/cache"
	"github.com/kylerberry/JACT/internal/logutil"
)

// GatewayKind selects the order backend.
type GatewayKind string

const (
	// KindCoinbase trades against the Coinbase exchange
	KindCoinbase GatewayKind = "coinbase"
	// KindPaper trades against an in-memory account fed by live market data
	KindPaper GatewayKind = "paper"
)

const exchangeFactoryComponent = "exchange_factory"

// GatewayConfig describes the connection to build.
type GatewayConfig struct {
	Kind      GatewayKind
	ProductID string
	Coinbase  CoinbaseConfig
	Paper     PaperConfig
	// Cache wraps candle history requests when set.
	Cache *cache.Config
}

// Connection bundles everything the trader needs from an exchange.
type Connection struct {
	// Gateway places orders and reports balances.
	Gateway Gateway
	// History serves candles; it is the public Coinbase API in paper mode.
	History Gateway
	// Feed carries ticker, heartbeat and order events.
	Feed Feed
	// Paper is set in paper mode.
	Paper *PaperGateway
}

// Close stops background resources.
func (c *Connection) Close() error {
	if cg, ok := c.History.(*CachedGateway); ok {
		cg.Stop()
	}
	if c.Feed != nil {
		return c.Feed.Close()
	}
	return nil
}

// NewGateway builds a Connection for cfg.Kind.
func NewGateway(cfg GatewayConfig, m *metrics.Metrics) (*Connection, error) {
	if cfg.ProductID == "" {
		return nil, fmt.Errorf("product id is required")
	}
	logger := logutil.Default()

	switch GatewayKind(strings.ToLower(string(cfg.Kind))) {
	case KindCoinbase:
		if !cfg.Coinbase.HasCredentials() {
			return nil, fmt.Errorf("coinbase gateway requires apiKey, apiSecret and passphrase")
		}
		gw := NewCoinbaseGateway(cfg.Coinbase, m)
		conn := &Connection{
			Gateway: gw,
			History: withCache(gw, cfg.Cache),
			Feed:    NewCoinbaseFeed(cfg.Coinbase, cfg.ProductID),
		}
		logger.Info("created coinbase gateway",
			golog.String("component", exchangeFactoryComponent),
			golog.String("product", cfg.ProductID),
		)
		return conn, nil

	case KindPaper:
		cfg.Paper.ProductID = cfg.ProductID
		paper := NewPaperGateway(cfg.Paper)
		public := cfg.Coinbase
		public.APIKey, public.APISecret, public.Passphrase = "", "", ""
		conn := &Connection{
			Gateway: paper,
			History: withCache(NewCoinbaseGateway(public, m), cfg.Cache),
			Feed:    NewMergedFeed(NewCoinbaseFeed(public, cfg.ProductID), paper.Feed()),
			Paper:   paper,
		}
		logger.Info("created paper gateway",
			golog.String("component", exchangeFactoryComponent),
			golog.String("product", cfg.ProductID),
		)
		return conn, nil

	default:
		return nil, fmt.Errorf("unsupported gateway kind: %q", cfg.Kind)
	}
}

func withCache(gw Gateway, cfg *cache.Config) Gateway {
	if cfg == nil || !cfg.Enabled {
		return gw
	}
	return NewCachedGatewayWithConfig(gw, *cfg)
}

// MergedFeed fans subscriptions out to several feeds and connects them
// together.
type MergedFeed struct {
	feeds []Feed
}

// NewMergedFeed merges feeds.
func NewMergedFeed(feeds ...Feed) *MergedFeed {
	return &MergedFeed{feeds: feeds}
}

// Subscribe registers handler on every feed.
func (m *MergedFeed) Subscribe(eventType string, handler func(FeedEvent)) {
	for _, f := range m.feeds {
		f.Subscribe(eventType, handler)
	}
}

// Connect connects every feed and fails on the first error.
func (m *MergedFeed) Connect(ctx context.Context) error {
	for _, f := range m.feeds {
		if err := f.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every feed and joins their errors.
func (m *MergedFeed) Close() error {
	var errs []error
	for _, f := range m.feeds {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
