package main

import (
	"fmt"
	"os"

	"github.com/kylerberry/JACT/backtest"
	"github.com/kylerberry/JACT/cache"
	"github.com/kylerberry/JACT/config"
	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/ledger"
	"github.com/kylerberry/JACT/security"
	"github.com/kylerberry/JACT/trader"
)

func settingsFrom(cfg *config.Config) trader.Settings {
	return trader.Settings{
		ProductID:          cfg.Product,
		Granularity:        cfg.GranularityDuration(),
		StopLoss:           cfg.StopLoss,
		AllowedSlippage:    cfg.AllowedSlippage,
		Logging:            cfg.Logging,
		ReplacePartialBuys: cfg.ReplacePartialBuys,
	}
}

func gatewayConfig(cfg *config.Config) exchange.GatewayConfig {
	gc := exchange.GatewayConfig{
		Kind:      exchange.GatewayKind(cfg.Exchange.Name),
		ProductID: cfg.Product,
		Coinbase: exchange.CoinbaseConfig{
			APIKey:     cfg.Exchange.APIKey,
			APISecret:  cfg.Exchange.APISecret,
			Passphrase: cfg.Exchange.Passphrase,
			Sandbox:    cfg.Exchange.Sandbox,
			RESTURL:    cfg.Exchange.RESTURL,
			FeedURL:    cfg.Exchange.FeedURL,
		},
		Paper: exchange.PaperConfig{
			QuoteBalance: cfg.Exchange.Paper.QuoteBalance,
			BaseBalance:  cfg.Exchange.Paper.BaseBalance,
		},
	}
	if cfg.Cache.Enabled {
		cc := cache.DefaultConfig()
		cc.RecentTTL = cfg.Cache.RecentTTL
		cc.HistoricalTTL = cfg.Cache.HistoricalTTL
		cc.MaxEntries = cfg.Cache.MaxEntries
		gc.Cache = &cc
	}
	return gc
}

// historyOnly builds a connection for replays, which need public candles
// and never the private account.
func historyOnly(cfg *config.Config) exchange.GatewayConfig {
	gc := gatewayConfig(cfg)
	gc.Kind = exchange.KindPaper
	return gc
}

func feedMonitorConfig(cfg *config.Config) exchange.FeedMonitorConfig {
	return exchange.FeedMonitorConfig{
		HeartbeatTimeout:  cfg.Feed.HeartbeatTimeout,
		ReconnectInterval: cfg.Feed.ReconnectInterval,
		MaxReconnects:     cfg.Feed.MaxReconnects,
	}
}

func ledgerOptions(cfg *config.Config) ledger.Options {
	return ledger.Options{MaxFunds: cfg.MaxFunds, FundingReserve: cfg.FundingReserve}
}

func backtestConfig(cfg *config.Config, start, end string) (backtest.Config, error) {
	if start == "" {
		start = cfg.Backtest.Start
	}
	if end == "" {
		end = cfg.Backtest.End
	}
	from, err := backtest.ParseTime(start)
	if err != nil {
		return backtest.Config{}, err
	}
	if from.IsZero() {
		return backtest.Config{}, fmt.Errorf("backtest requires --start or backtest.start")
	}
	to, err := backtest.ParseTime(end)
	if err != nil {
		return backtest.Config{}, err
	}
	return backtest.Config{
		Settings:          settingsFrom(cfg),
		Start:             from,
		End:               to,
		QuoteBalance:      cfg.Exchange.Paper.QuoteBalance,
		Slippage:          cfg.Backtest.Slippage,
		MaxFunds:          cfg.MaxFunds,
		FundingReserve:    cfg.FundingReserve,
		HistoryCapacity:   cfg.HistoryCapacity,
		ChunkSize:         cfg.Backtest.ChunkSize,
		RequestsPerSecond: cfg.Backtest.RequestsPerSecond,
	}, nil
}

// tokenMiddleware returns nil when no signing key is set, leaving the admin
// routes open.
func tokenMiddleware(cfg *config.Config) (*security.TokenMiddleware, error) {
	if cfg.API.TokenKeyEnv == "" || os.Getenv(cfg.API.TokenKeyEnv) == "" {
		return nil, nil
	}
	tm, err := security.NewTokenManagerFromEnv(cfg.API.TokenKeyEnv, cfg.API.Issuer, cfg.API.Audience)
	if err != nil {
		return nil, err
	}
	return security.NewTokenMiddleware(tm), nil
}
