// Command jact runs the trading agent against Coinbase or a paper account,
// or replays history with --backtest.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evdnx/golog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/kylerberry/JACT/api"
	"github.com/kylerberry/JACT/backtest"
	"github.com/kylerberry/JACT/candles"
	"github.com/kylerberry/JACT/config"
	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/internal/logutil"
	"github.com/kylerberry/JACT/journal"
	"github.com/kylerberry/JACT/ledger"
	"github.com/kylerberry/JACT/notify"
	"github.com/kylerberry/JACT/security"
	"github.com/kylerberry/JACT/strategy"
	"github.com/kylerberry/JACT/trader"
)

const mainComponent = "jact"

type options struct {
	configPath string
	backtest   bool
	start      string
	end        string
	strategy   string
	product    string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("jact", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "path to a YAML configuration file")
	fs.BoolVar(&o.backtest, "backtest", false, "replay history instead of trading live")
	fs.StringVar(&o.start, "start", "", "backtest start (RFC3339 or YYYY-MM-DD)")
	fs.StringVar(&o.end, "end", "", "backtest end, defaults to now")
	fs.StringVar(&o.strategy, "strategy", "", "strategy key, overrides the configuration")
	fs.StringVar(&o.product, "product", "", "product id, overrides the configuration")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		logutil.Default().Error("jact exited",
			golog.String("component", mainComponent),
			golog.String("error", err.Error()),
		)
		os.Exit(1)
	}
}

func loadConfig(ctx context.Context, opts options) (*config.ConfigManager, error) {
	cm, err := config.NewConfigManager(opts.configPath, !opts.backtest)
	if err != nil {
		return nil, err
	}
	if opts.product != "" {
		if err := cm.Set("product", opts.product); err != nil {
			return nil, err
		}
	}
	if opts.strategy != "" {
		if err := cm.Set("strategy", opts.strategy); err != nil {
			return nil, err
		}
	}
	if opts.backtest {
		return cm, nil
	}

	if err := cm.ResolveSecrets(ctx); err != nil {
		return nil, err
	}
	if path := cm.GetConfig().Exchange.CredentialStore; path != "" {
		store, err := security.NewCredentialStore(cm.GetConfig().Exchange.MasterKeyEnv, path)
		if err != nil {
			return nil, err
		}
		if err := cm.ResolveCredentials(store); err != nil {
			return nil, err
		}
	}
	return cm, nil
}

func run(ctx context.Context, opts options) error {
	cm, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}
	cfg := cm.GetConfig()
	logger := logutil.Default()

	strat, err := strategy.NewRegistry().Resolve(cfg.Strategy)
	if err != nil {
		return err
	}

	if opts.backtest {
		return runBacktest(ctx, cfg, opts, strat)
	}

	conn, err := exchange.NewGateway(gatewayConfig(cfg), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	l := ledger.New(ledgerOptions(cfg))
	var j *journal.Journal
	if cfg.Journal.Enabled {
		j, err = journal.Open(ctx, cfg.Journal.DSN, cfg.Product)
		if err != nil {
			return err
		}
		defer j.Close()
		fills, err := j.Load(ctx)
		if err != nil {
			return err
		}
		for _, f := range fills {
			if err := l.AddFilled(f); err != nil {
				logger.Warn("skipping journaled fill",
					golog.String("component", mainComponent),
					golog.String("order_id", f.OrderID),
					golog.String("error", err.Error()),
				)
			}
		}
		logger.Info("ledger restored from journal",
			golog.String("component", mainComponent),
			golog.Int("fills", len(fills)),
		)
		// Registered after the replay so restored fills are not written back.
		l.OnFill(j.Hook())
	}

	series := candles.NewSeries(cfg.HistoryCapacity)
	if err := preload(ctx, conn.History, cfg, series); err != nil {
		logger.Warn("history preload failed, strategy warms up from live candles",
			golog.String("component", mainComponent),
			golog.String("error", err.Error()),
		)
	}

	ctrlOpts := []trader.Option{}
	if n := notify.NewWebhookNotifier(cfg.Notifier.WebhookURL, cfg.Product); n.Enabled() {
		ctrlOpts = append(ctrlOpts, trader.WithNotifier(n))
	}
	ctrl, err := trader.NewController(settingsFrom(cfg), trader.Deps{
		Gateway:  conn.Gateway,
		Ledger:   l,
		Strategy: strat,
		Series:   series,
	}, ctrlOpts...)
	if err != nil {
		return err
	}
	conn.Feed.Subscribe(exchange.AllEvents, trader.FromFeed(ctrl))
	monitor := exchange.NewFeedMonitor(conn.Feed, feedMonitorConfig(cfg))

	cm.RegisterOnChangeCallback(func(next *config.Config) {
		if next.Product != cfg.Product || next.Strategy != cfg.Strategy || next.Exchange.Name != cfg.Exchange.Name {
			logger.Warn("product, strategy and exchange changes apply on restart",
				golog.String("component", mainComponent),
			)
		}
		l.SetMaxFunds(next.MaxFunds)
		l.SetFundingReserve(next.FundingReserve)
		s := settingsFrom(next)
		s.ProductID = cfg.Product
		ctrl.Submit(trader.SettingsUpdate{Settings: s})
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	if j != nil {
		g.Go(func() error { return j.Run(gctx) })
	}

	if cfg.API.Enabled {
		auth, err := tokenMiddleware(cfg)
		if err != nil {
			return err
		}
		if auth == nil {
			logger.Warn("admin api running without authentication",
				golog.String("component", mainComponent),
				golog.String("token_env", cfg.API.TokenKeyEnv),
			)
		}
		server := api.NewServer(cfg.API.Listen, api.Deps{
			Config:   cm,
			Stats:    l,
			Snapshot: ctrl,
			Health:   monitor,
			Auth:     auth,
		})
		g.Go(func() error { return server.Run(gctx) })
	}

	logger.Info("jact started",
		golog.String("component", mainComponent),
		golog.String("exchange", conn.Gateway.GetName()),
		golog.String("product", cfg.Product),
		golog.String("strategy", strat.Name()),
	)
	err = g.Wait()
	fmt.Println(notify.Describe(l.Info()))
	return err
}

// preload seeds the series with the most recent closed candles.
func preload(ctx context.Context, history exchange.Gateway, cfg *config.Config, series *candles.Series) error {
	n := cfg.HistoryCapacity
	if pager, ok := history.(exchange.CandlePager); ok && pager.MaxCandlesPerRequest() < n {
		n = pager.MaxCandlesPerRequest()
	}
	g := cfg.GranularityDuration()
	end := time.Now().UTC().Truncate(g)
	start := end.Add(-time.Duration(n) * g)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	recent, err := history.GetCandles(ctx, cfg.Product, g, start, end)
	if err != nil {
		return err
	}
	series.Load(recent)
	return nil
}

func runBacktest(ctx context.Context, cfg *config.Config, opts options, strat strategy.Strategy) error {
	bc, err := backtestConfig(cfg, opts.start, opts.end)
	if err != nil {
		return err
	}
	conn, err := exchange.NewGateway(historyOnly(cfg), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	runner, err := backtest.NewRunner(bc, conn.History, strat)
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(notify.Describe(report.Summary))
	for asset, b := range report.Balances {
		fmt.Printf("%s: %s\n", asset, b.Available)
	}
	return nil
}
