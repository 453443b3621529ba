// Package backtest replays historical candles through the trading
// controller against a simulated account.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/evdnx/golog"
	"golang.org/x/time/rate"

	"github.com/kylerberry/JACT/candles"
	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/internal/logutil"
	"github.com/kylerberry/JACT/ledger"
	"github.com/kylerberry/JACT/models"
	"github.com/kylerberry/JACT/strategy"
	"github.com/kylerberry/JACT/trader"
)

const (
	backtestComponent = "backtest"

	// DefaultChunkSize is the candles requested per history call.
	DefaultChunkSize = 300
	// DefaultRequestsPerSecond paces history calls below the public limit.
	DefaultRequestsPerSecond = 3
	// DefaultSlippageOdds is the chance a simulated buy slips.
	DefaultSlippageOdds = 0.5

	settleTimeout = 30 * time.Second
)

// Config describes one replay.
type Config struct {
	Settings trader.Settings
	Start    time.Time
	// End defaults to now.
	End time.Time

	QuoteBalance float64
	// Slippage is the most a buy can slip, as a fraction of its price.
	Slippage float64
	Seed     int64

	MaxFunds float64
	// FundingReserve is the usable fraction of the balance. Zero means all.
	FundingReserve   float64
	MinimumOrderSize float64
	HistoryCapacity  int

	ChunkSize         int
	RequestsPerSecond float64
}

// Report is the outcome of a replay.
type Report struct {
	Start    time.Time                    `json:"start"`
	End      time.Time                    `json:"end"`
	Preload  int                          `json:"preload"`
	Candles  int                          `json:"candles"`
	Summary  ledger.Summary               `json:"summary"`
	Balances map[string]*exchange.Balance `json:"balances"`
	Snapshot trader.Snapshot              `json:"controller"`
}

// Runner fetches history from a gateway and replays it.
type Runner struct {
	cfg      Config
	history  exchange.Gateway
	strategy strategy.Strategy
	limiter  *rate.Limiter
	retry    *exchange.RetryPolicy
	logger   *golog.Logger
	now      func() time.Time
}

// ParseTime accepts RFC3339 or a plain date.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339 or YYYY-MM-DD", value)
}

// NewRunner validates cfg and fills in defaults.
func NewRunner(cfg Config, history exchange.Gateway, strat strategy.Strategy) (*Runner, error) {
	if history == nil {
		return nil, fmt.Errorf("backtest requires a history gateway")
	}
	if strat == nil {
		return nil, fmt.Errorf("backtest requires a strategy")
	}
	if cfg.Settings.ProductID == "" {
		return nil, fmt.Errorf("backtest requires a product id")
	}
	if cfg.Settings.Granularity <= 0 {
		return nil, fmt.Errorf("granularity must be positive, got %s", cfg.Settings.Granularity)
	}
	if cfg.Start.IsZero() {
		return nil, fmt.Errorf("backtest requires a start time")
	}
	if cfg.QuoteBalance <= 0 {
		return nil, fmt.Errorf("backtest requires a positive quote balance")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if pager, ok := history.(exchange.CandlePager); ok {
		if max := pager.MaxCandlesPerRequest(); max > 0 && cfg.ChunkSize > max {
			cfg.ChunkSize = max
		}
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = candles.DefaultCapacity
	}
	if cfg.MinimumOrderSize <= 0 {
		cfg.MinimumOrderSize = ledger.DefaultMinimumOrderSize
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Runner{
		cfg:      cfg,
		history:  history,
		strategy: strat,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		retry:    exchange.DefaultRetryPolicy(),
		logger:   logutil.Default(),
		now:      time.Now,
	}, nil
}

// Fetch returns the candles opening in [start, end), oldest first, paging
// through the history gateway in chunks.
func (r *Runner) Fetch(ctx context.Context, start, end time.Time) ([]models.Candle, error) {
	if !end.After(start) {
		return nil, nil
	}
	g := r.cfg.Settings.Granularity
	window := time.Duration(r.cfg.ChunkSize) * g

	seen := make(map[int64]bool)
	var out []models.Candle
	for from := start; from.Before(end); from = from.Add(window) {
		to := from.Add(window)
		if to.After(end) {
			to = end
		}
		chunk, err := r.fetchChunk(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch candles from %s to %s: %w",
				from.Format(time.RFC3339), to.Format(time.RFC3339), err)
		}
		for _, c := range chunk {
			if c.Time < start.Unix() || c.Time >= end.Unix() || seen[c.Time] {
				continue
			}
			seen[c.Time] = true
			out = append(out, c)
		}
		r.logger.Debug("fetched candle chunk",
			golog.String("component", backtestComponent),
			golog.String("from", from.Format(time.RFC3339)),
			golog.Int("candles", len(chunk)),
		)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// fetchChunk requests one window, retrying transient failures.
func (r *Runner) fetchChunk(ctx context.Context, from, to time.Time) ([]models.Candle, error) {
	for attempt := 0; ; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		chunk, err := r.history.GetCandles(ctx, r.cfg.Settings.ProductID, r.cfg.Settings.Granularity, from, to)
		if err == nil {
			return chunk, nil
		}
		if !r.retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		wait := r.retry.Backoff(attempt + 1)
		if exchange.IsRateLimitError(err) {
			wait *= 2
		}
		r.logger.Warn("retrying candle chunk",
			golog.String("component", backtestComponent),
			golog.String("from", from.Format(time.RFC3339)),
			golog.Int("attempt", attempt+1),
			golog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Run preloads history before Start, then replays every candle up to End
// one trade cycle at a time.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.cfg.Start
	end := r.cfg.End
	if end.IsZero() {
		end = r.now().UTC()
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	g := r.cfg.Settings.Granularity

	r.logger.Info("loading history",
		golog.String("component", backtestComponent),
		golog.String("product", r.cfg.Settings.ProductID),
		golog.String("start", start.Format(time.RFC3339)),
		golog.String("end", end.Format(time.RFC3339)),
	)
	preload, err := r.Fetch(ctx, start.Add(-time.Duration(r.cfg.HistoryCapacity)*g), start)
	if err != nil {
		return nil, err
	}
	replay, err := r.Fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(replay) == 0 {
		return nil, fmt.Errorf("no candles between %s and %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	paper := exchange.NewPaperGateway(exchange.PaperConfig{
		ProductID:    r.cfg.Settings.ProductID,
		QuoteBalance: r.cfg.QuoteBalance,
		AutoFill:     true,
		Slippage:     r.cfg.Slippage,
		SlippageOdds: DefaultSlippageOdds,
		Seed:         r.cfg.Seed,
	})
	paper.Feed().SetBuffered(true)

	var clock time.Time
	now := func() time.Time { return clock }
	paper.SetClock(now)

	l := ledger.New(ledger.Options{
		MaxFunds:         r.cfg.MaxFunds,
		FundingReserve:   r.cfg.FundingReserve,
		MinimumOrderSize: r.cfg.MinimumOrderSize,
	})
	l.SetAvailableFunds(r.cfg.QuoteBalance)
	series := candles.NewSeries(r.cfg.HistoryCapacity)
	series.Load(preload)

	ctrl, err := trader.NewController(r.cfg.Settings, trader.Deps{
		Gateway:  paper,
		Ledger:   l,
		Strategy: r.strategy,
		Series:   series,
	}, trader.WithSyncDispatch(), trader.WithoutTimer(), trader.WithClock(now))
	if err != nil {
		return nil, err
	}
	paper.Feed().Subscribe(exchange.AllEvents, trader.FromFeed(ctrl))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(runCtx) }()

	// Replay state is only touched between settles, while the loop is idle.
	clock = start
	if err := settle(runCtx, ctrl, paper); err != nil {
		return nil, err
	}
	for _, c := range replay {
		clock = c.OpenTime().Add(g)
		paper.LoadCandles([]models.Candle{c})
		ctrl.Submit(trader.CandleClosed{Candle: c})
		if err := settle(runCtx, ctrl, paper); err != nil {
			return nil, err
		}
	}

	balances, err := paper.GetBalances(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{
		Start:    start,
		End:      end,
		Preload:  len(preload),
		Candles:  len(replay),
		Summary:  l.Info(),
		Balances: balances,
		Snapshot: ctrl.Snapshot(),
	}
	cancel()
	if err := <-done; err != nil {
		return nil, err
	}

	r.logger.Info("backtest complete",
		golog.String("component", backtestComponent),
		golog.Int("candles", report.Candles),
		golog.Int("trades", report.Summary.TotalTrades),
		golog.Int("wins", report.Summary.Wins),
		golog.Int("losses", report.Summary.Losses),
	)
	return report, nil
}

// settle waits for the loop and delivers paper events until none are left.
func settle(ctx context.Context, ctrl *trader.Controller, paper *exchange.PaperGateway) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := ctrl.Sync(ctx); err != nil {
		return err
	}
	for paper.Feed().Drain() > 0 {
		if err := ctrl.Sync(ctx); err != nil {
			return err
		}
	}
	return nil
}
