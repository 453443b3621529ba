package backtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/models"
	"github.com/kylerberry/JACT/strategy"
	"github.com/kylerberry/JACT/trader"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// historyGateway serves loaded candles newest first, like the exchange.
type historyGateway struct {
	*exchange.PaperGateway
	mu       sync.Mutex
	calls    int
	pageSize int
}

func newHistory(closes ...float64) *historyGateway {
	paper := exchange.NewPaperGateway(exchange.PaperConfig{ProductID: "BTC-USD"})
	cs := make([]models.Candle, len(closes))
	for i, c := range closes {
		cs[i] = models.Candle{Time: t0.Add(time.Duration(i) * time.Minute).Unix(), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	paper.LoadCandles(cs)
	return &historyGateway{PaperGateway: paper}
}

func (h *historyGateway) GetCandles(ctx context.Context, product string, g time.Duration, start, end time.Time) ([]models.Candle, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	out, err := h.PaperGateway.GetCandles(ctx, product, g, start, end)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

func (h *historyGateway) MaxCandlesPerRequest() int { return h.pageSize }

// flakyGateway fails the first failures calls with err.
type flakyGateway struct {
	*historyGateway
	failures int
	err      error
}

func (f *flakyGateway) GetCandles(ctx context.Context, product string, g time.Duration, start, end time.Time) ([]models.Candle, error) {
	if f.failures > 0 {
		f.failures--
		f.calls++
		return nil, f.err
	}
	return f.historyGateway.GetCandles(ctx, product, g, start, end)
}

type scripted struct {
	signals []strategy.Signal
	i       int
	seen    []int
}

func (s *scripted) Name() string    { return "scripted" }
func (s *scripted) MinHistory() int { return 0 }
func (s *scripted) Evaluate(cs []models.Candle) (strategy.Signal, error) {
	s.seen = append(s.seen, len(cs))
	if s.i >= len(s.signals) {
		return strategy.Neutral, nil
	}
	sig := s.signals[s.i]
	s.i++
	return sig, nil
}

func baseConfig() Config {
	return Config{
		Settings:          trader.Settings{ProductID: "BTC-USD", Granularity: time.Minute},
		QuoteBalance:      1000,
		MinimumOrderSize:  0.01,
		ChunkSize:         3,
		RequestsPerSecond: 1000,
	}
}

func TestFetchPagesAndSortsAscending(t *testing.T) {
	history := newHistory(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	cfg := baseConfig()
	cfg.Start = t0
	r, err := NewRunner(cfg, history, &scripted{})
	require.NoError(t, err)

	got, err := r.Fetch(context.Background(), t0, t0.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Time, got[i].Time)
	}
	assert.Equal(t, 4, history.calls)

	got, err = r.Fetch(context.Background(), t0, t0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	fast := &exchange.RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Strategy: exchange.BackoffConstant}
	cfg := baseConfig()
	cfg.Start = t0

	flaky := &flakyGateway{historyGateway: newHistory(1, 2), failures: 2, err: exchange.NewExchangeHTTPError(429, nil, "slow down")}
	r, err := NewRunner(cfg, flaky, &scripted{})
	require.NoError(t, err)
	r.retry = fast
	got, err := r.Fetch(context.Background(), t0, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 3, flaky.calls)

	flaky = &flakyGateway{historyGateway: newHistory(1, 2), failures: 1, err: exchange.NewExchangeHTTPError(400, nil, "bad granularity")}
	r, err = NewRunner(cfg, flaky, &scripted{})
	require.NoError(t, err)
	r.retry = fast
	_, err = r.Fetch(context.Background(), t0, t0.Add(2*time.Minute))
	require.Error(t, err)
	assert.Equal(t, 1, flaky.calls)
}

func TestChunkSizeCappedByPager(t *testing.T) {
	history := newHistory(1, 2, 3, 4)
	history.pageSize = 2
	cfg := baseConfig()
	cfg.Start = t0
	cfg.ChunkSize = 300
	r, err := NewRunner(cfg, history, &scripted{})
	require.NoError(t, err)

	got, err := r.Fetch(context.Background(), t0, t0.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 2, history.calls)
}

func TestRunReplaysRoundTrip(t *testing.T) {
	history := newHistory(90, 95, 100, 105, 110, 110)
	strat := &scripted{signals: []strategy.Signal{strategy.Long, strategy.Neutral, strategy.Short}}
	cfg := baseConfig()
	cfg.Start = t0.Add(2 * time.Minute)
	cfg.End = t0.Add(6 * time.Minute)
	cfg.Settings.Logging = true

	r, err := NewRunner(cfg, history, strat)
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Preload)
	assert.Equal(t, 4, report.Candles)
	// The first cycle sees both preloaded candles plus its own.
	assert.Equal(t, []int{3, 4, 5, 6}, strat.seen)

	assert.Equal(t, 2, report.Summary.TotalTrades)
	assert.Equal(t, 1, report.Summary.Wins)
	require.NotNil(t, report.Summary.NetProfit)
	assert.InDelta(t, 100, report.Summary.NetProfit.USD, 1e-6)
	assert.InDelta(t, 0, report.Summary.OpenPosition, 1e-9)
	assert.Equal(t, trader.StateIdle, report.Snapshot.State)

	usd, err := exchange.ParseAmount(report.Balances["USD"].Available)
	require.NoError(t, err)
	assert.InDelta(t, 1100, usd, 1e-6)
}

func TestRunStopLossOnReplay(t *testing.T) {
	history := newHistory(100, 100, 80, 80)
	strat := &scripted{signals: []strategy.Signal{strategy.Long}}
	cfg := baseConfig()
	cfg.Start = t0
	cfg.End = t0.Add(4 * time.Minute)
	cfg.Settings.StopLoss = 0.1

	r, err := NewRunner(cfg, history, strat)
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Summary.TotalTrades)
	assert.Equal(t, 1, report.Summary.Losses)
	assert.InDelta(t, 0, report.Summary.OpenPosition, 1e-9)
}

func TestRunnerValidation(t *testing.T) {
	history := newHistory(1)
	cfg := baseConfig()

	_, err := NewRunner(cfg, history, &scripted{})
	assert.Error(t, err, "start is required")

	cfg.Start = t0
	_, err = NewRunner(cfg, nil, &scripted{})
	assert.Error(t, err)

	bad := cfg
	bad.QuoteBalance = 0
	_, err = NewRunner(bad, history, &scripted{})
	assert.Error(t, err)

	cfg.End = t0.Add(-time.Hour)
	r, err := NewRunner(cfg, history, &scripted{})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	assert.Error(t, err)

	cfg.Start = t0.Add(24 * time.Hour)
	cfg.End = t0.Add(25 * time.Hour)
	r, err = NewRunner(cfg, history, &scripted{})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	assert.ErrorContains(t, err, "no candles")
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2024-03-01")
	require.NoError(t, err)
	assert.True(t, got.Equal(t0))

	got, err = ParseTime("2024-03-01T00:05:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(t0.Add(5*time.Minute)))

	got, err = ParseTime("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
