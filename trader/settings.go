package trader

import (
	"time"

	"github.com/evdnx/golog"
	"github.com/kylerberry/JACT/ledger"
)

// Settings are the runtime knobs of one controller.
type Settings struct {
	ProductID   string
	Granularity time.Duration
	// StopLoss is a fraction below the last buy price. Zero disables it.
	StopLoss float64
	// AllowedSlippage bounds how far a replacement bid may exceed the
	// signaled price. Zero disables the gate.
	AllowedSlippage float64
	// Logging turns on trade narration. Warnings and errors are always logged.
	Logging            bool
	ReplacePartialBuys bool
}

// Notifier receives the ledger summary after every resolved cycle.
type Notifier interface {
	Notify(summary ledger.Summary) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger overrides the shared logger.
func WithLogger(logger *golog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithNotifier sets the summary sink.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithReplacePartialBuys re-bids the unfilled part of a buy that finished
// partially filled.
func WithReplacePartialBuys(enabled bool) Option {
	return func(c *Controller) { c.settings.ReplacePartialBuys = enabled }
}

// WithSyncDispatch makes gateway calls inline on the loop goroutine instead
// of in background goroutines. Feeds must then buffer their events, which
// the paper feed does in buffered mode.
func WithSyncDispatch() Option {
	return func(c *Controller) { c.sync = true }
}

// WithoutTimer disables the granularity ticker; cycles run only on
// TradeTick and CandleClosed events.
func WithoutTimer() Option {
	return func(c *Controller) { c.manual = true }
}
