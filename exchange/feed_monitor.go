package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evdnx/golog"
	"github.com/kylerberry/JACT/internal/logutil"
)

// FeedStatus represents the current state of the realtime feed
type FeedStatus string

const (
	// FeedStatusConnecting is reported until the first heartbeat arrives
	FeedStatusConnecting FeedStatus = "CONNECTING"
	// FeedStatusUp means heartbeats arrive within the timeout
	FeedStatusUp FeedStatus = "UP"
	// FeedStatusReconnecting means the watchdog dropped the connection
	FeedStatusReconnecting FeedStatus = "RECONNECTING"
	// FeedStatusDown means the reconnect budget is spent
	FeedStatusDown FeedStatus = "DOWN"
)

const feedMonitorComponent = "feed_monitor"

// FeedMonitorConfig configures the heartbeat watchdog.
type FeedMonitorConfig struct {
	HeartbeatTimeout  time.Duration
	ReconnectInterval time.Duration
	MaxReconnects     int
}

// DefaultFeedMonitorConfig returns a 15s watchdog retrying every 30s, 30 times.
func DefaultFeedMonitorConfig() FeedMonitorConfig {
	return FeedMonitorConfig{
		HeartbeatTimeout:  15 * time.Second,
		ReconnectInterval: 30 * time.Second,
		MaxReconnects:     30,
	}
}

// FeedHealth is a snapshot of the feed's connection state.
type FeedHealth struct {
	Status           FeedStatus `json:"status"`
	LastHeartbeat    time.Time  `json:"lastHeartbeat"`
	Reconnects       int        `json:"reconnects"`
	ConsecutiveFails int        `json:"consecutiveFails"`
	LastError        string     `json:"lastError,omitempty"`
}

// FeedMonitor keeps a Feed connected. It reconnects when no heartbeat is
// seen for HeartbeatTimeout and gives up after MaxReconnects consecutive
// attempts without a heartbeat in between.
type FeedMonitor struct {
	feed   Feed
	cfg    FeedMonitorConfig
	policy *RetryPolicy
	logger *golog.Logger
	beat   chan struct{}

	mu     sync.RWMutex
	health FeedHealth
}

// NewFeedMonitor wraps feed. It subscribes to heartbeat events immediately.
func NewFeedMonitor(feed Feed, cfg FeedMonitorConfig) *FeedMonitor {
	def := DefaultFeedMonitorConfig()
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}
	m := &FeedMonitor{
		feed:   feed,
		cfg:    cfg,
		policy: ReconnectPolicy(cfg.ReconnectInterval, cfg.MaxReconnects),
		logger: logutil.Default(),
		beat:   make(chan struct{}, 1),
		health: FeedHealth{Status: FeedStatusConnecting},
	}
	feed.Subscribe(EventHeartbeat, m.onHeartbeat)
	return m
}

func (m *FeedMonitor) onHeartbeat(FeedEvent) {
	m.mu.Lock()
	m.health.LastHeartbeat = time.Now()
	m.health.Status = FeedStatusUp
	m.health.ConsecutiveFails = 0
	m.mu.Unlock()

	select {
	case m.beat <- struct{}{}:
	default:
	}
}

// Health returns the current feed health.
func (m *FeedMonitor) Health() FeedHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

func (m *FeedMonitor) setStatus(status FeedStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health.Status = status
	if err != nil {
		m.health.LastError = err.Error()
		m.health.ConsecutiveFails++
	}
}

// Run connects the feed and supervises it until ctx is done. It returns a
// non-retriable NetworkError when the reconnect budget is exhausted.
func (m *FeedMonitor) Run(ctx context.Context) error {
	timer := time.NewTimer(m.cfg.HeartbeatTimeout)
	defer timer.Stop()
	defer m.feed.Close()

	attempts := 0
	connect := true
	var lastErr error

	for {
		if connect {
			if attempts > 0 {
				if m.policy.Exhausted(attempts) {
					m.setStatus(FeedStatusDown, nil)
					return NewNetworkError("reconnect_exhausted",
						fmt.Sprintf("feed not recovered after %d reconnect attempts", attempts-1), lastErr, false)
				}
				m.logger.Warn("reconnecting feed",
					golog.String("component", feedMonitorComponent),
					golog.Int("attempt", attempts),
				)
				if !sleepCtx(ctx, m.policy.Backoff(attempts)) {
					return nil
				}
				_ = m.feed.Close()
				m.mu.Lock()
				m.health.Reconnects++
				m.mu.Unlock()
			}
			if err := m.feed.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lastErr = err
				m.setStatus(FeedStatusReconnecting, err)
				m.logger.Error("feed connect failed",
					golog.String("component", feedMonitorComponent),
					golog.String("error", err.Error()),
				)
				attempts++
				continue
			}
			connect = false
			resetTimer(timer, m.cfg.HeartbeatTimeout)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.beat:
			attempts = 0
			resetTimer(timer, m.cfg.HeartbeatTimeout)
		case <-timer.C:
			lastErr = fmt.Errorf("no heartbeat for %s", m.cfg.HeartbeatTimeout)
			m.setStatus(FeedStatusReconnecting, lastErr)
			m.logger.Warn("heartbeat timeout",
				golog.String("component", feedMonitorComponent),
				golog.String("timeout", m.cfg.HeartbeatTimeout.String()),
			)
			attempts++
			connect = true
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
