package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	mu         sync.Mutex
	heartbeat  []func(FeedEvent)
	connectErr error
	connects   int
	closes     int
}

func (f *fakeFeed) Subscribe(eventType string, handler func(FeedEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eventType == EventHeartbeat {
		f.heartbeat = append(f.heartbeat, handler)
	}
}

func (f *fakeFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeFeed) beat() {
	f.mu.Lock()
	handlers := append([]func(FeedEvent){}, f.heartbeat...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(FeedEvent{Type: EventHeartbeat})
	}
}

func (f *fakeFeed) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func TestFeedMonitorGivesUpAfterBudget(t *testing.T) {
	feed := &fakeFeed{connectErr: errors.New("dial refused")}
	mon := NewFeedMonitor(feed, FeedMonitorConfig{
		HeartbeatTimeout:  20 * time.Millisecond,
		ReconnectInterval: time.Millisecond,
		MaxReconnects:     3,
	})

	err := mon.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.False(t, IsRetriable(err))
	assert.Equal(t, 4, feed.connectCount())

	health := mon.Health()
	assert.Equal(t, FeedStatusDown, health.Status)
	assert.Equal(t, 3, health.Reconnects)
	assert.Contains(t, health.LastError, "dial refused")
}

func TestFeedMonitorReconnectsOnHeartbeatTimeout(t *testing.T) {
	feed := &fakeFeed{}
	mon := NewFeedMonitor(feed, FeedMonitorConfig{
		HeartbeatTimeout:  10 * time.Millisecond,
		ReconnectInterval: time.Millisecond,
		MaxReconnects:     2,
	})

	err := mon.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, feed.connectCount())
	assert.Equal(t, 2, mon.Health().Reconnects)
	assert.Contains(t, mon.Health().LastError, "no heartbeat")
}

func TestFeedMonitorStaysUpWithHeartbeats(t *testing.T) {
	feed := &fakeFeed{}
	mon := NewFeedMonitor(feed, FeedMonitorConfig{
		HeartbeatTimeout:  50 * time.Millisecond,
		ReconnectInterval: time.Millisecond,
		MaxReconnects:     1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(150 * time.Millisecond)
loop:
	for {
		select {
		case <-ticker.C:
			feed.beat()
		case <-deadline:
			break loop
		}
	}
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 1, feed.connectCount())
	health := mon.Health()
	assert.Equal(t, FeedStatusUp, health.Status)
	assert.Zero(t, health.Reconnects)
	assert.False(t, health.LastHeartbeat.IsZero())
}

func TestDefaultFeedMonitorConfig(t *testing.T) {
	mon := NewFeedMonitor(&fakeFeed{}, FeedMonitorConfig{})
	assert.Equal(t, 15*time.Second, mon.cfg.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, mon.cfg.ReconnectInterval)
	assert.Equal(t, 30, mon.cfg.MaxReconnects)
	assert.Equal(t, FeedStatusConnecting, mon.Health().Status)
}
