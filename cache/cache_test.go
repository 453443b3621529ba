package cache

import (
	"testing"
	"time"

	"github.com/kylerberry/JACT/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache[V any](cfg Config) (*Cache[V], *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := New[V](cfg)
	c.now = clock.now
	return c, clock
}

func TestCacheExpiry(t *testing.T) {
	c, clock := newTestCache[int](DefaultConfig())
	defer c.Stop()

	c.Set("a", 1, time.Second)
	c.Set("forever", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.advance(2 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("forever")
	assert.True(t, ok)

	c.deleteExpired()
	assert.Equal(t, 1, c.Len())
}

func TestCacheEvictsOldestEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	c, clock := newTestCache[string](cfg)
	defer c.Stop()

	for _, key := range []string{"first", "second", "third"} {
		c.Set(key, key, time.Hour)
		clock.advance(time.Millisecond)
	}

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("first")
	assert.False(t, ok)
	_, ok = c.Get("third")
	assert.True(t, ok)

	c.Delete("third")
	c.Clear()
	assert.Zero(t, c.Len())
	c.Stop()
}

func TestCandleCacheTTLs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentTTL = time.Minute
	cfg.HistoricalTTL = time.Hour
	cc := NewCandleCacheWithConfig(cfg)
	defer cc.Stop()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cc.cache.now = clock.now

	assert.Equal(t, time.Minute, cc.ttlFor(5*time.Minute, time.Time{}))
	assert.Equal(t, time.Minute, cc.ttlFor(5*time.Minute, clock.t.Add(-time.Minute)))
	assert.Equal(t, time.Hour, cc.ttlFor(5*time.Minute, clock.t.Add(-10*time.Minute)))

	recentEnd := clock.t
	oldEnd := clock.t.Add(-time.Hour)
	cc.SetRange("BTC-USD", 5*time.Minute, oldEnd.Add(-time.Hour), recentEnd, []models.Candle{{Time: 1}})
	cc.SetRange("BTC-USD", 5*time.Minute, oldEnd.Add(-time.Hour), oldEnd, []models.Candle{{Time: 2}})

	clock.advance(2 * time.Minute)
	_, ok := cc.GetRange("BTC-USD", 5*time.Minute, oldEnd.Add(-time.Hour), recentEnd)
	assert.False(t, ok)
	got, ok := cc.GetRange("BTC-USD", 5*time.Minute, oldEnd.Add(-time.Hour), oldEnd)
	require.True(t, ok)
	assert.Equal(t, int64(2), got[0].Time)
}

func TestCandleCacheDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cc := NewCandleCacheWithConfig(cfg)
	defer cc.Stop()

	cc.SetRange("BTC-USD", time.Minute, time.Time{}, time.Time{}, []models.Candle{{Time: 1}})
	_, ok := cc.GetRange("BTC-USD", time.Minute, time.Time{}, time.Time{})
	assert.False(t, ok)
	assert.False(t, cc.IsEnabled())
}

func TestRangeKey(t *testing.T) {
	key := RangeKey("ETH-USD", time.Hour, time.Unix(10, 0), time.Unix(20, 0))
	assert.Equal(t, "ETH-USD:3600:10:20", key)
}
