package candles

import (
	"sort"
	"sync"

	"github.com/kylerberry/JACT/models"
)

// DefaultCapacity bounds the series when no capacity is configured.
const DefaultCapacity = 300

// Series is a bounded, time-ascending buffer of finalized candles.
type Series struct {
	mu       sync.RWMutex
	capacity int
	candles  []models.Candle
}

// NewSeries creates a series holding at most capacity candles.
func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Series{
		capacity: capacity,
		candles:  make([]models.Candle, 0, capacity),
	}
}

// Append pushes one candle. A candle with the same time as the newest one
// replaces it; an older candle is dropped and Append returns false.
func (s *Series) Append(c models.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.candles); n > 0 {
		last := s.candles[n-1]
		switch {
		case c.Time == last.Time:
			s.candles[n-1] = c
			return true
		case c.Time < last.Time:
			return false
		}
	}
	s.candles = appendAndResize(s.candles, c, s.capacity)
	return true
}

// Load replaces the content with history given in any order. Exchange REST
// endpoints return newest first; the series always stores oldest first.
func (s *Series) Load(history []models.Candle) {
	sorted := make([]models.Candle, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	deduped := sorted[:0]
	for _, c := range sorted {
		if n := len(deduped); n > 0 && deduped[n-1].Time == c.Time {
			deduped[n-1] = c
			continue
		}
		deduped = append(deduped, c)
	}
	if len(deduped) > s.capacity {
		deduped = deduped[len(deduped)-s.capacity:]
	}

	s.mu.Lock()
	s.candles = append(make([]models.Candle, 0, s.capacity), deduped...)
	s.mu.Unlock()
}

// Get returns an ascending copy of the stored candles.
func (s *Series) Get() []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Closes returns the close prices in ascending time order.
func (s *Series) Closes() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.candles))
	for i, c := range s.candles {
		out[i] = c.Close
	}
	return out
}

// Last returns the newest candle.
func (s *Series) Last() (models.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return models.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Len returns the number of stored candles.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// Capacity returns the configured bound.
func (s *Series) Capacity() int {
	return s.capacity
}

// appendAndResize appends and drops the oldest entries beyond limit.
func appendAndResize(buf []models.Candle, c models.Candle, limit int) []models.Candle {
	buf = append(buf, c)
	if len(buf) > limit {
		// shift in place to keep the backing array bounded
		n := copy(buf, buf[len(buf)-limit:])
		buf = buf[:n]
	}
	return buf
}
