// v0
// internal/telemetry/store.go
package telemetry

import (
	"math"
	"sync"
	"time"

	"nrgchamp/telemetry/internal/models"
)

// DefaultCapacity is the number of readings retained when no capacity is configured.
const DefaultCapacity = 100_000

// Store keeps a fixed-capacity ring of readings together with running
// aggregates. Every exported method takes the same mutex, so readers never
// observe a half-updated aggregate.
type Store struct {
	mu sync.Mutex

	buf      []models.Reading
	writeIdx int
	count    int

	sum   float64
	sumSq float64
	min   float64
	max   float64

	stats models.Statistics
	now   func() time.Time
}

// Option customises a Store at construction time.
type Option func(*Store)

// WithClock replaces the wall clock used for purge cutoffs and lastUpdate stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore allocates the ring. A non-positive capacity falls back to DefaultCapacity.
func NewStore(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		buf: make([]models.Reading, capacity),
		min: math.Inf(1),
		max: math.Inf(-1),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.refresh()
	return s
}

// Capacity reports the size of the ring.
func (s *Store) Capacity() int {
	return len(s.buf)
}

// Len reports the number of live readings.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// AddReading inserts r at the write position, evicting the oldest reading
// when the ring is full.
func (s *Store) AddReading(r models.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.count == len(s.buf)
	var evicted models.Reading
	if full {
		evicted = s.buf[s.writeIdx]
	}

	s.buf[s.writeIdx] = r
	s.writeIdx = (s.writeIdx + 1) % len(s.buf)
	if !full {
		s.count++
	}

	if full {
		s.sum -= evicted.Value
		s.sumSq -= evicted.Value * evicted.Value
	}
	s.sum += r.Value
	s.sumSq += r.Value * r.Value

	if r.Value < s.min {
		s.min = r.Value
	}
	if r.Value > s.max {
		s.max = r.Value
	}
	// The evicted reading may have been the only holder of an extremum.
	if full && (evicted.Value == s.min || evicted.Value == s.max) {
		s.rescanExtrema()
	}

	s.refresh()
}

// GetRecentReadings returns up to limit of the newest live readings, oldest first.
// The result is a copy; it is never nil.
func (s *Store) GetRecentReadings(limit int) []models.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit > s.count {
		limit = s.count
	}
	if limit <= 0 {
		return []models.Reading{}
	}

	out := make([]models.Reading, limit)
	start := (s.writeIdx - limit + len(s.buf)) % len(s.buf)
	for i := 0; i < limit; i++ {
		out[i] = s.buf[(start+i)%len(s.buf)]
	}
	return out
}

// GetStatistics returns the snapshot computed by the last mutation.
func (s *Store) GetStatistics() models.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// PurgeOldData drops readings older than now-maxAge from the oldest end of
// the ring and returns how many were removed. Readings are time ordered by
// insertion, so the scan stops at the first reading inside the horizon.
func (s *Store) PurgeOldData(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	purged := 0
	for s.count > 0 {
		idx := s.oldestIndex()
		oldest := s.buf[idx]
		if !oldest.Timestamp.Before(cutoff) {
			break
		}
		s.sum -= oldest.Value
		s.sumSq -= oldest.Value * oldest.Value
		s.buf[idx] = models.Reading{}
		s.count--
		purged++
	}
	if purged == 0 {
		return 0
	}
	if s.count == 0 {
		// drop accumulated rounding residue
		s.sum, s.sumSq = 0, 0
	}
	s.rescanExtrema()
	s.refresh()
	return purged
}

func (s *Store) oldestIndex() int {
	return (s.writeIdx - s.count + len(s.buf)) % len(s.buf)
}

// rescanExtrema walks the live range; callers hold mu.
func (s *Store) rescanExtrema() {
	s.min = math.Inf(1)
	s.max = math.Inf(-1)
	start := s.oldestIndex()
	for i := 0; i < s.count; i++ {
		v := s.buf[(start+i)%len(s.buf)].Value
		if v < s.min {
			s.min = v
		}
		if v > s.max {
			s.max = v
		}
	}
}

// refresh recomputes the public snapshot; callers hold mu.
func (s *Store) refresh() {
	s.stats.Count = s.count
	s.stats.LastUpdate = s.now()

	if s.count == 0 {
		s.stats.Min = 0
		s.stats.Max = 0
		s.stats.Average = 0
		s.stats.StdDev = 0
		return
	}

	n := float64(s.count)
	avg := s.sum / n
	s.stats.Min = s.min
	s.stats.Max = s.max
	s.stats.Average = avg
	if s.count > 1 {
		variance := s.sumSq/n - avg*avg
		s.stats.StdDev = math.Sqrt(math.Max(0, variance))
	} else {
		s.stats.StdDev = 0
	}
}
