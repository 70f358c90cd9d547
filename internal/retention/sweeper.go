// v0
// internal/retention/sweeper.go
package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nrgchamp/telemetry/internal/metrics"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultRetention = 24 * time.Hour
)

// Purger is the part of the reading store the sweeper needs.
type Purger interface {
	PurgeOldData(maxAge time.Duration) int
}

// Counter is optionally implemented by stores that can report their size.
type Counter interface {
	Len() int
}

// Sweeper periodically drops readings older than the retention horizon.
type Sweeper struct {
	store     Purger
	interval  time.Duration
	retention time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewSweeper validates store and applies the default interval and retention.
func NewSweeper(store Purger, interval, retention time.Duration, logger *slog.Logger, m *metrics.Metrics) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("retention store must not be nil")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, retention: retention, log: logger, metrics: m}, nil
}

// Sweep runs a single purge and returns the number of readings removed.
func (s *Sweeper) Sweep() int {
	purged := s.store.PurgeOldData(s.retention)
	s.metrics.Purged(purged)
	if c, ok := s.store.(Counter); ok {
		s.metrics.SetLiveReadings(c.Len())
	}
	if purged > 0 {
		s.log.Info("retention_purge", slog.Int("purged", purged), slog.Duration("retention", s.retention))
	} else {
		s.log.Debug("retention_purge_noop", slog.Duration("retention", s.retention))
	}
	return purged
}

// Run purges once per interval until ctx is cancelled. The first purge happens
// one interval after start.
func (s *Sweeper) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}

	s.log.Info("retention_loop_started",
		slog.String("interval", s.interval.String()),
		slog.String("retention", s.retention.String()),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("retention_loop_stopped")
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}
