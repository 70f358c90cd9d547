// v0
// internal/retention/sweeper_test.go
package retention

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nrgchamp/telemetry/internal/models"
	"nrgchamp/telemetry/internal/telemetry"
)

type countingPurger struct {
	mu     sync.Mutex
	calls  int
	maxAge time.Duration
}

func (p *countingPurger) PurgeOldData(maxAge time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.maxAge = maxAge
	return 0
}

func (p *countingPurger) snapshot() (int, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, p.maxAge
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSweeperDefaults(t *testing.T) {
	_, err := NewSweeper(nil, 0, 0, discardLogger(), nil)
	require.Error(t, err)

	s, err := NewSweeper(&countingPurger{}, 0, -1, discardLogger(), nil)
	require.NoError(t, err)
	require.Equal(t, DefaultInterval, s.interval)
	require.Equal(t, DefaultRetention, s.retention)
}

func TestSweepPurgesStore(t *testing.T) {
	now := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	store := telemetry.NewStore(10, telemetry.WithClock(func() time.Time { return now }))
	store.AddReading(models.Reading{Timestamp: now.Add(-25 * time.Hour), Value: 1})
	store.AddReading(models.Reading{Timestamp: now.Add(-time.Hour), Value: 2})

	s, err := NewSweeper(store, time.Minute, 24*time.Hour, discardLogger(), nil)
	require.NoError(t, err)

	require.Equal(t, 1, s.Sweep())
	require.Equal(t, 1, store.GetStatistics().Count)
	require.Zero(t, s.Sweep())
}

func TestRunWaitsOneIntervalAndStops(t *testing.T) {
	p := &countingPurger{}
	s, err := NewSweeper(p, 20*time.Millisecond, time.Hour, discardLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	calls, _ := p.snapshot()
	require.Zero(t, calls)

	require.Eventually(t, func() bool {
		calls, _ := p.snapshot()
		return calls >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}

	_, maxAge := p.snapshot()
	require.Equal(t, time.Hour, maxAge)
}
