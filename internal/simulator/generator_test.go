// v0
// internal/simulator/generator_test.go
package simulator

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nrgchamp/telemetry/internal/models"
	"nrgchamp/telemetry/internal/telemetry"
)

type event struct {
	kind     string
	readings []models.Reading
	stats    models.Statistics
	alert    models.AnomalyAlert
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingBroadcaster) PublishReadings(_ context.Context, rs []models.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "readings", readings: rs})
	return nil
}

func (r *recordingBroadcaster) PublishStatistics(_ context.Context, s models.Statistics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "statistics", stats: s})
	return nil
}

func (r *recordingBroadcaster) PublishAnomaly(_ context.Context, a models.AnomalyAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "anomaly", alert: a})
	return nil
}

func (r *recordingBroadcaster) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

// flaggingStore wraps a real store and flags every nth reading as anomalous.
type flaggingStore struct {
	*telemetry.Store
	every int
	seen  int
}

func (f *flaggingStore) CheckForAnomaly(r models.Reading) (models.AnomalyAlert, bool) {
	f.seen++
	if f.seen%f.every != 0 {
		return models.AnomalyAlert{}, false
	}
	return models.AnomalyAlert{Timestamp: r.Timestamp, Value: r.Value, Severity: models.SeverityWarning}, true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGenerator(t *testing.T, cfg Config, store ReadingStore, out *recordingBroadcaster) *Generator {
	t.Helper()
	g, err := New(cfg, store, out, discardLogger(), nil)
	require.NoError(t, err)
	return g
}

func TestNewAppliesDefaults(t *testing.T) {
	_, err := New(Config{}, nil, nil, discardLogger(), nil)
	require.Error(t, err)

	g, err := New(Config{SensorID: " "}, telemetry.NewStore(10), nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DefaultSensorID, g.cfg.SensorID)
	require.Equal(t, DefaultReadingsPerCycle, g.cfg.ReadingsPerCycle)
	require.Equal(t, DefaultPeriod, g.cfg.Period)
	require.Equal(t, initialBase, g.base)
}

func TestNextStaysWithinBounds(t *testing.T) {
	g := newTestGenerator(t, Config{Seed: 7}, telemetry.NewStore(10), &recordingBroadcaster{})

	for i := 0; i < 50_000; i++ {
		r := g.Next()
		require.GreaterOrEqual(t, g.base, baseFloor)
		require.LessOrEqual(t, g.base, baseCeiling)
		require.GreaterOrEqual(t, r.Value, baseFloor-noiseSpan-spikeSpan)
		require.LessOrEqual(t, r.Value, baseCeiling+noiseSpan+spikeSpan)
		require.Equal(t, models.DefaultSensorID, r.SensorID)

		cents := r.Value * 100
		require.InDelta(t, math.Round(cents), cents, 1e-6, "value %v has more than two decimals", r.Value)
	}
}

func TestSeedMakesSequenceReproducible(t *testing.T) {
	a := newTestGenerator(t, Config{Seed: 42}, telemetry.NewStore(10), &recordingBroadcaster{})
	b := newTestGenerator(t, Config{Seed: 42}, telemetry.NewStore(10), &recordingBroadcaster{})

	for i := 0; i < 1000; i++ {
		require.Equal(t, a.Next().Value, b.Next().Value)
	}
}

func TestRoundValueRoundsDecimalFormHalfToEven(t *testing.T) {
	cases := map[float64]float64{
		1.005:  1.00, // tie, down to even
		1.015:  1.02, // tie, up to even; binary rounding would give 1.01
		2.675:  2.68, // binary rounding would give 2.67
		-3.125: -3.12,
		49.999: 50.00,
		12.3:   12.30,
	}
	for in, want := range cases {
		require.Equal(t, want, roundValue(in), "round(%v)", in)
	}
}

func TestRunCycleForwardsBatchAfterAlerts(t *testing.T) {
	store := &flaggingStore{Store: telemetry.NewStore(1000), every: 10}
	out := &recordingBroadcaster{}
	g := newTestGenerator(t, Config{Seed: 1, ReadingsPerCycle: 50}, store, out)

	require.NoError(t, g.RunCycle(context.Background()))

	events := out.snapshot()
	require.Len(t, events, 5+2)
	for _, ev := range events[:5] {
		require.Equal(t, "anomaly", ev.kind)
	}
	require.Equal(t, "readings", events[5].kind)
	require.Equal(t, "statistics", events[6].kind)

	batch := events[5].readings
	require.Len(t, batch, 50)
	require.Equal(t, batch, store.GetRecentReadings(50))
	for i := 1; i < len(batch); i++ {
		require.False(t, batch[i].Timestamp.Before(batch[i-1].Timestamp))
	}
	require.Equal(t, 50, events[6].stats.Count)
	require.Equal(t, batch[9].Value, events[0].alert.Value)
}

func TestRunCycleCancelledDoesNotForwardPartialBatch(t *testing.T) {
	store := telemetry.NewStore(1000)
	out := &recordingBroadcaster{}
	g := newTestGenerator(t, Config{Seed: 3, ReadingsPerCycle: 100}, store, out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, g.RunCycle(ctx), context.Canceled)
	require.Empty(t, out.snapshot())
	require.Zero(t, store.GetStatistics().Count)
}

func TestRunPacesCyclesAndStops(t *testing.T) {
	store := telemetry.NewStore(10_000)
	out := &recordingBroadcaster{}
	g := newTestGenerator(t, Config{Seed: 9, ReadingsPerCycle: 20, Period: 40 * time.Millisecond}, store, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool {
		batches := 0
		for _, ev := range out.snapshot() {
			if ev.kind == "readings" {
				batches++
			}
		}
		return batches >= 3
	}, 3*time.Second, 5*time.Millisecond)
	// three cycles need at least two full sleeps in between
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("generator did not stop")
	}

	for _, ev := range out.snapshot() {
		if ev.kind == "readings" {
			require.Len(t, ev.readings, 20)
		}
	}
}
