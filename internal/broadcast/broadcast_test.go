// v0
// internal/broadcast/broadcast_test.go
package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nrgchamp/telemetry/internal/models"
)

type recorder struct {
	name   string
	log    *[]string
	failOn string
}

func (r recorder) record(event string) error {
	*r.log = append(*r.log, r.name+":"+event)
	if r.failOn == event {
		return errors.New("boom")
	}
	return nil
}

func (r recorder) PublishReadings(context.Context, []models.Reading) error {
	return r.record("readings")
}

func (r recorder) PublishStatistics(context.Context, models.Statistics) error {
	return r.record("statistics")
}

func (r recorder) PublishAnomaly(context.Context, models.AnomalyAlert) error {
	return r.record("anomaly")
}

func newTestFanout() *Fanout {
	return NewFanout(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestFanoutDeliversInOrder(t *testing.T) {
	var calls []string
	f := newTestFanout()
	f.Add("hub", recorder{name: "hub", log: &calls})
	f.Add("kafka", recorder{name: "kafka", log: &calls})
	f.Add("ignored", nil)

	ctx := context.Background()
	require.NoError(t, f.PublishAnomaly(ctx, models.AnomalyAlert{Severity: models.SeverityWarning}))
	require.NoError(t, f.PublishReadings(ctx, []models.Reading{{Value: 1, Timestamp: time.Now()}}))
	require.NoError(t, f.PublishStatistics(ctx, models.Statistics{}))

	require.Equal(t, []string{"hub", "kafka"}, f.Targets())
	require.Equal(t, []string{
		"hub:anomaly", "kafka:anomaly",
		"hub:readings", "kafka:readings",
		"hub:statistics", "kafka:statistics",
	}, calls)
}

func TestFanoutContinuesPastFailure(t *testing.T) {
	var calls []string
	f := newTestFanout()
	f.Add("mqtt", recorder{name: "mqtt", log: &calls, failOn: "readings"})
	f.Add("redis", recorder{name: "redis", log: &calls})

	err := f.PublishReadings(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "mqtt: boom")
	require.Equal(t, []string{"mqtt:readings", "redis:readings"}, calls)
}

func TestFanoutNamesUnnamedTargets(t *testing.T) {
	var calls []string
	f := newTestFanout()
	f.Add("  ", recorder{name: "x", log: &calls})
	require.Equal(t, []string{"target-0"}, f.Targets())
}

func TestNopAcceptsEverything(t *testing.T) {
	var b Broadcaster = Nop{}
	require.NoError(t, b.PublishReadings(context.Background(), nil))
	require.NoError(t, b.PublishStatistics(context.Background(), models.Statistics{}))
	require.NoError(t, b.PublishAnomaly(context.Background(), models.AnomalyAlert{}))
}
