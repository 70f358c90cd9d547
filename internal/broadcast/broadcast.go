// v0
// internal/broadcast/broadcast.go
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"nrgchamp/telemetry/internal/metrics"
	"nrgchamp/telemetry/internal/models"
)

// Broadcaster receives the generator's outbound events. Implementations must
// not block the caller for longer than ctx allows.
type Broadcaster interface {
	PublishReadings(ctx context.Context, readings []models.Reading) error
	PublishStatistics(ctx context.Context, stats models.Statistics) error
	PublishAnomaly(ctx context.Context, alert models.AnomalyAlert) error
}

// Nop discards every event.
type Nop struct{}

// PublishReadings discards the batch.
func (Nop) PublishReadings(context.Context, []models.Reading) error { return nil }

// PublishStatistics discards the snapshot.
func (Nop) PublishStatistics(context.Context, models.Statistics) error { return nil }

// PublishAnomaly discards the alert.
func (Nop) PublishAnomaly(context.Context, models.AnomalyAlert) error { return nil }

type target struct {
	name string
	b    Broadcaster
}

// Fanout forwards each event to every registered target in registration
// order. A failing target is logged and counted; the remaining targets still
// receive the event.
type Fanout struct {
	targets []target
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewFanout returns an empty fan-out; register targets with Add.
func NewFanout(logger *slog.Logger, m *metrics.Metrics) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{log: logger.With(slog.String("component", "broadcast")), metrics: m}
}

// Add registers b under name. Nil broadcasters are ignored.
func (f *Fanout) Add(name string, b Broadcaster) {
	if b == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("target-%d", len(f.targets))
	}
	f.targets = append(f.targets, target{name: name, b: b})
	f.log.Info("broadcast_target_registered", slog.String("target", name))
}

// Targets lists registered target names in delivery order.
func (f *Fanout) Targets() []string {
	out := make([]string, 0, len(f.targets))
	for _, t := range f.targets {
		out = append(out, t.name)
	}
	return out
}

// PublishReadings forwards a batch to every target.
func (f *Fanout) PublishReadings(ctx context.Context, readings []models.Reading) error {
	return f.each("readings", func(b Broadcaster) error { return b.PublishReadings(ctx, readings) })
}

// PublishStatistics forwards a statistics snapshot to every target.
func (f *Fanout) PublishStatistics(ctx context.Context, stats models.Statistics) error {
	return f.each("statistics", func(b Broadcaster) error { return b.PublishStatistics(ctx, stats) })
}

// PublishAnomaly forwards an alert to every target.
func (f *Fanout) PublishAnomaly(ctx context.Context, alert models.AnomalyAlert) error {
	return f.each("anomaly", func(b Broadcaster) error { return b.PublishAnomaly(ctx, alert) })
}

func (f *Fanout) each(event string, fn func(Broadcaster) error) error {
	var errs []error
	for _, t := range f.targets {
		if err := fn(t.b); err != nil {
			f.metrics.SinkPublish(t.name, metrics.ResultError)
			f.log.Warn("broadcast_target_failed",
				slog.String("target", t.name),
				slog.String("event", event),
				slog.Any("err", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		f.metrics.SinkPublish(t.name, metrics.ResultOK)
	}
	return errors.Join(errs...)
}
