// v0
// internal/simulator/generator.go
package simulator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"nrgchamp/telemetry/internal/broadcast"
	"nrgchamp/telemetry/internal/metrics"
	"nrgchamp/telemetry/internal/models"
)

const (
	DefaultReadingsPerCycle = 1000
	DefaultPeriod           = time.Second
	DefaultAnomalyLogRate   = 5.0

	initialBase = 50.0
	baseFloor   = 30.0
	baseCeiling = 70.0
	walkStep    = 1.0
	noiseSpan   = 2.0
	spikeChance = 0.001
	spikeSpan   = 20.0
	valuePlaces = 2
)

// ReadingStore is the subset of the telemetry store driven by the generator.
type ReadingStore interface {
	AddReading(r models.Reading)
	CheckForAnomaly(r models.Reading) (models.AnomalyAlert, bool)
	GetStatistics() models.Statistics
}

// Config tunes the synthetic feed.
type Config struct {
	SensorID         string
	ReadingsPerCycle int
	Period           time.Duration
	// Seed makes the value sequence reproducible; zero picks a random seed.
	Seed uint64
	// AnomalyLogRate caps anomaly log lines per second. Alerts are always forwarded.
	AnomalyLogRate float64
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.SensorID) == "" {
		c.SensorID = models.DefaultSensorID
	}
	if c.ReadingsPerCycle <= 0 {
		c.ReadingsPerCycle = DefaultReadingsPerCycle
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.AnomalyLogRate <= 0 {
		c.AnomalyLogRate = DefaultAnomalyLogRate
	}
	return c
}

// Generator produces a bounded random walk with noise and rare spikes, feeds
// it into the store and forwards batches, statistics and alerts.
type Generator struct {
	cfg     Config
	store   ReadingStore
	out     broadcast.Broadcaster
	log     *slog.Logger
	metrics *metrics.Metrics
	rng     *rand.Rand
	base    float64
	now     func() time.Time

	anomalyLog *rate.Limiter
	suppressed int
}

// New builds a generator feeding store and out. A nil out discards events.
func New(cfg Config, store ReadingStore, out broadcast.Broadcaster, logger *slog.Logger, m *metrics.Metrics) (*Generator, error) {
	if store == nil {
		return nil, errors.New("generator store must not be nil")
	}
	if out == nil {
		out = broadcast.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Generator{
		cfg:        cfg,
		store:      store,
		out:        out,
		log:        logger,
		metrics:    m,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		base:       initialBase,
		now:        func() time.Time { return time.Now().UTC() },
		anomalyLog: rate.NewLimiter(rate.Limit(cfg.AnomalyLogRate), int(cfg.AnomalyLogRate)+1),
	}, nil
}

// Next advances the walk by one tick and returns the resulting reading.
func (g *Generator) Next() models.Reading {
	g.base += (g.rng.Float64() - 0.5) * 2 * walkStep
	g.base = min(max(g.base, baseFloor), baseCeiling)

	noise := g.rng.Float64()*2*noiseSpan - noiseSpan
	if g.rng.Float64() < spikeChance {
		noise += (g.rng.Float64() - 0.5) * 2 * spikeSpan
	}

	return models.Reading{
		Timestamp: g.now(),
		Value:     roundValue(g.base + noise),
		SensorID:  g.cfg.SensorID,
	}
}

// roundValue rounds the shortest decimal form of v half to even at two
// places. 2.675 is treated as the decimal 2.675 and becomes 2.68, unlike
// binary rounding, which sees 2.67499... and gives 2.67.
func roundValue(v float64) float64 {
	return decimal.NewFromFloat(v).RoundBank(valuePlaces).InexactFloat64()
}

// RunCycle produces one batch. Each reading is stored and classified before
// the next one is generated; alerts go out immediately. The batch and a fresh
// statistics snapshot are forwarded only once the whole cycle has completed,
// so a cancelled cycle returns ctx.Err() with its readings stored but unsent.
func (g *Generator) RunCycle(ctx context.Context) error {
	batch := make([]models.Reading, 0, g.cfg.ReadingsPerCycle)
	for i := 0; i < g.cfg.ReadingsPerCycle; i++ {
		if err := ctx.Err(); err != nil {
			g.metrics.ReadingsGenerated(len(batch))
			return err
		}
		r := g.Next()
		g.store.AddReading(r)
		batch = append(batch, r)

		if alert, ok := g.store.CheckForAnomaly(r); ok {
			g.reportAnomaly(ctx, alert)
		}
	}
	g.metrics.ReadingsGenerated(len(batch))

	if err := g.out.PublishReadings(ctx, batch); err != nil {
		g.log.Debug("generator_batch_publish_err", slog.Any("err", err))
	}
	stats := g.store.GetStatistics()
	g.metrics.SetLiveReadings(stats.Count)
	if err := g.out.PublishStatistics(ctx, stats); err != nil {
		g.log.Debug("generator_stats_publish_err", slog.Any("err", err))
	}
	return nil
}

func (g *Generator) reportAnomaly(ctx context.Context, alert models.AnomalyAlert) {
	g.metrics.Anomaly(string(alert.Severity))
	if g.anomalyLog.Allow() {
		g.log.Warn("anomaly_detected",
			slog.String("severity", string(alert.Severity)),
			slog.Float64("value", alert.Value),
			slog.String("message", alert.Message),
			slog.Int("suppressed", g.suppressed),
		)
		g.suppressed = 0
	} else {
		g.suppressed++
	}
	if err := g.out.PublishAnomaly(ctx, alert); err != nil {
		g.log.Debug("generator_anomaly_publish_err", slog.Any("err", err))
	}
}

// Run repeats cycles until ctx is cancelled. After each cycle it sleeps for
// whatever remains of the period; an overrun cycle is followed immediately by
// the next one and missed ticks are not made up.
func (g *Generator) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	g.log.Info("generator_started",
		slog.String("sensor_id", g.cfg.SensorID),
		slog.Int("readings_per_cycle", g.cfg.ReadingsPerCycle),
		slog.String("period", g.cfg.Period.String()),
	)

	timer := time.NewTimer(g.cfg.Period)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			g.log.Info("generator_stopped")
			return nil
		}

		start := time.Now()
		if err := g.RunCycle(ctx); err != nil {
			g.log.Info("generator_stopped", slog.String("reason", "cycle_interrupted"))
			return nil
		}
		elapsed := time.Since(start)
		g.metrics.ObserveCycle(elapsed, g.cfg.Period)
		g.log.Debug("generator_cycle_complete", slog.Duration("elapsed", elapsed))

		delay := g.cfg.Period - elapsed
		if delay <= 0 {
			g.log.Debug("generator_cycle_overrun", slog.Duration("elapsed", elapsed))
			continue
		}
		timer.Reset(delay)
		select {
		case <-ctx.Done():
			g.log.Info("generator_stopped")
			return nil
		case <-timer.C:
		}
	}
}
