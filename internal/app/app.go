// v0
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"nrgchamp/telemetry/internal/broadcast"
	"nrgchamp/telemetry/internal/circuitbreaker"
	"nrgchamp/telemetry/internal/config"
	httpserver "nrgchamp/telemetry/internal/http"
	"nrgchamp/telemetry/internal/hub"
	"nrgchamp/telemetry/internal/metrics"
	"nrgchamp/telemetry/internal/retention"
	"nrgchamp/telemetry/internal/simulator"
	"nrgchamp/telemetry/internal/sink"
	"nrgchamp/telemetry/internal/telemetry"
)

// Application owns every long-running part of the telemetry service: the
// generator, the retention sweeper, the push hub, the optional sinks and
// the HTTP server.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	logFile   *os.File
	metrics   *metrics.Metrics
	store     *telemetry.Store
	hub       *hub.Hub
	sinks     []sink.Sink
	generator *simulator.Generator
	sweeper   *retention.Sweeper
	server    *http.Server
	health    *httpserver.HealthState
	addr      atomic.Value
}

// New wires a service instance from cfg. Nothing runs until Run is called.
func New(cfg config.Config) (*Application, error) {
	return newApplication(cfg, os.Stdout)
}

func newApplication(cfg config.Config, console io.Writer) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var lf *os.File
	if strings.TrimSpace(cfg.LogFilePath) != "" {
		logPath := filepath.Clean(cfg.LogFilePath)
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		lf = f
	}
	var fileOut io.Writer
	if lf != nil {
		fileOut = lf
	}
	logger := newLogger(console, fileOut, parseLevel(cfg.LogLevel))

	a := &Application{
		cfg:     cfg,
		logger:  logger,
		logFile: lf,
		metrics: metrics.New(),
		store:   telemetry.NewStore(cfg.BufferCapacity),
		health:  httpserver.NewHealthState(),
	}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) wire() error {
	h, err := hub.New(a.store, hub.Config{
		CatchUp:        a.cfg.CatchUpSize,
		QueueSize:      a.cfg.HubQueueSize,
		WriteTimeout:   a.cfg.HubWriteTimeout,
		AllowedOrigins: a.cfg.CORSOrigins,
	}, a.logger, a.metrics)
	if err != nil {
		return fmt.Errorf("hub init: %w", err)
	}
	a.hub = h

	sinks, err := buildSinks(a.cfg, a.logger, a.metrics)
	if err != nil {
		return err
	}
	a.sinks = sinks

	fanout := broadcast.NewFanout(a.logger, a.metrics)
	fanout.Add("hub", a.hub)
	for _, s := range a.sinks {
		fanout.Add(s.Name(), s)
	}
	a.logger.Info("broadcast_targets", slog.Any("targets", fanout.Targets()))

	gen, err := simulator.New(simulator.Config{
		SensorID:         a.cfg.SensorID,
		ReadingsPerCycle: a.cfg.ReadingsPerCycle,
		Period:           a.cfg.CyclePeriod,
		Seed:             a.cfg.Seed,
		AnomalyLogRate:   a.cfg.AnomalyLogRate,
	}, a.store, fanout, a.logger.With(slog.String("component", "generator")), a.metrics)
	if err != nil {
		return fmt.Errorf("generator init: %w", err)
	}
	a.generator = gen

	sweeper, err := retention.NewSweeper(a.store, a.cfg.PurgeInterval, a.cfg.Retention,
		a.logger.With(slog.String("component", "retention")), a.metrics)
	if err != nil {
		return fmt.Errorf("sweeper init: %w", err)
	}
	a.sweeper = sweeper

	handler, err := httpserver.NewHandler(httpserver.Options{
		Logger:      a.logger.With(slog.String("component", "http")),
		Health:      a.health,
		Data:        a.store,
		Hub:         a.hub,
		Metrics:     a.metrics,
		RecentLimit: a.cfg.CatchUpSize,
		CORSOrigins: a.cfg.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("router init: %w", err)
	}
	a.server = &http.Server{
		Addr:              a.cfg.ListenAddress,
		Handler:           handler,
		ReadTimeout:       a.cfg.HTTPReadTimeout,
		ReadHeaderTimeout: a.cfg.HTTPReadTimeout,
		WriteTimeout:      a.cfg.HTTPWriteTimeout,
	}
	return nil
}

// buildSinks creates every enabled sink, each behind its own breaker.
func buildSinks(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) ([]sink.Sink, error) {
	observer := func(name string, _, to circuitbreaker.State) {
		m.SetCircuitBreakerState(name, float64(to))
	}
	breaker := func(name string) *circuitbreaker.Breaker {
		return circuitbreaker.New(name, cfg.Breaker, logger.With(slog.String("component", "breaker")), observer)
	}

	var sinks []sink.Sink
	if cfg.Kafka.Enabled {
		s, err := sink.NewKafkaSink(cfg.Kafka, logger, m, breaker("kafka"))
		if err != nil {
			return nil, fmt.Errorf("kafka sink init: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.MQTT.Enabled {
		s, err := sink.NewMQTTSink(cfg.MQTT, logger, breaker("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("mqtt sink init: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Redis.Enabled {
		s, err := sink.NewRedisSink(cfg.Redis, logger, breaker("redis"))
		if err != nil {
			return nil, fmt.Errorf("redis sink init: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// Logger exposes the configured logger to main.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Addr reports the bound HTTP address once Run is listening.
func (a *Application) Addr() string {
	if v, ok := a.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Run blocks until ctx is cancelled or a component fails, then shuts
// everything down: HTTP first, then the hub, the loops and finally the sinks
// so queued messages can drain.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", a.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.ListenAddress, err)
	}
	a.addr.Store(ln.Addr().String())

	// sinks outlive ctx so the generator's final cycle can still be delivered
	sinkCtx := context.WithoutCancel(ctx)
	started := make([]sink.Sink, 0, len(a.sinks))
	for _, s := range a.sinks {
		if err := s.Start(sinkCtx); err != nil {
			_ = ln.Close()
			a.stopSinks(started)
			return fmt.Errorf("start %s sink: %w", s.Name(), err)
		}
		started = append(started, s)
	}

	httpCh := make(chan error, 1)
	go func() {
		a.logger.Info("http_server_listen", slog.String("address", ln.Addr().String()))
		httpCh <- a.server.Serve(ln)
	}()
	genCh := make(chan error, 1)
	go func() {
		genCh <- a.generator.Run(ctx)
	}()
	sweepCh := make(chan error, 1)
	go func() {
		sweepCh <- a.sweeper.Run(ctx)
	}()
	a.health.SetReady(true)

	var runErr error
	for {
		select {
		case err := <-httpCh:
			httpCh = nil
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http_server_error", slog.Any("err", err))
				runErr = err
			} else {
				a.logger.Info("server_closed")
			}
			cancel()
		case err := <-genCh:
			genCh = nil
			if err != nil {
				a.logger.Error("generator_error", slog.Any("err", err))
				runErr = err
			}
			cancel()
		case err := <-sweepCh:
			sweepCh = nil
			if err != nil {
				a.logger.Error("retention_error", slog.Any("err", err))
				runErr = err
			}
			cancel()
		case <-ctx.Done():
			a.logger.Info("shutdown_signal")
			a.health.SetReady(false)
			if err := a.shutdown(httpCh, genCh, sweepCh); err != nil && runErr == nil {
				runErr = err
			}
			if runErr != nil {
				return runErr
			}
			a.logger.Info("shutdown_complete")
			return nil
		}
	}
}

func (a *Application) shutdown(httpCh, genCh, sweepCh <-chan error) error {
	var errs []error

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server_shutdown_failed", slog.Any("err", err))
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	if httpCh != nil {
		if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	_ = a.hub.Close()

	if genCh != nil {
		if err := <-genCh; err != nil {
			errs = append(errs, err)
		}
	}
	if sweepCh != nil {
		if err := <-sweepCh; err != nil {
			errs = append(errs, err)
		}
	}
	a.stopSinks(a.sinks)
	return errors.Join(errs...)
}

func (a *Application) stopSinks(sinks []sink.Sink) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	for _, s := range sinks {
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("sink_stop_failed", slog.String("sink", s.Name()), slog.Any("err", err))
		}
	}
}

// Close releases the log file.
func (a *Application) Close() error {
	if a.logFile == nil {
		return nil
	}
	if err := a.logFile.Close(); err != nil {
		return err
	}
	a.logFile = nil
	return nil
}
