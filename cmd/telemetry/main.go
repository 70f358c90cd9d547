// v0
// cmd/telemetry/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"nrgchamp/telemetry/internal/app"
	"nrgchamp/telemetry/internal/config"
)

func main() {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("config_load_failed", slog.Any("err", err))
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		bootstrap.Error("app_init_failed", slog.Any("err", err))
		os.Exit(1)
	}

	logger := application.Logger()
	logger.Info("service_boot",
		slog.String("listen_address", cfg.ListenAddress),
		slog.String("log_path", cfg.LogFilePath),
		slog.String("config_path", cfg.ConfigPath),
		slog.String("sensor_id", cfg.SensorID),
		slog.Int("readings_per_cycle", cfg.ReadingsPerCycle),
		slog.String("cycle_period", cfg.CyclePeriod.String()),
		slog.String("retention", cfg.Retention.String()),
		slog.Bool("kafka_enabled", cfg.Kafka.Enabled),
		slog.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		slog.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := application.Run(ctx)
	stop()

	if runErr != nil {
		logger.Error("service_terminated", slog.Any("err", runErr))
	} else {
		logger.Info("service_stopped")
	}
	if err := application.Close(); err != nil {
		bootstrap.Error("app_close_failed", slog.Any("err", err))
	}
	if runErr != nil {
		os.Exit(1)
	}
}
