// v0
// internal/sink/redis.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"nrgchamp/telemetry/internal/circuitbreaker"
	"nrgchamp/telemetry/internal/models"
)

const (
	redisSinkName       = "redis"
	defaultRedisTimeout = 2 * time.Second
	defaultRedisPrefix  = "telemetry"
)

// RedisConfig describes the Redis pub/sub fan-out.
type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	Timeout       time.Duration
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisSink PUBLISHes JSON frames to <prefix>:readings, <prefix>:statistics
// and <prefix>:anomalies.
type RedisSink struct {
	cfg     RedisConfig
	log     *slog.Logger
	client  redisPublisher
	breaker *circuitbreaker.Breaker
}

// NewRedisSink builds a sink backed by a go-redis client.
func NewRedisSink(cfg RedisConfig, log *slog.Logger, breaker *circuitbreaker.Breaker) (*RedisSink, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return newRedisSinkWithClient(cfg, log, client, breaker)
}

func newRedisSinkWithClient(cfg RedisConfig, log *slog.Logger, client redisPublisher, breaker *circuitbreaker.Breaker) (*RedisSink, error) {
	if log == nil {
		return nil, errSinkNilLogger
	}
	if client == nil {
		return nil, errors.New("redis sink requires a client")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}
	cfg.ChannelPrefix = strings.TrimSpace(cfg.ChannelPrefix)
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = defaultRedisPrefix
	}
	return &RedisSink{
		cfg:     cfg,
		log:     log.With(slog.String("component", "redis_sink")),
		client:  client,
		breaker: breaker,
	}, nil
}

// Name labels the sink in logs and metrics.
func (s *RedisSink) Name() string { return redisSinkName }

// Start pings the server. A failed ping is logged but not fatal; publishes
// go through the breaker and recover once the server is reachable.
func (s *RedisSink) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		s.log.Warn("redis_sink_ping_failed", slog.String("addr", s.cfg.Addr), slog.Any("err", err))
		return nil
	}
	s.log.Info("redis_sink_connected", slog.String("addr", s.cfg.Addr), slog.String("prefix", s.cfg.ChannelPrefix))
	return nil
}

// Stop closes the client.
func (s *RedisSink) Stop(context.Context) error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	s.log.Info("redis_sink_stopped")
	return nil
}

func (s *RedisSink) channel(stream string) string {
	return s.cfg.ChannelPrefix + ":" + stream
}

func (s *RedisSink) publish(ctx context.Context, stream string, payload any) error {
	body, err := encode(stream, payload)
	if err != nil {
		return err
	}
	return guard(ctx, s.breaker, func(ctx context.Context) error {
		pubCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		return s.client.Publish(pubCtx, s.channel(stream), body).Err()
	})
}

// PublishReadings publishes the batch as one frame.
func (s *RedisSink) PublishReadings(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	return s.publish(ctx, StreamReadings, readings)
}

// PublishStatistics publishes the snapshot.
func (s *RedisSink) PublishStatistics(ctx context.Context, stats models.Statistics) error {
	return s.publish(ctx, StreamStatistics, stats)
}

// PublishAnomaly publishes the alert.
func (s *RedisSink) PublishAnomaly(ctx context.Context, alert models.AnomalyAlert) error {
	return s.publish(ctx, StreamAnomalies, alert)
}
