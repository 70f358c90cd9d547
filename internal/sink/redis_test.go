// v0
// internal/sink/redis_test.go
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"nrgchamp/telemetry/internal/circuitbreaker"
	"nrgchamp/telemetry/internal/models"
)

type fakeRedis struct {
	channels []string
	payloads [][]byte
	err      error
	pingErr  error
	closed   bool
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisSinkPublishesToChannels(t *testing.T) {
	client := &fakeRedis{}
	s, err := newRedisSinkWithClient(RedisConfig{ChannelPrefix: "dash"}, discardLogger(), client, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	alert := models.AnomalyAlert{Timestamp: baseTime, Value: 12.5, Message: "m", Severity: models.SeverityCritical}
	require.NoError(t, s.PublishReadings(ctx, []models.Reading{{Timestamp: baseTime, Value: 3}}))
	require.NoError(t, s.PublishStatistics(ctx, models.Statistics{}))
	require.NoError(t, s.PublishAnomaly(ctx, alert))

	require.Equal(t, []string{"dash:readings", "dash:statistics", "dash:anomalies"}, client.channels)

	var frame struct {
		Type string              `json:"type"`
		Data models.AnomalyAlert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(client.payloads[2], &frame))
	require.Equal(t, StreamAnomalies, frame.Type)
	require.Equal(t, alert, frame.Data)

	require.NoError(t, s.Stop(ctx))
	require.True(t, client.closed)
}

func TestRedisSinkDefaultsAndValidation(t *testing.T) {
	_, err := NewRedisSink(RedisConfig{Addr: " "}, discardLogger(), nil)
	require.Error(t, err)

	_, err = newRedisSinkWithClient(RedisConfig{}, nil, &fakeRedis{}, nil)
	require.ErrorIs(t, err, errSinkNilLogger)

	s, err := newRedisSinkWithClient(RedisConfig{}, discardLogger(), &fakeRedis{}, nil)
	require.NoError(t, err)
	require.Equal(t, "telemetry:statistics", s.channel(StreamStatistics))
	require.Equal(t, defaultRedisTimeout, s.cfg.Timeout)
	require.Equal(t, "redis", s.Name())
}

func TestRedisSinkPingFailureIsNotFatal(t *testing.T) {
	s, err := newRedisSinkWithClient(RedisConfig{}, discardLogger(), &fakeRedis{pingErr: errors.New("dial tcp: refused")}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
}

func TestRedisSinkBreakerFastFails(t *testing.T) {
	client := &fakeRedis{err: errors.New("connection reset")}
	breaker := circuitbreaker.New("redis", circuitbreaker.Config{MaxFailures: 1, ResetTimeout: time.Hour}, discardLogger(), nil)
	s, err := newRedisSinkWithClient(RedisConfig{}, discardLogger(), client, breaker)
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorContains(t, s.PublishStatistics(ctx, models.Statistics{}), "connection reset")
	require.ErrorIs(t, s.PublishStatistics(ctx, models.Statistics{}), circuitbreaker.ErrOpen)
}
