// v0
// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nrgchamp/telemetry/internal/sink"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("TELEMETRY_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.properties"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8000", cfg.ListenAddress)
	require.Equal(t, 100_000, cfg.BufferCapacity)
	require.Equal(t, 24*time.Hour, cfg.Retention)
	require.Equal(t, 5*time.Minute, cfg.PurgeInterval)
	require.Equal(t, 1000, cfg.ReadingsPerCycle)
	require.Equal(t, time.Second, cfg.CyclePeriod)
	require.Equal(t, 1000, cfg.CatchUpSize)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
	require.False(t, cfg.Kafka.Enabled)
	require.False(t, cfg.MQTT.Enabled)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoadLayersPropertiesThenEnv(t *testing.T) {
	path := writeFile(t, "telemetry.properties", `
# comment
listen_address = :9000
retention = PT12H
purge_interval = 60
cycle_period = 500ms
kafka.enabled = true
kafka.brokers = a:9092, b:9092
kafka-compression = LZ4
mqtt_qos = 1
`)
	t.Setenv("TELEMETRY_CONFIG_PATH", path)
	t.Setenv("TELEMETRY_LISTEN_ADDRESS", ":9100")
	t.Setenv("TELEMETRY_CORS_ORIGINS", "http://a.local, http://b.local")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, path, cfg.ConfigPath)
	require.Equal(t, ":9100", cfg.ListenAddress)
	require.Equal(t, 12*time.Hour, cfg.Retention)
	require.Equal(t, time.Minute, cfg.PurgeInterval)
	require.Equal(t, 500*time.Millisecond, cfg.CyclePeriod)
	require.True(t, cfg.Kafka.Enabled)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "lz4", cfg.Kafka.Compression)
	require.Equal(t, byte(1), cfg.MQTT.QoS)
	require.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.CORSOrigins)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "telemetry.yaml", `
listen_address: ":8100"
buffer_capacity: 5000
catchup_size: 200
seed: 42
redis:
  enabled: true
  addr: cache:6379
  channel_prefix: dash
kafka:
  brokers:
    - k1:9092
    - k2:9092
  partitioner: roundrobin
cb:
  max_failures: 3
  reset_timeout: 10s
`)
	t.Setenv("TELEMETRY_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8100", cfg.ListenAddress)
	require.Equal(t, 5000, cfg.BufferCapacity)
	require.Equal(t, 200, cfg.CatchUpSize)
	require.Equal(t, uint64(42), cfg.Seed)
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, "cache:6379", cfg.Redis.Addr)
	require.Equal(t, "dash", cfg.Redis.ChannelPrefix)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, sink.PartitionerRoundRobin, cfg.Kafka.Partitioner)
	require.Equal(t, 3, cfg.Breaker.MaxFailures)
	require.Equal(t, 10*time.Second, cfg.Breaker.ResetTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad duration", env: map[string]string{"TELEMETRY_RETENTION": "soon"}},
		{name: "zero duration", env: map[string]string{"TELEMETRY_PURGE_INTERVAL": "0"}},
		{name: "bad capacity", env: map[string]string{"TELEMETRY_BUFFER_CAPACITY": "-5"}},
		{name: "bad qos", env: map[string]string{"TELEMETRY_MQTT_QOS": "3"}},
		{name: "bad level", env: map[string]string{"TELEMETRY_LOG_LEVEL": "loud"}},
		{name: "catchup exceeds capacity", env: map[string]string{"TELEMETRY_BUFFER_CAPACITY": "10", "TELEMETRY_CATCHUP_SIZE": "20"}},
		{name: "empty listen", env: map[string]string{"TELEMETRY_LISTEN_ADDRESS": ""}},
		{name: "malformed properties", file: "no equals sign here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.properties")
			if tc.file != "" {
				path = writeFile(t, "bad.properties", tc.file)
			}
			t.Setenv("TELEMETRY_CONFIG_PATH", path)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"5m":     5 * time.Minute,
		"300":    5 * time.Minute,
		"PT5M":   5 * time.Minute,
		"pt1h":   time.Hour,
		"P1D":    24 * time.Hour,
		"1h30m":  90 * time.Minute,
		" 250ms": 250 * time.Millisecond,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "-1", "PXYZ", "later"} {
		_, err := parseDuration(bad)
		require.Error(t, err, bad)
	}
}

func TestKeysAreEnvAddressable(t *testing.T) {
	cfg := Default()
	for _, key := range Keys() {
		require.Equal(t, key, normalizeKey(key))
	}
	require.NoError(t, setProperty(&cfg, "unknown_key", "x"))
}
