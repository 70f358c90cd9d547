// v0
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"

	"nrgchamp/telemetry/internal/circuitbreaker"
	"nrgchamp/telemetry/internal/sink"
)

// Config captures all runtime settings of the telemetry service. Values come
// from defaults, an optional properties or YAML file, and finally
// TELEMETRY_* environment variables.
type Config struct {
	// ListenAddress defines the TCP address used by the HTTP server.
	ListenAddress string
	// LogFilePath is the JSON log file; empty logs to the console only.
	LogFilePath string
	// LogLevel is one of debug, info, warn, error.
	LogLevel         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration
	// ConfigPath records the file used to load property values.
	ConfigPath string

	BufferCapacity   int
	Retention        time.Duration
	PurgeInterval    time.Duration
	ReadingsPerCycle int
	CyclePeriod      time.Duration
	SensorID         string
	Seed             uint64
	AnomalyLogRate   float64

	// CatchUpSize is the number of readings pushed to a new subscriber and
	// the default for /api/recent.
	CatchUpSize     int
	HubQueueSize    int
	HubWriteTimeout time.Duration
	CORSOrigins     []string

	Kafka   sink.KafkaConfig
	MQTT    sink.MQTTConfig
	Redis   sink.RedisConfig
	Breaker circuitbreaker.Config
}

const (
	envPrefix          = "TELEMETRY_"
	defaultListen      = "0.0.0.0:8000"
	defaultLogFile     = "logs/telemetry.log"
	defaultLogLevel    = "info"
	defaultReadTimeout = 5 * time.Second
	// websocket subscribers hold the connection open; the hub bounds each frame write instead
	defaultWriteTimeout = 0
	defaultShutdown     = 5 * time.Second
	defaultConfigPath   = "telemetry.properties"
	defaultCapacity     = 100_000
	defaultRetention    = 24 * time.Hour
	defaultPurge        = 5 * time.Minute
	defaultPerCycle     = 1000
	defaultPeriod       = time.Second
	defaultSensorID     = "SENSOR-001"
	defaultAnomalyRate  = 5.0
	defaultCatchUp      = 1000
	defaultHubQueue     = 64
	defaultHubWrite     = 10 * time.Second
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddress:    defaultListen,
		LogFilePath:      filepath.Clean(defaultLogFile),
		LogLevel:         defaultLogLevel,
		HTTPReadTimeout:  defaultReadTimeout,
		HTTPWriteTimeout: defaultWriteTimeout,
		ShutdownTimeout:  defaultShutdown,
		BufferCapacity:   defaultCapacity,
		Retention:        defaultRetention,
		PurgeInterval:    defaultPurge,
		ReadingsPerCycle: defaultPerCycle,
		CyclePeriod:      defaultPeriod,
		SensorID:         defaultSensorID,
		AnomalyLogRate:   defaultAnomalyRate,
		CatchUpSize:      defaultCatchUp,
		HubQueueSize:     defaultHubQueue,
		HubWriteTimeout:  defaultHubWrite,
		CORSOrigins:      []string{"*"},
		Kafka: sink.KafkaConfig{
			Brokers:         []string{"kafka:9092"},
			ReadingsTopic:   "telemetry.readings",
			StatisticsTopic: "telemetry.statistics",
			AnomaliesTopic:  "telemetry.anomalies",
			Acks:            1,
			Partitioner:     sink.PartitionerHash,
			BatchTimeout:    50 * time.Millisecond,
			QueueSize:       64,
			Partitions:      3,
			Replication:     1,
		},
		MQTT: sink.MQTTConfig{
			Broker:      "tcp://mosquitto:1883",
			ClientID:    "telemetry-service",
			TopicPrefix: "telemetry",
			Timeout:     5 * time.Second,
		},
		Redis: sink.RedisConfig{
			Addr:          "redis:6379",
			ChannelPrefix: "telemetry",
			Timeout:       2 * time.Second,
		},
		Breaker: circuitbreaker.Config{
			MaxFailures:      5,
			ResetTimeout:     30 * time.Second,
			SuccessesToClose: 1,
		},
	}
}

// Load resolves configuration by layering defaults, an optional file and
// environment variables. The file location can be overridden with
// TELEMETRY_CONFIG_PATH; a .yaml or .yml extension selects the YAML reader.
func Load() (Config, error) {
	cfg := Default()

	path := defaultConfigPath
	if v, ok := lookupEnvTrimmed(envPrefix + "CONFIG_PATH"); ok && v != "" {
		path = v
	}
	cfg.ConfigPath = path

	if err := applyFile(&cfg, path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return applyYAML(cfg, path)
	default:
		return applyProperties(cfg, path)
	}
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := normalizeKey(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := setProperty(cfg, key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

// applyEnv maps every known key to TELEMETRY_<KEY>.
func applyEnv(cfg *Config) error {
	for _, key := range Keys() {
		name := envPrefix + strings.ToUpper(key)
		v, ok := lookupEnvTrimmed(name)
		if !ok {
			continue
		}
		if err := setProperty(cfg, key, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// normalizeKey accepts dotted and dashed spellings: kafka.readings-topic -> kafka_readings_topic.
func normalizeKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer(".", "_", "-", "_").Replace(key)
}

// Validate reports settings that cannot produce a working service.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddress) == "" {
		errs = append(errs, errors.New("listen_address cannot be empty"))
	}
	if c.CatchUpSize > c.BufferCapacity {
		errs = append(errs, fmt.Errorf("catchup_size %d exceeds buffer_capacity %d", c.CatchUpSize, c.BufferCapacity))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka_brokers required when kafka_enabled"))
	}
	if c.MQTT.Enabled && strings.TrimSpace(c.MQTT.Broker) == "" {
		errs = append(errs, errors.New("mqtt_broker required when mqtt_enabled"))
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("redis_addr required when redis_enabled"))
	}
	return errors.Join(errs...)
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseDuration accepts Go syntax (5m), bare integer seconds (300) or an
// ISO 8601 duration (PT5M).
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errors.New("value cannot be empty")
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if strings.HasPrefix(strings.ToUpper(v), "P") {
		iso, err := duration.Parse(strings.ToUpper(v))
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration: %w", err)
		}
		d = iso.ToTimeDuration()
	} else {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %w", err)
		}
		d = parsed
	}
	if d <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return d, nil
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return n, nil
}

func requireValue(v string) (string, error) {
	if strings.TrimSpace(v) == "" {
		return "", errors.New("value cannot be empty")
	}
	return v, nil
}
