// v0
// internal/config/keys.go
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"nrgchamp/telemetry/internal/sink"
)

var knownKeys = []string{
	"listen_address", "log_path", "log_level",
	"http_read_timeout", "http_write_timeout", "shutdown_timeout",
	"buffer_capacity", "retention", "purge_interval",
	"readings_per_cycle", "cycle_period", "sensor_id", "seed", "anomaly_log_rate",
	"catchup_size", "hub_queue_size", "hub_write_timeout", "cors_origins",
	"kafka_enabled", "kafka_brokers", "kafka_readings_topic", "kafka_statistics_topic",
	"kafka_anomalies_topic", "kafka_acks", "kafka_partitioner", "kafka_compression",
	"kafka_batch_timeout", "kafka_queue_size", "kafka_create_topics", "kafka_partitions", "kafka_replication",
	"mqtt_enabled", "mqtt_broker", "mqtt_client_id", "mqtt_username", "mqtt_password",
	"mqtt_topic_prefix", "mqtt_qos", "mqtt_retain", "mqtt_timeout",
	"redis_enabled", "redis_addr", "redis_password", "redis_db", "redis_channel_prefix", "redis_timeout",
	"cb_max_failures", "cb_reset_timeout", "cb_successes_to_close",
}

// Keys lists every recognised property key; TELEMETRY_<KEY> overrides it.
func Keys() []string {
	return append([]string(nil), knownKeys...)
}

func setProperty(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "listen_address":
		cfg.ListenAddress, err = requireValue(value)
	case "log_path":
		// empty disables the file handler
		if value == "" {
			cfg.LogFilePath = ""
		} else {
			cfg.LogFilePath = filepath.Clean(value)
		}
	case "log_level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = strings.ToLower(value)
		default:
			err = fmt.Errorf("unknown log level %q", value)
		}
	case "http_read_timeout":
		cfg.HTTPReadTimeout, err = parseDuration(value)
	case "http_write_timeout":
		cfg.HTTPWriteTimeout, err = parseDuration(value)
	case "shutdown_timeout":
		cfg.ShutdownTimeout, err = parseDuration(value)
	case "buffer_capacity":
		cfg.BufferCapacity, err = parsePositiveInt(value)
	case "retention":
		cfg.Retention, err = parseDuration(value)
	case "purge_interval":
		cfg.PurgeInterval, err = parseDuration(value)
	case "readings_per_cycle":
		cfg.ReadingsPerCycle, err = parsePositiveInt(value)
	case "cycle_period":
		cfg.CyclePeriod, err = parseDuration(value)
	case "sensor_id":
		cfg.SensorID, err = requireValue(value)
	case "seed":
		cfg.Seed, err = strconv.ParseUint(value, 10, 64)
	case "anomaly_log_rate":
		var rate float64
		rate, err = strconv.ParseFloat(value, 64)
		if err == nil && rate <= 0 {
			err = errors.New("value must be greater than zero")
		}
		cfg.AnomalyLogRate = rate
	case "catchup_size":
		cfg.CatchUpSize, err = parsePositiveInt(value)
	case "hub_queue_size":
		cfg.HubQueueSize, err = parsePositiveInt(value)
	case "hub_write_timeout":
		cfg.HubWriteTimeout, err = parseDuration(value)
	case "cors_origins":
		cfg.CORSOrigins = splitAndTrim(value)
	case "kafka_enabled":
		cfg.Kafka.Enabled, err = strconv.ParseBool(value)
	case "kafka_brokers":
		cfg.Kafka.Brokers = splitAndTrim(value)
		if len(cfg.Kafka.Brokers) == 0 {
			err = errors.New("kafka_brokers cannot be empty")
		}
	case "kafka_readings_topic":
		cfg.Kafka.ReadingsTopic, err = requireValue(value)
	case "kafka_statistics_topic":
		cfg.Kafka.StatisticsTopic, err = requireValue(value)
	case "kafka_anomalies_topic":
		cfg.Kafka.AnomaliesTopic, err = requireValue(value)
	case "kafka_acks":
		var acks int
		acks, err = strconv.Atoi(value)
		if err == nil && (acks < -1 || acks > 1) {
			err = fmt.Errorf("kafka_acks must be -1, 0 or 1, got %d", acks)
		}
		cfg.Kafka.Acks = acks
	case "kafka_partitioner":
		cfg.Kafka.Partitioner = sink.Partitioner(strings.ToLower(value))
	case "kafka_compression":
		cfg.Kafka.Compression = strings.ToLower(value)
	case "kafka_batch_timeout":
		cfg.Kafka.BatchTimeout, err = parseDuration(value)
	case "kafka_queue_size":
		cfg.Kafka.QueueSize, err = parsePositiveInt(value)
	case "kafka_create_topics":
		cfg.Kafka.CreateTopics, err = strconv.ParseBool(value)
	case "kafka_partitions":
		cfg.Kafka.Partitions, err = parsePositiveInt(value)
	case "kafka_replication":
		cfg.Kafka.Replication, err = parsePositiveInt(value)
	case "mqtt_enabled":
		cfg.MQTT.Enabled, err = strconv.ParseBool(value)
	case "mqtt_broker":
		cfg.MQTT.Broker, err = requireValue(value)
	case "mqtt_client_id":
		cfg.MQTT.ClientID = value
	case "mqtt_username":
		cfg.MQTT.Username = value
	case "mqtt_password":
		cfg.MQTT.Password = value
	case "mqtt_topic_prefix":
		cfg.MQTT.TopicPrefix, err = requireValue(value)
	case "mqtt_qos":
		var qos uint64
		qos, err = strconv.ParseUint(value, 10, 8)
		if err == nil && qos > 2 {
			err = fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", qos)
		}
		cfg.MQTT.QoS = byte(qos)
	case "mqtt_retain":
		cfg.MQTT.Retain, err = strconv.ParseBool(value)
	case "mqtt_timeout":
		cfg.MQTT.Timeout, err = parseDuration(value)
	case "redis_enabled":
		cfg.Redis.Enabled, err = strconv.ParseBool(value)
	case "redis_addr":
		cfg.Redis.Addr, err = requireValue(value)
	case "redis_password":
		cfg.Redis.Password = value
	case "redis_db":
		var db int
		db, err = strconv.Atoi(value)
		if err == nil && db < 0 {
			err = errors.New("redis_db cannot be negative")
		}
		cfg.Redis.DB = db
	case "redis_channel_prefix":
		cfg.Redis.ChannelPrefix, err = requireValue(value)
	case "redis_timeout":
		cfg.Redis.Timeout, err = parseDuration(value)
	case "cb_max_failures":
		cfg.Breaker.MaxFailures, err = parsePositiveInt(value)
	case "cb_reset_timeout":
		cfg.Breaker.ResetTimeout, err = parseDuration(value)
	case "cb_successes_to_close":
		cfg.Breaker.SuccessesToClose, err = parsePositiveInt(value)
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return err
}
