// v0
// internal/sink/mqtt.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nrgchamp/telemetry/internal/circuitbreaker"
	"nrgchamp/telemetry/internal/models"
)

const (
	mqttSinkName          = "mqtt"
	defaultMQTTTimeout    = 5 * time.Second
	defaultMQTTTopicRoot  = "telemetry"
	mqttDisconnectQuiesce = 250
)

var errMQTTTimeout = errors.New("mqtt operation timed out")

// MQTTConfig describes the MQTT fan-out.
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	Timeout     time.Duration
}

// mqttPublisher is the subset of mqtt.Client the sink uses.
type mqttPublisher interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes JSON frames to <prefix>/readings, <prefix>/statistics
// and <prefix>/anomalies.
type MQTTSink struct {
	cfg     MQTTConfig
	log     *slog.Logger
	client  mqttPublisher
	breaker *circuitbreaker.Breaker
}

// NewMQTTSink builds a sink backed by a paho client with auto-reconnect.
func NewMQTTSink(cfg MQTTConfig, log *slog.Logger, breaker *circuitbreaker.Breaker) (*MQTTSink, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker address must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMQTTTimeout
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.Timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return newMQTTSinkWithClient(cfg, log, mqtt.NewClient(opts), breaker)
}

func newMQTTSinkWithClient(cfg MQTTConfig, log *slog.Logger, client mqttPublisher, breaker *circuitbreaker.Breaker) (*MQTTSink, error) {
	if log == nil {
		return nil, errSinkNilLogger
	}
	if client == nil {
		return nil, errors.New("mqtt sink requires a client")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMQTTTimeout
	}
	cfg.TopicPrefix = strings.Trim(strings.TrimSpace(cfg.TopicPrefix), "/")
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultMQTTTopicRoot
	}
	return &MQTTSink{
		cfg:     cfg,
		log:     log.With(slog.String("component", "mqtt_sink")),
		client:  client,
		breaker: breaker,
	}, nil
}

// Name labels the sink in logs and metrics.
func (s *MQTTSink) Name() string { return mqttSinkName }

// Start connects to the broker. The client keeps retrying in the background,
// so a broker that is not up yet only delays delivery.
func (s *MQTTSink) Start(context.Context) error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.Timeout) {
		s.log.Warn("mqtt_sink_connect_pending", slog.String("broker", s.cfg.Broker))
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	s.log.Info("mqtt_sink_connected", slog.String("broker", s.cfg.Broker), slog.String("prefix", s.cfg.TopicPrefix))
	return nil
}

// Stop disconnects from the broker.
func (s *MQTTSink) Stop(context.Context) error {
	s.client.Disconnect(mqttDisconnectQuiesce)
	s.log.Info("mqtt_sink_stopped")
	return nil
}

func (s *MQTTSink) topic(stream string) string {
	return s.cfg.TopicPrefix + "/" + stream
}

func (s *MQTTSink) publish(ctx context.Context, stream string, payload any) error {
	body, err := encode(stream, payload)
	if err != nil {
		return err
	}
	return guard(ctx, s.breaker, func(ctx context.Context) error {
		token := s.client.Publish(s.topic(stream), s.cfg.QoS, s.cfg.Retain, body)
		select {
		case <-token.Done():
			return token.Error()
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Timeout):
			return errMQTTTimeout
		}
	})
}

// PublishReadings publishes the batch as one frame.
func (s *MQTTSink) PublishReadings(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	return s.publish(ctx, StreamReadings, readings)
}

// PublishStatistics publishes the snapshot.
func (s *MQTTSink) PublishStatistics(ctx context.Context, stats models.Statistics) error {
	return s.publish(ctx, StreamStatistics, stats)
}

// PublishAnomaly publishes the alert.
func (s *MQTTSink) PublishAnomaly(ctx context.Context, alert models.AnomalyAlert) error {
	return s.publish(ctx, StreamAnomalies, alert)
}
