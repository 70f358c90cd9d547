// v0
// internal/sink/kafka.go
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"nrgchamp/telemetry/internal/circuitbreaker"
	"nrgchamp/telemetry/internal/metrics"
	"nrgchamp/telemetry/internal/models"
)

// Partitioner enumerates the supported Kafka partition strategies.
type Partitioner string

const (
	// PartitionerHash routes messages by key so one sensor stays on one partition.
	PartitionerHash Partitioner = "hash"
	// PartitionerRoundRobin distributes messages evenly without regard to key.
	PartitionerRoundRobin Partitioner = "roundrobin"
	// PartitionerLeastBytes sends to the partition that has received the least data.
	PartitionerLeastBytes Partitioner = "leastbytes"
)

const (
	kafkaSinkName         = "kafka"
	defaultKafkaQueueSize = 64
	eventHeader           = "event"
)

// KafkaConfig describes the Kafka fan-out.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	ReadingsTopic   string
	StatisticsTopic string
	AnomaliesTopic  string
	Acks            int
	Partitioner     Partitioner
	Compression     string
	BatchTimeout    time.Duration
	QueueSize       int
	// CreateTopics provisions the three topics when the sink starts.
	CreateTopics bool
	Partitions   int
	Replication  int
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaWriteCloser interface {
	Close() error
}

type publishRequest struct {
	stream string
	msgs   []kafka.Message
}

// KafkaSink asynchronously writes readings, statistics and alerts to Kafka.
// Publish calls only enqueue; a single loop delivers through the breaker.
type KafkaSink struct {
	cfg       KafkaConfig
	log       *slog.Logger
	metrics   *metrics.Metrics
	writer    kafkaMessageWriter
	closer    kafkaWriteCloser
	breaker   *circuitbreaker.Breaker
	ensure    func(ctx context.Context) error
	queue     chan publishRequest
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

// NewKafkaSink builds a sink backed by a kafka.Writer. Messages carry their
// own topic, so one writer serves all three streams.
func NewKafkaSink(cfg KafkaConfig, log *slog.Logger, m *metrics.Metrics, breaker *circuitbreaker.Breaker) (*KafkaSink, error) {
	if log == nil {
		return nil, errSinkNilLogger
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	for name, topic := range map[string]string{
		StreamReadings:   cfg.ReadingsTopic,
		StreamStatistics: cfg.StatisticsTopic,
		StreamAnomalies:  cfg.AnomaliesTopic,
	} {
		if strings.TrimSpace(topic) == "" {
			return nil, fmt.Errorf("%s topic must not be empty", name)
		}
	}
	balancer, err := resolveBalancer(cfg.Partitioner)
	if err != nil {
		return nil, err
	}
	compression, err := resolveCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		AllowAutoTopicCreation: false,
		Balancer:               balancer,
		Compression:            compression,
		BatchTimeout:           cfg.BatchTimeout,
	}
	s, err := newKafkaSinkWithWriter(cfg, log, m, w, w, breaker)
	if err != nil {
		return nil, err
	}
	if cfg.CreateTopics {
		specs := cfg.topicSpecs()
		s.ensure = func(ctx context.Context) error {
			return ensureTopics(ctx, s.log, cfg.Brokers, specs)
		}
	}
	return s, nil
}

// newKafkaSinkWithWriter wires the provided writer into the sink. It is used in tests.
func newKafkaSinkWithWriter(cfg KafkaConfig, log *slog.Logger, m *metrics.Metrics, writer kafkaMessageWriter, closer kafkaWriteCloser, breaker *circuitbreaker.Breaker) (*KafkaSink, error) {
	if log == nil {
		return nil, errSinkNilLogger
	}
	if writer == nil {
		return nil, errors.New("kafka sink requires a writer")
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultKafkaQueueSize
	}
	return &KafkaSink{
		cfg:     cfg,
		log:     log.With(slog.String("component", "kafka_sink")),
		metrics: m,
		writer:  writer,
		closer:  closer,
		breaker: breaker,
		queue:   make(chan publishRequest, size),
	}, nil
}

// Name labels the sink in logs and metrics.
func (s *KafkaSink) Name() string { return kafkaSinkName }

// Start launches the background delivery loop.
func (s *KafkaSink) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	s.startOnce.Do(func() {
		s.runCtx, s.cancel = context.WithCancel(ctx)
		s.started.Store(true)
		s.wg.Add(1)
		go s.run()
		s.log.Info("kafka_sink_started",
			slog.String("readings_topic", s.cfg.ReadingsTopic),
			slog.String("statistics_topic", s.cfg.StatisticsTopic),
			slog.String("anomalies_topic", s.cfg.AnomaliesTopic),
		)
	})
	return nil
}

// Stop cancels the loop, delivers whatever is still queued and closes the writer.
func (s *KafkaSink) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if s.closer != nil {
			if err := s.closer.Close(); err != nil {
				s.log.Error("kafka_sink_close_err", slog.Any("err", err))
			}
		}
		if stopErr != nil {
			s.log.Error("kafka_sink_stop_err", slog.Any("err", stopErr))
		}
		s.log.Info("kafka_sink_stopped")
	})
	return stopErr
}

// PublishReadings enqueues one message per reading, keyed by sensor id.
func (s *KafkaSink) PublishReadings(_ context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(readings))
	for _, r := range readings {
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode reading: %w", err)
		}
		msgs = append(msgs, s.message(s.cfg.ReadingsTopic, StreamReadings, r.SensorID, value))
	}
	return s.enqueue(publishRequest{stream: StreamReadings, msgs: msgs})
}

// PublishStatistics enqueues the snapshot without a key.
func (s *KafkaSink) PublishStatistics(_ context.Context, stats models.Statistics) error {
	value, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	msg := s.message(s.cfg.StatisticsTopic, StreamStatistics, "", value)
	return s.enqueue(publishRequest{stream: StreamStatistics, msgs: []kafka.Message{msg}})
}

// PublishAnomaly enqueues the alert keyed by severity.
func (s *KafkaSink) PublishAnomaly(_ context.Context, alert models.AnomalyAlert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode anomaly: %w", err)
	}
	msg := s.message(s.cfg.AnomaliesTopic, StreamAnomalies, string(alert.Severity), value)
	return s.enqueue(publishRequest{stream: StreamAnomalies, msgs: []kafka.Message{msg}})
}

func (s *KafkaSink) message(topic, stream, key string, value []byte) kafka.Message {
	msg := kafka.Message{
		Topic:   topic,
		Value:   value,
		Headers: []kafka.Header{{Key: eventHeader, Value: []byte(stream)}},
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	return msg
}

// enqueue never blocks the caller; a full queue rejects the request.
func (s *KafkaSink) enqueue(req publishRequest) error {
	if !s.started.Load() {
		return errSinkNotStarted
	}
	select {
	case <-s.runCtx.Done():
		return errSinkStopped
	default:
	}
	select {
	case s.queue <- req:
		return nil
	default:
		s.metrics.SinkPublish(kafkaSinkName, metrics.ResultRejected)
		return errQueueFull
	}
}

func (s *KafkaSink) run() {
	defer s.wg.Done()
	if s.ensure != nil {
		// not fatal: the topics may already exist with a different layout
		if err := s.ensure(s.runCtx); err != nil {
			s.log.Warn("kafka_topic_provisioning_failed", slog.Any("err", err))
		}
	}
	for {
		select {
		case <-s.runCtx.Done():
			s.drain()
			s.started.Store(false)
			s.log.Info("kafka_sink_loop_exit")
			return
		case req := <-s.queue:
			s.deliver(s.runCtx, req)
		}
	}
}

// drain flushes queued requests after cancellation with a fresh deadline.
func (s *KafkaSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case req := <-s.queue:
			s.deliver(ctx, req)
		default:
			return
		}
	}
}

func (s *KafkaSink) deliver(ctx context.Context, req publishRequest) {
	err := guard(ctx, s.breaker, func(ctx context.Context) error {
		return s.writer.WriteMessages(ctx, req.msgs...)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			s.log.Debug("kafka_sink_fast_fail", slog.String("stream", req.stream))
		} else {
			s.log.Error("kafka_sink_publish_err", slog.String("stream", req.stream), slog.Int("messages", len(req.msgs)), slog.Any("err", err))
		}
		s.metrics.SinkPublish(kafkaSinkName+"_delivery", metrics.ResultError)
		return
	}
	s.metrics.SinkPublish(kafkaSinkName+"_delivery", metrics.ResultOK)
	s.log.Debug("kafka_sink_publish_success", slog.String("stream", req.stream), slog.Int("messages", len(req.msgs)))
}

func resolveBalancer(partitioner Partitioner) (kafka.Balancer, error) {
	switch partitioner {
	case PartitionerHash, "":
		return &kafka.Hash{}, nil
	case PartitionerRoundRobin:
		return &kafka.RoundRobin{}, nil
	case PartitionerLeastBytes:
		return &kafka.LeastBytes{}, nil
	default:
		return nil, fmt.Errorf("unsupported partitioner: %s", partitioner)
	}
}

func resolveCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported compression: %s", name)
	}
}
