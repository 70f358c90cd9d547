// v0
// internal/sink/topics.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const adminTimeout = 10 * time.Second

// topicSpec is the partition layout a stream topic should have.
type topicSpec struct {
	name        string
	partitions  int
	replication int
}

func (c KafkaConfig) topicSpecs() []topicSpec {
	partitions := c.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := c.Replication
	if replication <= 0 {
		replication = 1
	}
	return []topicSpec{
		{name: c.ReadingsTopic, partitions: partitions, replication: replication},
		{name: c.StatisticsTopic, partitions: 1, replication: replication},
		{name: c.AnomaliesTopic, partitions: partitions, replication: replication},
	}
}

// ensureTopics creates the stream topics through the cluster controller and
// checks their partition count. Existing topics are accepted as they are
// as long as the partition count matches.
func ensureTopics(ctx context.Context, log *slog.Logger, brokers []string, specs []topicSpec) error {
	if len(brokers) == 0 {
		return errors.New("no brokers configured")
	}
	dialCtx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", brokers[0], err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Warn("kafka_broker_close", slog.Any("err", cerr))
		}
	}()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("fetch controller metadata: %w", err)
	}
	ctrlAddr := fmt.Sprintf("%s:%d", controller.Host, controller.Port)
	admin, err := kafka.DialContext(dialCtx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", ctrlAddr, err)
	}
	defer func() {
		if cerr := admin.Close(); cerr != nil {
			log.Warn("kafka_controller_close", slog.Any("err", cerr))
		}
	}()
	if err := admin.SetDeadline(time.Now().Add(adminTimeout)); err != nil {
		log.Warn("kafka_controller_deadline", slog.Any("err", err))
	}

	configs := make([]kafka.TopicConfig, 0, len(specs))
	for _, spec := range specs {
		configs = append(configs, kafka.TopicConfig{
			Topic:             spec.name,
			NumPartitions:     spec.partitions,
			ReplicationFactor: spec.replication,
		})
	}
	if err := admin.CreateTopics(configs...); err != nil {
		if !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("create topics: %w", err)
		}
		log.Info("kafka_topics_exist")
	} else {
		log.Info("kafka_topics_created", slog.Int("count", len(configs)))
	}

	for _, spec := range specs {
		count, err := countPartitions(admin, spec.name)
		if err != nil {
			return err
		}
		if count != spec.partitions {
			return fmt.Errorf("topic %s has %d partitions; expected %d", spec.name, count, spec.partitions)
		}
		log.Info("kafka_topic_ready", slog.String("topic", spec.name), slog.Int("partitions", count))
	}
	return nil
}

func countPartitions(conn *kafka.Conn, topic string) (int, error) {
	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return 0, fmt.Errorf("read partitions for %s: %w", topic, err)
	}
	seen := map[int]struct{}{}
	for _, part := range partitions {
		if part.Topic == topic {
			seen[part.ID] = struct{}{}
		}
	}
	return len(seen), nil
}
