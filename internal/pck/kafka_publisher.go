package pck

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// TrajectoryCompletedEvent is emitted once per completeTrajectory call, for
// the out-of-scope front-end graph visualization and any other async
// subscriber to consume. The core never reads this topic back.
type TrajectoryCompletedEvent struct {
	TrajectoryID    string    `json:"trajectory_id"`
	AccountID       string    `json:"account_id"`
	EntitiesTouched []string  `json:"entities_touched"`
	EdgeCount       int       `json:"edge_count"`
	CompletedAt     time.Time `json:"completed_at"`
}

// KafkaTrajectoryPublisher is a write-only, fire-and-forget outbox
// publisher. A nil *KafkaTrajectoryPublisher is valid and Publish/Close on
// it are no-ops, so callers can wire one unconditionally and let
// NewKafkaTrajectoryPublisher's "not configured" case flow through.
type KafkaTrajectoryPublisher struct {
	writer *kafka.Writer
}

// NewKafkaTrajectoryPublisher builds a publisher when brokers is non-empty
// (comma-separated), or returns (nil, nil) when Kafka isn't configured.
func NewKafkaTrajectoryPublisher(brokers, topic string) (*KafkaTrajectoryPublisher, error) {
	brokers = strings.TrimSpace(brokers)
	if brokers == "" {
		return nil, nil
	}
	addrs := make([]string, 0)
	for _, b := range strings.Split(brokers, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, nil
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(addrs...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaTrajectoryPublisher{writer: writer}, nil
}

// Publish writes ev to the configured topic.
func (p *KafkaTrajectoryPublisher) Publish(ctx context.Context, ev TrajectoryCompletedEvent) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Value: payload, Time: time.Now()})
}

// Close shuts down the writer.
func (p *KafkaTrajectoryPublisher) Close() {
	if p == nil || p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("kafka_trajectory_publisher_close_failed")
	}
}
