// Package taskevents fans task queue (C5) lifecycle events out to Kafka for
// cross-process observability, the way internal/tools/kafka/producer.go
// builds a Writer for the teacher's command/reply topics.
package taskevents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/manifold-chat/core/internal/taskqueue"
)

// Writer is the subset of *kafka.Writer the sink needs, narrowed so tests
// can supply a mock instead of a live broker connection.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink implements taskqueue.EventSink against a Kafka topic. Publish
// never blocks the queue on a slow or unreachable broker: write errors are
// logged and dropped.
type KafkaSink struct {
	writer Writer
	log    zerolog.Logger
}

// NewKafkaSink builds a Writer from a list of broker addresses, the same
// way NewProducerFromBrokers does for the teacher's command topics.
func NewKafkaSink(brokers []string, topic string, log zerolog.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("taskevents: kafka brokers cannot be empty")
	}
	trimmed := make([]string, len(brokers))
	for i, b := range brokers {
		trimmed[i] = strings.TrimSpace(b)
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(trimmed...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true,
		Completion: func(_ []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("publish task event")
			}
		},
	}
	return newKafkaSink(writer, log), nil
}

func newKafkaSink(w Writer, log zerolog.Logger) *KafkaSink {
	return &KafkaSink{writer: w, log: log}
}

// Close releases the underlying broker connections, when the sink owns a
// real *kafka.Writer.
func (k *KafkaSink) Close() error {
	if closer, ok := k.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Publish implements taskqueue.EventSink. Events are keyed by task id so a
// partitioned topic preserves per-task ordering.
func (k *KafkaSink) Publish(ctx context.Context, event taskqueue.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		k.log.Warn().Err(err).Str("task_id", event.TaskID).Msg("marshal task event")
		return
	}
	msg := kafka.Message{Key: []byte(event.TaskID), Value: payload}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.log.Warn().Err(err).Str("task_id", event.TaskID).Str("type", event.Type).Msg("publish task event")
	}
}
