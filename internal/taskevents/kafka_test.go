package taskevents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/taskqueue"
)

type mockWriter struct {
	lastMessage kafka.Message
	shouldError bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.shouldError {
		return assert.AnError
	}
	if len(msgs) > 0 {
		m.lastMessage = msgs[0]
	}
	return nil
}

func TestKafkaSink_PublishWritesKeyedMessage(t *testing.T) {
	t.Parallel()
	w := &mockWriter{}
	sink := newKafkaSink(w, zerolog.Nop())

	event := taskqueue.Event{TaskID: "task-1", Type: "completed", Status: model.TaskCompleted}
	sink.Publish(context.Background(), event)

	assert.Equal(t, "task-1", string(w.lastMessage.Key))

	var decoded taskqueue.Event
	require.NoError(t, json.Unmarshal(w.lastMessage.Value, &decoded))
	assert.Equal(t, event, decoded)
}

func TestKafkaSink_PublishSwallowsWriteError(t *testing.T) {
	t.Parallel()
	w := &mockWriter{shouldError: true}
	sink := newKafkaSink(w, zerolog.Nop())

	assert.NotPanics(t, func() {
		sink.Publish(context.Background(), taskqueue.Event{TaskID: "task-2"})
	})
}

func TestNewKafkaSink_EmptyBrokersErrors(t *testing.T) {
	t.Parallel()
	_, err := NewKafkaSink(nil, "topic", zerolog.Nop())
	assert.Error(t, err)
}
