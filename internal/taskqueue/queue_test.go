package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/model"
)

func TestQueue_EnqueueAndRunToCompletion(t *testing.T) {
	t.Parallel()
	ran := int32(0)
	handlers := HandlerRegistry{
		"noop": func(ctx context.Context, payload []byte, progress func(float64)) error {
			atomic.AddInt32(&ran, 1)
			progress(1.0)
			return nil
		},
	}
	q := New(Config{Workers: 2}, handlers, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	id, err := q.Enqueue(ctx, "noop", model.PriorityNormal, nil, time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, ok := q.Status(id)
		return ok && rec.Status == model.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ran))
}

func TestQueue_RejectsUnknownHandler(t *testing.T) {
	t.Parallel()
	q := New(Config{}, HandlerRegistry{}, nil, zerolog.Nop())
	_, err := q.Enqueue(context.Background(), "missing", model.PriorityLow, nil, 0)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.BadConfig))
}

func TestQueue_QueueFullRejectsPastBound(t *testing.T) {
	t.Parallel()
	handlers := HandlerRegistry{"slow": func(ctx context.Context, payload []byte, progress func(float64)) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	q := New(Config{Workers: 1, MaxQueueSize: 1}, handlers, nil, zerolog.Nop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "slow", model.PriorityNormal, nil, time.Second)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "slow", model.PriorityNormal, nil, time.Second)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.QueueFull))
}

func TestQueue_RetriesOnFailureThenFails(t *testing.T) {
	t.Parallel()
	attempts := int32(0)
	handlers := HandlerRegistry{"flaky": func(ctx context.Context, payload []byte, progress func(float64)) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}}
	q := New(Config{Workers: 1, MaxRetries: 2}, handlers, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	id, err := q.Enqueue(ctx, "flaky", model.PriorityNormal, nil, time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, ok := q.Status(id)
		return ok && rec.Status == model.TaskFailed
	}, 10*time.Second, 20*time.Millisecond) // retries wait 2s, then 4s
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts)) // 1 initial + 2 retries
}

func TestQueue_PriorityOrdering(t *testing.T) {
	t.Parallel()
	var order []string
	done := make(chan struct{})
	handlers := HandlerRegistry{"record": func(ctx context.Context, payload []byte, progress func(float64)) error {
		order = append(order, string(payload))
		if len(order) == 3 {
			close(done)
		}
		return nil
	}}
	// Single worker so ordering is deterministic by the heap, not goroutine scheduling.
	q := New(Config{Workers: 1}, handlers, nil, zerolog.Nop())

	// Enqueue before starting workers so all three are pending when the
	// loop begins draining the heap.
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "record", model.PriorityLow, []byte("low"), time.Second)
	_, _ = q.Enqueue(ctx, "record", model.PriorityUrgent, []byte("urgent"), time.Second)
	_, _ = q.Enqueue(ctx, "record", model.PriorityNormal, []byte("normal"), time.Second)

	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not complete in time")
	}
	assert.Equal(t, []string{"urgent", "normal", "low"}, order)
}
