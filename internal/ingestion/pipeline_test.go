package ingestion

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/model"
)

func TestBatchOf_SplitsEvenly(t *testing.T) {
	t.Parallel()
	chunks := make([]model.Chunk, 250)
	ids := make([]string, 250)
	batches := batchOf(chunks, ids, 100)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].chunks, 100)
	assert.Len(t, batches[1].chunks, 100)
	assert.Len(t, batches[2].chunks, 50)
}

func TestBatchOf_SingleBatchWhenSmaller(t *testing.T) {
	t.Parallel()
	chunks := make([]model.Chunk, 10)
	ids := make([]string, 10)
	batches := batchOf(chunks, ids, 100)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].chunks, 10)
}

func TestCompactor_DebouncesRepeatedRequests(t *testing.T) {
	t.Parallel()
	c := NewCompactor(50*time.Millisecond, zerolog.Nop())

	c.mu.Lock()
	_, exists := c.lastRun["kb1"]
	c.mu.Unlock()
	assert.False(t, exists)

	c.mu.Lock()
	c.lastRun["kb1"] = timeNow()
	due1 := false
	if last, ok := c.lastRun["kb1"]; ok {
		due1 = time.Since(last) >= c.debounce
	}
	c.mu.Unlock()
	assert.False(t, due1, "should not be due immediately after recording a run")

	time.Sleep(60 * time.Millisecond)
	c.mu.Lock()
	last := c.lastRun["kb1"]
	due2 := time.Since(last) >= c.debounce
	c.mu.Unlock()
	assert.True(t, due2, "should be due after the debounce window elapses")
}
