package kbstore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_NilPoolMethodsAreNoOps(t *testing.T) {
	t.Parallel()
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	assert.NoError(t, s.EnsureSchema(ctx))
	assert.NoError(t, s.MarkDocumentCompleted(ctx, "doc1", 4))
	assert.NoError(t, s.MarkDocumentFailed(ctx, "doc1", "boom"))
	assert.NoError(t, s.MarkDocumentCancelled(ctx, "doc1"))
	assert.NoError(t, s.IncrementKBCounters(ctx, "kb1", 1, 4, 1024))
}

func TestNew_StoresLogger(t *testing.T) {
	t.Parallel()
	s := New(nil, zerolog.Nop())
	require.NotNil(t, s)
}
