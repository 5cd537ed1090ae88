package vectorstore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/model"
)

type fakeBackend struct {
	docs   map[string]model.Chunk
	closed bool
}

func newFakeBackend() *fakeBackend { return &fakeBackend{docs: map[string]model.Chunk{}} }

func (f *fakeBackend) addDocuments(ctx context.Context, chunks []model.Chunk, embeddings [][]float32, ids []string) error {
	for i, c := range chunks {
		f.docs[ids[i]] = c
	}
	return nil
}

func (f *fakeBackend) similaritySearch(ctx context.Context, query []float32, k int) ([]SearchHit, error) {
	var out []SearchHit
	for id, c := range f.docs {
		out = append(out, SearchHit{ID: id, Text: c.Text})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (f *fakeBackend) getByIDs(ctx context.Context, ids []string) ([]SearchHit, error) {
	var out []SearchHit
	for _, id := range ids {
		if c, ok := f.docs[id]; ok {
			out = append(out, SearchHit{ID: id, Text: c.Text})
		}
	}
	return out, nil
}

func (f *fakeBackend) count(ctx context.Context) (int64, error) { return int64(len(f.docs)), nil }

func (f *fakeBackend) checkpoint(ctx context.Context) (checkpointStats, error) {
	return checkpointStats{CheckpointedPages: int64(len(f.docs))}, nil
}

func (f *fakeBackend) close(ctx context.Context) error {
	f.closed = true
	return nil
}

func TestRegistry_RemoveEvictsAndCloses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := &Registry{handles: make(map[registryKey]*LockedHandle), locksDir: t.TempDir()}

	spec := model.VectorStoreSpec{Backend: model.BackendChroma, CollectionName: "notes", Metric: model.MetricCosine}
	collection := SanitizeCollectionName(spec.CollectionName)
	lock, err := newNamedLock(r.locksDir, string(spec.Backend), collection)
	require.NoError(t, err)

	fb := newFakeBackend()
	h := newLockedHandle(fb, lock, collection, spec.PersistDir, spec.Metric, zerolog.Nop())
	key := registryKey{backend: spec.Backend, collection: collection, metric: spec.Metric}
	r.handles[key] = h

	assert.Equal(t, 1, r.Len())
	require.NoError(t, r.Remove(ctx, spec))
	assert.Equal(t, 0, r.Len())
	assert.True(t, fb.closed)

	// Removing again is a no-op, not an error.
	require.NoError(t, r.Remove(ctx, spec))
}

func TestLockedHandle_AddAndSearchRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lock, err := newNamedLock(t.TempDir(), "chroma", "kb")
	require.NoError(t, err)

	fb := newFakeBackend()
	h := newLockedHandle(fb, lock, "kb", "", model.MetricCosine, zerolog.Nop())

	chunks := []model.Chunk{{Text: "hello"}, {Text: "world"}}
	embeds := [][]float32{{1, 0}, {0, 1}}
	ids := []string{"a", "b"}
	require.NoError(t, h.AddDocuments(ctx, chunks, embeds, ids))

	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	hits, err := h.GetByIDs(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hello", hits[0].Text)

	stats, err := h.Checkpoint(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.CheckpointedPages)
}
