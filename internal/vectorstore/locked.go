package vectorstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/model"
)

const defaultLockTimeout = 30 * time.Second

// LockedHandle is the unit the rest of the system talks to: a backend plus
// the cross-process file lock and WAL/snapshot checkpoint discipline that
// makes writes to a single collection single-writer, per §4.2.
type LockedHandle struct {
	backend    backend
	lock       *namedLock
	collection string
	persistDir string
	metric     model.DistanceMetric

	mu           sync.Mutex
	pendingWrites int
	log          zerolog.Logger
}

func newLockedHandle(b backend, lock *namedLock, collection, persistDir string, metric model.DistanceMetric, log zerolog.Logger) *LockedHandle {
	return &LockedHandle{
		backend:    b,
		lock:       lock,
		collection: collection,
		persistDir: persistDir,
		metric:     metric,
		log:        log.With().Str("collection", collection).Logger(),
	}
}

// AddDocuments acquires the collection's file lock, writes the batch, and
// triggers a checkpoint once enough writes have accumulated without one.
func (h *LockedHandle) AddDocuments(ctx context.Context, chunks []model.Chunk, embeddings [][]float32, ids []string) error {
	unlock, err := h.lock.Lock(ctx, defaultLockTimeout)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "acquire vector store lock", err)
	}
	defer unlock()

	if err := h.backend.addDocuments(ctx, chunks, embeddings, ids); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "write chunks to vector store", err)
	}

	h.mu.Lock()
	h.pendingWrites += len(chunks)
	shouldCheckpoint := h.pendingWrites >= pendingWriteCheckpointThreshold
	if shouldCheckpoint {
		h.pendingWrites = 0
	}
	h.mu.Unlock()

	if shouldCheckpoint {
		if _, err := h.Checkpoint(ctx); err != nil {
			h.log.Warn().Err(err).Msg("post-write checkpoint failed")
		}
	}
	return nil
}

const pendingWriteCheckpointThreshold = 256

func (h *LockedHandle) SimilaritySearch(ctx context.Context, query []float32, k int) ([]SearchHit, error) {
	hits, err := h.backend.similaritySearch(ctx, query, k)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "similarity search", err)
	}
	return hits, nil
}

func (h *LockedHandle) GetByIDs(ctx context.Context, ids []string) ([]SearchHit, error) {
	hits, err := h.backend.getByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "get by ids", err)
	}
	return hits, nil
}

func (h *LockedHandle) Count(ctx context.Context) (int64, error) {
	n, err := h.backend.count(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "count", err)
	}
	return n, nil
}

// Checkpoint forces the backend's durability barrier (WAL checkpoint for
// pgvector, snapshot for Qdrant) under the collection's file lock.
func (h *LockedHandle) Checkpoint(ctx context.Context) (checkpointStats, error) {
	unlock, err := h.lock.Lock(ctx, defaultLockTimeout)
	if err != nil {
		return checkpointStats{}, apperr.Wrap(apperr.StoreUnavailable, "acquire vector store lock for checkpoint", err)
	}
	defer unlock()

	stats, err := h.backend.checkpoint(ctx)
	if err != nil {
		return checkpointStats{}, apperr.Wrap(apperr.StoreUnavailable, "checkpoint", err)
	}
	h.log.Debug().Int64("rows", stats.CheckpointedPages).Bool("busy", stats.Busy).Msg("vector store checkpoint")
	return stats, nil
}

// ForceGlobalCompactionWait is the blocking counterpart the ingestion
// pipeline's debounced compactor calls when a caller needs a synchronous
// guarantee that everything written so far is durable before returning,
// per §4.2's "forceGlobalCompactionWait" requirement.
func (h *LockedHandle) ForceGlobalCompactionWait(ctx context.Context) error {
	_, err := h.Checkpoint(ctx)
	return err
}

func (h *LockedHandle) Close(ctx context.Context) error {
	return h.backend.close(ctx)
}
