package vectorstore

import (
	"context"

	"github.com/manifold-chat/core/internal/model"
)

// SearchHit is a raw nearest-neighbor result before distance->score
// conversion (that happens in internal/retriever).
type SearchHit struct {
	ID       string
	Distance float64
	Text     string
	Metadata map[string]string
}

// backend is the minimal surface a concrete vector engine must provide.
// Locking and WAL-checkpoint discipline live one layer up in LockedHandle so
// every backend gets them for free; reads are passed straight through.
type backend interface {
	// addDocuments is the only write path; callers must already hold the
	// collection's file lock before calling it.
	addDocuments(ctx context.Context, chunks []model.Chunk, embeddings [][]float32, ids []string) error
	similaritySearch(ctx context.Context, query []float32, k int) ([]SearchHit, error)
	getByIDs(ctx context.Context, ids []string) ([]SearchHit, error)
	count(ctx context.Context) (int64, error)
	// checkpoint forces a durability barrier (WAL checkpoint / Qdrant
	// snapshot) and returns backend-specific stats for logging.
	checkpoint(ctx context.Context) (checkpointStats, error)
	close(ctx context.Context) error
}

type checkpointStats struct {
	Busy               bool
	LogPages           int64
	CheckpointedPages  int64
}
