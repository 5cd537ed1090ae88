// Package kbstore is the durable Postgres counterpart of the ingestion
// pipeline's bookkeeping seam: per-document status and per-KB running
// totals that the pipeline itself only ever reports deltas for.
package kbstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/apperr"
)

// Store implements ingestion.CounterSink against Postgres, the same
// CREATE-TABLE-IF-NOT-EXISTS-at-startup idiom internal/modelcaps uses for
// its durable layer.
type Store struct {
	pg  *pgxpool.Pool
	log zerolog.Logger
}

func New(pg *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pg: pg, log: log}
}

// EnsureSchema creates the document-status and KB-counter tables if they
// don't exist yet. Safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.pg == nil {
		return nil
	}
	const ddl = `
		CREATE TABLE IF NOT EXISTS kb_documents (
			doc_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			chunk_count INT NOT NULL DEFAULT 0,
			last_error TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS kb_counters (
			kb_id TEXT PRIMARY KEY,
			document_count INT NOT NULL DEFAULT 0,
			chunk_count INT NOT NULL DEFAULT 0,
			total_size_bytes BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`
	if _, err := s.pg.Exec(ctx, ddl); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "create kb bookkeeping tables", err)
	}
	return nil
}

// MarkDocumentCompleted records a document's final chunk count and clears
// any prior error.
func (s *Store) MarkDocumentCompleted(ctx context.Context, docID string, chunkCount int) error {
	if s.pg == nil {
		return nil
	}
	const upsert = `INSERT INTO kb_documents (doc_id, status, chunk_count, last_error, updated_at)
		VALUES ($1, 'completed', $2, NULL, $3)
		ON CONFLICT (doc_id) DO UPDATE SET status = 'completed', chunk_count = $2, last_error = NULL, updated_at = $3`
	if _, err := s.pg.Exec(ctx, upsert, docID, chunkCount, time.Now()); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "mark document completed", err)
	}
	return nil
}

// MarkDocumentFailed records a document's terminal error.
func (s *Store) MarkDocumentFailed(ctx context.Context, docID string, errMsg string) error {
	if s.pg == nil {
		return nil
	}
	const upsert = `INSERT INTO kb_documents (doc_id, status, last_error, updated_at)
		VALUES ($1, 'failed', $2, $3)
		ON CONFLICT (doc_id) DO UPDATE SET status = 'failed', last_error = $2, updated_at = $3`
	if _, err := s.pg.Exec(ctx, upsert, docID, errMsg, time.Now()); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "mark document failed", err)
	}
	return nil
}

// MarkDocumentCancelled records that a document's ingestion was cancelled
// mid-flight.
func (s *Store) MarkDocumentCancelled(ctx context.Context, docID string) error {
	if s.pg == nil {
		return nil
	}
	const upsert = `INSERT INTO kb_documents (doc_id, status, updated_at)
		VALUES ($1, 'cancelled', $2)
		ON CONFLICT (doc_id) DO UPDATE SET status = 'cancelled', updated_at = $2`
	if _, err := s.pg.Exec(ctx, upsert, docID, time.Now()); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "mark document cancelled", err)
	}
	return nil
}

// IncrementKBCounters adds the given deltas to a KB's running totals.
func (s *Store) IncrementKBCounters(ctx context.Context, kbID string, documents, chunks int, totalSize int64) error {
	if s.pg == nil {
		return nil
	}
	const upsert = `INSERT INTO kb_counters (kb_id, document_count, chunk_count, total_size_bytes, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kb_id) DO UPDATE SET
			document_count = kb_counters.document_count + $2,
			chunk_count = kb_counters.chunk_count + $3,
			total_size_bytes = kb_counters.total_size_bytes + $4,
			updated_at = $5`
	if _, err := s.pg.Exec(ctx, upsert, kbID, documents, chunks, totalSize, time.Now()); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "increment kb counters", err)
	}
	return nil
}
