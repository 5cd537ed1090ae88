// Package vectorstore implements C2: a process-wide registry of vector
// store handles, backed by either a remote Qdrant collection (the
// "chroma"-shaped backend, a network vector database dialed once per
// collection) or an embedded pgvector table (the "faiss"-shaped backend, a
// local ANN index living beside a SQL catalog). Every handle is
// additionally guarded by a cross-process file lock so only one writer
// touches a given collection at a time, mirroring the single-writer
// discipline a SQLite-backed store would need.
package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/model"
)

type registryKey struct {
	backend    model.VectorBackendKind
	collection string
	metric     model.DistanceMetric
}

// Registry is the process-wide singleton of open vector store handles.
// Acquisition is double-checked under mu: callers first probe the map with
// a read, and only fall through to construction (still under the lock, to
// match the registry's single in-flight-construction-per-key guarantee)
// when no handle exists yet.
type Registry struct {
	mu      sync.Mutex
	handles map[registryKey]*LockedHandle

	qdrantDSN string
	pgPool    *pgxpool.Pool
	locksDir  string
	log       zerolog.Logger
}

// NewRegistry wires the two concrete backends: dsn is the Qdrant gRPC
// endpoint used for chroma-shaped stores, pool is a live Postgres/pgvector
// pool used for faiss-shaped stores, and locksDir is where per-collection
// file locks are created.
func NewRegistry(qdrantDSN string, pool *pgxpool.Pool, locksDir string, log zerolog.Logger) *Registry {
	return &Registry{
		handles:   make(map[registryKey]*LockedHandle),
		qdrantDSN: qdrantDSN,
		pgPool:    pool,
		locksDir:  locksDir,
		log:       log,
	}
}

// GetOrCreate returns the handle for spec, constructing and caching it on
// first use. dimension must be known up front because both backends
// provision their collection/table with a fixed vector width.
func (r *Registry) GetOrCreate(ctx context.Context, spec model.VectorStoreSpec, dimension int) (*LockedHandle, error) {
	collection := SanitizeCollectionName(spec.CollectionName)
	key := registryKey{backend: spec.Backend, collection: collection, metric: spec.Metric}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok {
		return h, nil
	}

	lock, err := newNamedLock(r.locksDir, string(spec.Backend), collection)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "create collection lock", err)
	}

	// Hold the collection's cross-process lock across construction so two
	// processes racing get_or_create for the same collection serialize
	// rather than both issuing CREATE COLLECTION/CREATE TABLE concurrently.
	unlock, err := lock.Lock(ctx, defaultLockTimeout)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "acquire collection lock for construction", err)
	}
	defer unlock()

	if h, ok := r.handles[key]; ok {
		return h, nil
	}

	var b backend
	switch spec.Backend {
	case model.BackendChroma:
		b, err = newQdrantBackend(ctx, r.qdrantDSN, collection, dimension, spec.Metric)
	case model.BackendFAISS:
		if r.pgPool == nil {
			return nil, apperr.New(apperr.BadConfig, "faiss backend requires a postgres pool")
		}
		b, err = newPgvectorBackend(ctx, r.pgPool, collection, dimension, spec.Metric)
	default:
		return nil, apperr.New(apperr.BadConfig, fmt.Sprintf("unknown vector backend %q", spec.Backend))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "construct vector backend", err)
	}

	h := newLockedHandle(b, lock, collection, spec.PersistDir, spec.Metric, r.log)
	r.handles[key] = h
	return h, nil
}

// Remove closes and evicts a handle, used when a knowledge base is deleted.
// Chroma's on-disk layout reconciles stale UUID directories left behind by
// partially-failed deletes; neither chosen backend keeps per-collection
// directories like that, so no reconciliation pass runs here. Remove itself
// deletes no data: the Qdrant collection or pgvector table stays in place,
// and only the handle is closed and dropped from the registry.
func (r *Registry) Remove(ctx context.Context, spec model.VectorStoreSpec) error {
	collection := SanitizeCollectionName(spec.CollectionName)
	key := registryKey{backend: spec.Backend, collection: collection, metric: spec.Metric}

	r.mu.Lock()
	h, ok := r.handles[key]
	if ok {
		delete(r.handles, key)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return h.Close(ctx)
}

// Len reports the number of open handles, for tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
