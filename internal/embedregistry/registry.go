// Package embedregistry implements C1: a process-wide, deduplicated registry
// of embedding model handles keyed by (provider, normalized model id,
// endpoint). Grounded on the teacher's lazy-singleton-with-double-checked
// mutex shape (internal/services.go's servicesMutex/services map) and its
// embeddings.go HTTP embedding client.
package embedregistry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/model"
)

// Embedder is the synchronous-from-the-caller's-view embedding handle
// interface. Implementations must be safe to call concurrently from worker
// pools.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type key struct {
	provider string
	model    string
	endpoint string
}

func keyOf(spec model.EmbeddingSpec) key {
	id := spec.Model
	if spec.Provider == "local" {
		id = spec.LocalPath
	}
	return key{
		provider: strings.ToLower(spec.Provider),
		model:    id,
		endpoint: spec.Endpoint,
	}
}

// Registry is the process-wide model dedup table.
type Registry struct {
	mu       sync.Mutex
	handles  map[key]Embedder
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[key]Embedder)}
}

// GetOrCreate returns the shared Embedder for spec, constructing it while
// holding the registry mutex if this is the first caller to ask for this
// key. Models are never reloaded afterwards within the process.
func (r *Registry) GetOrCreate(ctx context.Context, spec model.EmbeddingSpec) (Embedder, error) {
	k := keyOf(spec)

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[k]; ok {
		return h, nil
	}

	h, err := r.construct(spec)
	if err != nil {
		return nil, err
	}
	r.handles[k] = h
	return h, nil
}

func (r *Registry) construct(spec model.EmbeddingSpec) (Embedder, error) {
	switch spec.Provider {
	case "local":
		if spec.LocalPath == "" {
			return nil, apperr.New(apperr.BadConfig, "local embedding provider requires local_path")
		}
		if _, err := os.Stat(spec.LocalPath); err != nil {
			return nil, apperr.Wrap(apperr.NotFound, fmt.Sprintf("local model path %q", spec.LocalPath), err)
		}
		return &localEmbedder{path: spec.LocalPath}, nil
	case "", "openai", "azure":
		if spec.Credentials == "" && spec.Endpoint == "" {
			return nil, apperr.New(apperr.BadConfig, "http embedding provider requires credentials or endpoint")
		}
		return newHTTPEmbedder(spec), nil
	default:
		return nil, apperr.New(apperr.BadConfig, fmt.Sprintf("unknown embedding provider %q", spec.Provider))
	}
}

// Clear destroys all handles. Intended for tests only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = make(map[key]Embedder)
}

// Len reports the number of distinct handles currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
