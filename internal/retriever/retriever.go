// Package retriever converts nearest-neighbor vector hits into scored,
// threshold-filtered results for a single knowledge base, and fans that
// out across many knowledge bases with per-KB failure isolation.
package retriever

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/embedregistry"
	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/vectorstore"
)

// Hit is one scored retrieval result, fully attributed back to its
// originating knowledge base and document.
type Hit struct {
	Content      string
	Score        float64
	Distance     float64
	Metadata     map[string]string
	KBID         string
	KBName       string
	ChunkID      string
	DocID        string
	DocumentName string
}

// scoreFromDistance converts a raw backend distance into a [0,1] similarity
// score per the metric in force for the collection. cosine and ip distances
// are assumed already normalized by the backend; l2 is squared Euclidean
// distance over normalized vectors, halved to land in the same range.
func scoreFromDistance(metric model.DistanceMetric, d float64) float64 {
	var score float64
	switch metric {
	case model.MetricL2:
		score = 1 - d/2
	default: // cosine, ip
		score = 1 - d
	}
	if score < 0 {
		return 0
	}
	return score
}

// Retriever wraps the registries needed to turn a query string into scored
// hits against one or many knowledge bases.
type Retriever struct {
	embeds  *embedregistry.Registry
	vectors *vectorstore.Registry
	log     zerolog.Logger
}

// New builds a Retriever over the shared embedding and vector-store
// registries.
func New(embeds *embedregistry.Registry, vectors *vectorstore.Registry, log zerolog.Logger) *Retriever {
	return &Retriever{embeds: embeds, vectors: vectors, log: log}
}

// RetrieveSingle embeds query with kb's configured embedder, searches kb's
// vector collection for the k nearest chunks, converts distances to scores,
// filters by threshold when provided, and returns results in descending
// score order.
func (r *Retriever) RetrieveSingle(ctx context.Context, kb model.KnowledgeBase, query string, k int, threshold *float64) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	embedder, err := r.embeds.GetOrCreate(ctx, kb.Embed)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "acquire embedder for retrieval", err)
	}
	vec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "embed query", err)
	}
	handle, err := r.vectors.GetOrCreate(ctx, kb.Store, len(vec))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "acquire vector handle for retrieval", err)
	}
	rawHits, err := handle.SimilaritySearch(ctx, vec, k)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "similarity search", err)
	}

	hits := make([]Hit, 0, len(rawHits))
	for _, rh := range rawHits {
		score := scoreFromDistance(kb.Store.Metric, rh.Distance)
		if threshold != nil && score < *threshold {
			continue
		}
		hits = append(hits, Hit{
			Content:      rh.Text,
			Score:        score,
			Distance:     rh.Distance,
			Metadata:     rh.Metadata,
			KBID:         kb.ID,
			KBName:       kb.Name,
			ChunkID:      rh.ID,
			DocID:        rh.Metadata["doc_id"],
			DocumentName: rh.Metadata["filename"],
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}
