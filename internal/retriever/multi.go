package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/manifold-chat/core/internal/model"
)

// MergeStrategy controls how per-KB hit lists are combined into one ranked
// result set.
type MergeStrategy string

const (
	MergeWeightedScore MergeStrategy = "weighted_score"
	MergeSimpleConcat  MergeStrategy = "simple_concat"
	MergeInterleave    MergeStrategy = "interleave"
)

const (
	defaultConcurrency  = 5
	maxTopKPerKB        = 10
	fallbackThreshold   = 0.5
	defaultFinalTopK    = 10
)

// MultiOptions configures a fan-out retrieval across several knowledge
// bases.
type MultiOptions struct {
	Strategy          MergeStrategy
	FinalTopK         int
	SessionThreshold  *float64 // session-level default, used when a KB has none configured
	Concurrency       int
}

// RetrieveMulti dispatches RetrieveSingle against every kb concurrently
// (bounded by a semaphore of Concurrency, default 5), isolates per-KB
// failures to an empty result for that KB, and merges the per-KB hit lists
// per opts.Strategy.
func (r *Retriever) RetrieveMulti(ctx context.Context, kbs []model.KnowledgeBase, query string, opts MultiOptions) ([]Hit, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	finalTopK := opts.FinalTopK
	if finalTopK <= 0 {
		finalTopK = defaultFinalTopK
	}

	perKB := make([][]Hit, len(kbs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, kb := range kbs {
		i, kb := i, kb
		g.Go(func() error {
			topK := kb.Search.TopK
			if topK <= 0 || topK > maxTopKPerKB {
				topK = maxTopKPerKB
			}
			threshold := resolveThreshold(kb, opts.SessionThreshold)
			hits, err := r.RetrieveSingle(gctx, kb, query, topK, &threshold)
			if err != nil {
				r.log.Warn().Str("kb_id", kb.ID).Err(err).Msg("knowledge base retrieval failed, isolating")
				perKB[i] = nil
				return nil
			}
			perKB[i] = hits
			return nil
		})
	}
	// g.Go bodies never return a non-nil error, so Wait always returns nil; a
	// KB whose search fails or is cut short by ctx just contributes no hits.
	_ = g.Wait()

	merged := merge(opts.Strategy, perKB)
	if len(merged) > finalTopK {
		merged = merged[:finalTopK]
	}
	return merged, nil
}

func resolveThreshold(kb model.KnowledgeBase, sessionDefault *float64) float64 {
	if kb.Search.Threshold > 0 {
		return kb.Search.Threshold
	}
	if sessionDefault != nil {
		return *sessionDefault
	}
	return fallbackThreshold
}

func contentHash(h Hit) string {
	sum := sha256.Sum256([]byte(h.Content))
	return hex.EncodeToString(sum[:])
}

func merge(strategy MergeStrategy, perKB [][]Hit) []Hit {
	switch strategy {
	case MergeSimpleConcat:
		return mergeSimpleConcat(perKB)
	case MergeInterleave:
		return mergeInterleave(perKB)
	default:
		return mergeWeightedScore(perKB)
	}
}

func mergeWeightedScore(perKB [][]Hit) []Hit {
	best := make(map[string]Hit)
	order := make([]string, 0)
	for _, hits := range perKB {
		for _, h := range hits {
			key := contentHash(h)
			if existing, ok := best[key]; !ok || h.Score > existing.Score {
				if _, ok := best[key]; !ok {
					order = append(order, key)
				}
				best[key] = h
			}
		}
	}
	out := make([]Hit, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sortByScoreDesc(out)
	return out
}

func mergeSimpleConcat(perKB [][]Hit) []Hit {
	seen := make(map[string]bool)
	out := make([]Hit, 0)
	for _, hits := range perKB {
		for _, h := range hits {
			key := contentHash(h)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, h)
		}
	}
	return out
}

func mergeInterleave(perKB [][]Hit) []Hit {
	seen := make(map[string]bool)
	out := make([]Hit, 0)
	cursor := make([]int, len(perKB))
	progress := true
	for progress {
		progress = false
		for i, hits := range perKB {
			if cursor[i] >= len(hits) {
				continue
			}
			h := hits[cursor[i]]
			cursor[i]++
			progress = true
			key := contentHash(h)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, h)
		}
	}
	return out
}

func sortByScoreDesc(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
