package retriever

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeWeightedScore_DedupsKeepsMaxSortsDesc(t *testing.T) {
	t.Parallel()
	kbA := []Hit{{Content: "apple", Score: 0.4, KBID: "a"}, {Content: "banana", Score: 0.9, KBID: "a"}}
	kbB := []Hit{{Content: "apple", Score: 0.8, KBID: "b"}, {Content: "cherry", Score: 0.3, KBID: "b"}}

	merged := merge(MergeWeightedScore, [][]Hit{kbA, kbB})
	require.Len(t, merged, 3)
	assert.Equal(t, "banana", merged[0].Content)
	assert.Equal(t, "apple", merged[1].Content)
	assert.Equal(t, 0.8, merged[1].Score, "keeps the max score across duplicates")
	assert.Equal(t, "cherry", merged[2].Content)
}

func TestMergeSimpleConcat_FirstWinsOnDuplicate(t *testing.T) {
	t.Parallel()
	kbA := []Hit{{Content: "apple", Score: 0.4, KBID: "a"}}
	kbB := []Hit{{Content: "apple", Score: 0.99, KBID: "b"}, {Content: "banana", Score: 0.5, KBID: "b"}}

	merged := merge(MergeSimpleConcat, [][]Hit{kbA, kbB})
	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].KBID, "first occurrence wins regardless of score")
	assert.Equal(t, "banana", merged[1].Content)
}

func TestMergeInterleave_RoundRobinsAcrossKBs(t *testing.T) {
	t.Parallel()
	kbA := []Hit{{Content: "a1"}, {Content: "a2"}}
	kbB := []Hit{{Content: "b1"}}
	kbC := []Hit{{Content: "c1"}, {Content: "c2"}}

	merged := merge(MergeInterleave, [][]Hit{kbA, kbB, kbC})
	require.Len(t, merged, 5)
	assert.Equal(t, []string{"a1", "b1", "c1", "a2", "c2"}, contents(merged))
}

func TestMergeInterleave_DedupsByContentHash(t *testing.T) {
	t.Parallel()
	kbA := []Hit{{Content: "shared"}}
	kbB := []Hit{{Content: "shared"}, {Content: "unique"}}

	merged := merge(MergeInterleave, [][]Hit{kbA, kbB})
	require.Len(t, merged, 2)
	assert.Equal(t, []string{"shared", "unique"}, contents(merged))
}

func contents(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Content
	}
	return out
}
