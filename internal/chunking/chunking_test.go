package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/model"
)

func TestRecursiveCharacterSplitter_RespectsChunkSize(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("word ", 500)
	splitter := Build(model.ChunkingSpec{Strategy: "recursive_character", ChunkSize: 100, Overlap: 20})
	chunks := splitter.Split(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), 140) // size + separator slack
	}
}

func TestRecursiveCharacterSplitter_OverlapCarriesContext(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("abcdefghij", 50)
	splitter := Build(model.ChunkingSpec{Strategy: "recursive_character", ChunkSize: 50, Overlap: 10, Separators: []string{""}})
	chunks := splitter.Split(text)
	require.GreaterOrEqual(t, len(chunks), 2)
	tail := lastRunes(chunks[0].Text, 10)
	assert.True(t, strings.HasPrefix(chunks[1].Text, tail))
}

func TestRecursiveCharacterSplitter_SmallTextSingleChunk(t *testing.T) {
	t.Parallel()
	splitter := Build(model.ChunkingSpec{Strategy: "recursive_character", ChunkSize: 1000})
	chunks := splitter.Split("a short document")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short document", chunks[0].Text)
}

func TestBuild_SmartStrategyUsesTextSplitters(t *testing.T) {
	t.Parallel()
	splitter := Build(model.ChunkingSpec{Strategy: "smart", ChunkSize: 200})
	text := "# Title\n\nFirst paragraph with some content.\n\nSecond paragraph with more content here."
	chunks := splitter.Split(text)
	assert.NotEmpty(t, chunks)
}

func TestBuild_DefaultsToRecursiveCharacter(t *testing.T) {
	t.Parallel()
	splitter := Build(model.ChunkingSpec{})
	_, ok := splitter.(*recursiveCharacterSplitter)
	assert.True(t, ok)
}
