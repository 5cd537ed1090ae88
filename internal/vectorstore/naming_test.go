package vectorstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeCollectionName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
	}{
		{"plain", "my-kb"},
		{"spaces and symbols", "My KB! #1"},
		{"too short", "a"},
		{"leading digit ok", "1kb"},
		{"non alnum only", "###"},
		{"very long", strings.Repeat("x", 200)},
		{"ends in separator after sanitize", "kb---"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := SanitizeCollectionName(tc.input)
			assert.GreaterOrEqual(t, len(got), 3)
			assert.LessOrEqual(t, len(got), 63)
			assert.True(t, isAlnum(got[0]), "must start alnum: %q", got)
			assert.True(t, isAlnum(got[len(got)-1]), "must end alnum: %q", got)
			assert.False(t, strings.Contains(got, "--"))
			assert.False(t, strings.Contains(got, "__"))
		})
	}
}

func TestSanitizeCollectionName_Deterministic(t *testing.T) {
	t.Parallel()
	a := SanitizeCollectionName("###")
	b := SanitizeCollectionName("###")
	assert.Equal(t, a, b)
}

func TestSanitizeFolderName(t *testing.T) {
	t.Parallel()

	got := SanitizeFolderName(`weird/name:with*bad?chars`)
	assert.NotContains(t, got, "/")
	assert.NotContains(t, got, ":")
	assert.NotContains(t, got, "*")
	assert.NotContains(t, got, "?")

	empty := SanitizeFolderName("...   ")
	assert.True(t, strings.HasPrefix(empty, "collection_"))

	long := SanitizeFolderName(strings.Repeat("a", 500))
	assert.LessOrEqual(t, len(long), 100)
}
