package groupchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityDetector_FlagsNearDuplicate(t *testing.T) {
	t.Parallel()
	d := NewSimilarityDetector(5, 0.5, true)
	recent := []string{"the weather today is sunny and warm"}
	assert.True(t, d.IsSimilar("weather today sunny warm outside", recent, false))
}

func TestSimilarityDetector_DistinctContentNotFlagged(t *testing.T) {
	t.Parallel()
	d := NewSimilarityDetector(5, 0.5, true)
	recent := []string{"the weather today is sunny and warm"}
	assert.False(t, d.IsSimilar("quarterly revenue exceeded projections", recent, false))
}

func TestSimilarityDetector_DisabledAlwaysFalse(t *testing.T) {
	t.Parallel()
	d := NewSimilarityDetector(5, 0.1, false)
	assert.False(t, d.IsSimilar("identical text here", []string{"identical text here"}, false))
}

func TestSimilarityDetector_UnrestrictedAlwaysFalse(t *testing.T) {
	t.Parallel()
	d := NewSimilarityDetector(5, 0.1, true)
	assert.False(t, d.IsSimilar("identical text here", []string{"identical text here"}, true))
}

func TestSimilarityDetector_IgnoresMentionsAndPunctuation(t *testing.T) {
	t.Parallel()
	d := NewSimilarityDetector(5, 0.9, true)
	assert.True(t, d.IsSimilar("@alice, great point!", []string{"great point"}, false))
}

func TestSimilarityDetector_LookbackLimitsComparisonWindow(t *testing.T) {
	t.Parallel()
	d := NewSimilarityDetector(1, 0.9, true)
	recent := []string{"great point about golang", "totally unrelated content here"}
	assert.False(t, d.IsSimilar("great point about golang", recent, false), "only the most recent reply is in the lookback window")
}
