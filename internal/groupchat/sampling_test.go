package groupchat

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/manifold-chat/core/internal/model"
)

func candWithProb(id string, prob float64, mentioned bool) Candidate {
	return Candidate{
		Member:      &model.GroupMember{ID: id},
		Probability: prob,
		Mentioned:   mentioned,
	}
}

func TestSample_FewCandidatesKeepsAll(t *testing.T) {
	t.Parallel()
	cands := []Candidate{candWithProb("a", 0.1, false), candWithProb("b", 0.2, false)}
	out := Sample(cands, 1, 1, false, rand.New(rand.NewSource(1)))
	assert.Len(t, out, 2)
}

func TestSample_UnrestrictedKeepsAll(t *testing.T) {
	t.Parallel()
	cands := make([]Candidate, 10)
	for i := range cands {
		cands[i] = candWithProb(string(rune('a'+i)), 0.05, false)
	}
	out := Sample(cands, 0, 0, true, rand.New(rand.NewSource(1)))
	assert.Len(t, out, 10)
}

func TestSample_MentionedAlwaysKept(t *testing.T) {
	t.Parallel()
	cands := make([]Candidate, 5)
	for i := range cands {
		cands[i] = candWithProb(string(rune('a'+i)), 0.05, false)
	}
	cands = append(cands, candWithProb("mentioned", 0.01, true))

	out := Sample(cands, 0, 0, false, rand.New(rand.NewSource(1)))
	var found bool
	for _, c := range out {
		if c.Member.ID == "mentioned" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSample_NeverReturnsEmptyWhenCandidatesExist(t *testing.T) {
	t.Parallel()
	cands := make([]Candidate, 6)
	for i := range cands {
		cands[i] = candWithProb(string(rune('a'+i)), 0.01, false)
	}
	out := Sample(cands, 0, 0, false, rand.New(rand.NewSource(7)))
	assert.NotEmpty(t, out)
}

func TestSample_SortedByProbabilityDescending(t *testing.T) {
	t.Parallel()
	cands := []Candidate{
		candWithProb("a", 0.9, true),
		candWithProb("b", 0.95, true),
		candWithProb("c", 0.8, true),
	}
	out := Sample(cands, 1, 1, false, rand.New(rand.NewSource(1)))
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Probability, out[i].Probability)
	}
}
