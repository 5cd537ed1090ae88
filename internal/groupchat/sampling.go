package groupchat

import (
	"math/rand"
	"sort"
)

const (
	fewCandidatesThreshold = 3
	highScoreThreshold     = 0.7
	midScoreThreshold      = 0.3
)

// Sample implements spec.md §4.9 step 5: keep everything when candidates are
// few or unrestricted_mode is on; otherwise keep all mentioned candidates
// and tier-sample the rest by score, falling back to the single
// highest-scored candidate if tiering would otherwise drop everyone.
func Sample(candidates []Candidate, highKeepRate, lowKeepRate float64, unrestricted bool, rng *rand.Rand) []Candidate {
	if unrestricted || len(candidates) <= fewCandidatesThreshold {
		return candidates
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	var mentioned, rest []Candidate
	for _, c := range candidates {
		if c.Mentioned {
			mentioned = append(mentioned, c)
		} else {
			rest = append(rest, c)
		}
	}

	kept := append([]Candidate{}, mentioned...)
	for _, c := range rest {
		switch {
		case c.Probability >= highScoreThreshold:
			if rng.Float64() < highKeepRate {
				kept = append(kept, c)
			}
		case c.Probability >= midScoreThreshold:
			if rng.Float64() < c.Probability {
				kept = append(kept, c)
			}
		default:
			if rng.Float64() < lowKeepRate {
				kept = append(kept, c)
			}
		}
	}

	if len(kept) == 0 && len(candidates) > 0 {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Probability > best.Probability {
				best = c
			}
		}
		kept = append(kept, best)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Probability > kept[j].Probability })
	return kept
}
