package groupchat

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/manifold-chat/core/internal/model"
)

// TriggerType is the kind of message that started this decision cycle.
type TriggerType string

const (
	TriggerHuman    TriggerType = "human"
	TriggerAtMention TriggerType = "at_mention"
	TriggerAIMessage TriggerType = "ai_message"
)

// consecutiveAIMultiplier is spec.md §4.9 step 6's table, keyed by the
// group's running consecutive-AI-reply count; 3 and above share the last
// entry.
var consecutiveAIMultiplier = map[int]float64{0: 1.0, 1: 0.8, 2: 0.5, 3: 0.2}

func consecutiveMultiplierFor(count int) float64 {
	if count >= 3 {
		return consecutiveAIMultiplier[3]
	}
	if m, ok := consecutiveAIMultiplier[count]; ok {
		return m
	}
	return consecutiveAIMultiplier[3]
}

const denseAIMultiplier = 0.5

// Situation is the composed scheduling parameters for one decision cycle.
type Situation struct {
	Activity               model.ActivityTier
	Trigger                TriggerType
	MaxConcurrent          int
	MinDelayGap            float64
	ProbabilityMultiplier  float64
}

// AnalyzeSituation implements spec.md §4.9 step 6's situation analysis:
// activity level from messages-in-last-5-min, trigger type, the
// consecutive-AI multiplier, and the AI-density penalty.
func AnalyzeSituation(cfg model.GroupStrategyConfig, recent []*model.GroupMessage, trigger TriggerType, consecutiveAICount int, now time.Time) Situation {
	recent5min := 0
	for _, m := range recent {
		if now.Sub(m.Timestamp) < 5*time.Minute {
			recent5min++
		}
	}
	activity := model.ActivityCold
	switch {
	case recent5min > 10:
		activity = model.ActivityHot
	case recent5min >= 3:
		activity = model.ActivityWarm
	}
	tuning := cfg.ActivityByTier[activity]

	triggerMax, ok := cfg.TriggerMaxConcurrent[string(trigger)]
	if !ok {
		triggerMax = tuning.MaxConcurrent
	}
	maxConcurrent := tuning.MaxConcurrent
	if triggerMax < maxConcurrent {
		maxConcurrent = triggerMax
	}

	last5 := recent
	if len(last5) > 5 {
		last5 = last5[len(last5)-5:]
	}
	aiCount := 0
	for _, m := range last5 {
		if m.SenderType == "ai" {
			aiCount++
		}
	}
	multiplier := consecutiveMultiplierFor(consecutiveAICount)
	if aiCount > 3 {
		multiplier *= denseAIMultiplier
	}

	return Situation{
		Activity:              activity,
		Trigger:               trigger,
		MaxConcurrent:         maxConcurrent,
		MinDelayGap:           tuning.MinDelayGap,
		ProbabilityMultiplier: multiplier,
	}
}

// personality is the per-AI behavioral archetype the realism pass buckets
// each member into, by a stable hash of its id.
type personality string

const (
	personalityActive    personality = "active"
	personalityBalanced  personality = "balanced"
	personalityCautious  personality = "cautious"
)

var personalityFactor = map[personality]float64{
	personalityActive:   1.2,
	personalityBalanced: 1.0,
	personalityCautious: 0.8,
}

var personalityMinInterval = map[personality]time.Duration{
	personalityActive:   1 * time.Second,
	personalityBalanced: 2 * time.Second,
	personalityCautious: 3 * time.Second,
}

func stableHash(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

func personalityFor(memberID string) personality {
	bucket := stableHash(memberID) % 100
	switch {
	case bucket < 30:
		return personalityActive
	case bucket < 60:
		return personalityBalanced
	default:
		return personalityCautious
	}
}

// ApplyRealism implements the realism pass: bucket each candidate into a
// stable personality, scale its score by that bucket's factor, and halve
// the score again if the member replied more recently than its bucket's
// minimum interval allows.
func ApplyRealism(candidates []Candidate, situation Situation, now time.Time) []Candidate {
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		p := personalityFor(c.Member.ID)
		c.Probability = clamp01(c.Probability * situation.ProbabilityMultiplier * personalityFactor[p])
		if !c.Member.LastReplyAt.IsZero() && now.Sub(c.Member.LastReplyAt) < personalityMinInterval[p] {
			c.Probability *= 0.5
		}
		out[i] = c
	}
	return out
}

// SelectForConcurrency keeps every mentioned candidate (they bypass the
// concurrency cap) and fills remaining slots with the highest-scoring
// unmentioned candidates, per spec.md §4.9 step 6's final selection.
func SelectForConcurrency(candidates []Candidate, maxConcurrent int) []Candidate {
	var mentioned, rest []Candidate
	for _, c := range candidates {
		if c.Mentioned {
			mentioned = append(mentioned, c)
		} else {
			rest = append(rest, c)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Probability > rest[j].Probability })

	remaining := maxConcurrent - len(mentioned)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > len(rest) {
		remaining = len(rest)
	}
	selected := append([]Candidate{}, mentioned...)
	selected = append(selected, rest[:remaining]...)
	return selected
}

// ScheduledReply is one AI selected to reply, with its tiered delay.
type ScheduledReply struct {
	Candidate Candidate
	Delay     time.Duration
}

// DelayTier computes spec.md §4.9 step 7's tiered delay schedule: mentioned
// candidates sort first, then by score descending; the first gets a base
// delay drawn from its tier's range, and every following reply stacks
// prevDelay + minDelayGap on top.
func DelayTier(selected []Candidate, cfg model.GroupStrategyConfig, minDelayGap float64, rng *rand.Rand) []ScheduledReply {
	if len(selected) == 0 {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	ordered := append([]Candidate{}, selected...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Mentioned != ordered[j].Mentioned {
			return ordered[i].Mentioned
		}
		return ordered[i].Probability > ordered[j].Probability
	})

	out := make([]ScheduledReply, len(ordered))
	var prevDelay float64
	for i, c := range ordered {
		var delay float64
		if i == 0 {
			delay = baseDelayFor(c, cfg, rng)
		} else {
			delay = prevDelay + minDelayGap
		}
		out[i] = ScheduledReply{Candidate: c, Delay: time.Duration(delay * float64(time.Second))}
		prevDelay = delay
	}
	return out
}

func baseDelayFor(c Candidate, cfg model.GroupStrategyConfig, rng *rand.Rand) float64 {
	switch {
	case c.MentionedNow:
		return randRange(rng, cfg.MentionDelay.Min, cfg.MentionDelay.Max)
	case c.Probability >= highScoreThreshold:
		return randRange(rng, cfg.HighDelay.Min, cfg.HighDelay.Max)
	default:
		return randRange(rng, cfg.NormalDelay.Min, cfg.NormalDelay.Max)
	}
}

func randRange(rng *rand.Rand, min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + rng.Float64()*(max-min)
}
