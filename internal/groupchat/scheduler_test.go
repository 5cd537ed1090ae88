package groupchat

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/model"
)

func testStrategyConfig() model.GroupStrategyConfig {
	return model.GroupStrategyConfig{
		HighKeepRate: 1,
		LowKeepRate:  1,
		MentionDelay: model.TierDelay{Min: 0.5, Max: 1.5},
		HighDelay:    model.TierDelay{Min: 1, Max: 2},
		NormalDelay:  model.TierDelay{Min: 2, Max: 4},
		ActivityByTier: map[model.ActivityTier]model.ActivityTuning{
			model.ActivityCold: {MaxConcurrent: 1, MinDelayGap: 1},
			model.ActivityWarm: {MaxConcurrent: 2, MinDelayGap: 2},
			model.ActivityHot:  {MaxConcurrent: 3, MinDelayGap: 3},
		},
		TriggerMaxConcurrent: map[string]int{
			"human":      3,
			"at_mention": 3,
			"ai_message": 1,
		},
		MaxConcurrentRepliesPerMessage: 2,
		AIToAIDelaySeconds:             1,
		PerGroupLLMConcurrency:         2,
	}
}

func TestAnalyzeSituation_ActivityTiers(t *testing.T) {
	t.Parallel()
	cfg := testStrategyConfig()
	now := time.Now()

	cold := AnalyzeSituation(cfg, nil, TriggerHuman, 0, now)
	assert.Equal(t, model.ActivityCold, cold.Activity)

	var warmMsgs []*model.GroupMessage
	for i := 0; i < 4; i++ {
		warmMsgs = append(warmMsgs, &model.GroupMessage{Timestamp: now})
	}
	warm := AnalyzeSituation(cfg, warmMsgs, TriggerHuman, 0, now)
	assert.Equal(t, model.ActivityWarm, warm.Activity)

	var hotMsgs []*model.GroupMessage
	for i := 0; i < 11; i++ {
		hotMsgs = append(hotMsgs, &model.GroupMessage{Timestamp: now})
	}
	hot := AnalyzeSituation(cfg, hotMsgs, TriggerHuman, 0, now)
	assert.Equal(t, model.ActivityHot, hot.Activity)
}

func TestAnalyzeSituation_TriggerCapsConcurrency(t *testing.T) {
	t.Parallel()
	cfg := testStrategyConfig()
	now := time.Now()
	var hotMsgs []*model.GroupMessage
	for i := 0; i < 11; i++ {
		hotMsgs = append(hotMsgs, &model.GroupMessage{Timestamp: now})
	}
	situation := AnalyzeSituation(cfg, hotMsgs, TriggerAIMessage, 0, now)
	assert.Equal(t, 1, situation.MaxConcurrent, "ai_message trigger caps concurrency below hot activity's own cap")
}

func TestAnalyzeSituation_ConsecutiveAndDensityMultipliers(t *testing.T) {
	t.Parallel()
	cfg := testStrategyConfig()
	now := time.Now()

	s0 := AnalyzeSituation(cfg, nil, TriggerHuman, 0, now)
	assert.InDelta(t, 1.0, s0.ProbabilityMultiplier, 1e-9)

	s3 := AnalyzeSituation(cfg, nil, TriggerHuman, 3, now)
	assert.InDelta(t, 0.2, s3.ProbabilityMultiplier, 1e-9)

	s10 := AnalyzeSituation(cfg, nil, TriggerHuman, 10, now)
	assert.InDelta(t, 0.2, s10.ProbabilityMultiplier, 1e-9, "counts above 3 share the capped multiplier")

	var dense []*model.GroupMessage
	for i := 0; i < 5; i++ {
		dense = append(dense, &model.GroupMessage{Timestamp: now, SenderType: "ai"})
	}
	sDense := AnalyzeSituation(cfg, dense, TriggerHuman, 0, now)
	assert.InDelta(t, 0.5, sDense.ProbabilityMultiplier, 1e-9, "dense ai recent messages apply an extra 0.5x")
}

func TestPersonalityFor_StableAcrossCalls(t *testing.T) {
	t.Parallel()
	p1 := personalityFor("ai-123")
	p2 := personalityFor("ai-123")
	assert.Equal(t, p1, p2)
}

func TestApplyRealism_AppliesFactorAndMinIntervalPenalty(t *testing.T) {
	t.Parallel()
	now := time.Now()
	member := &model.GroupMember{ID: "ai-active-bucket", LastReplyAt: now.Add(-100 * time.Millisecond)}
	cand := Candidate{Member: member, Probability: 0.5}
	situation := Situation{ProbabilityMultiplier: 1.0}

	out := ApplyRealism([]Candidate{cand}, situation, now)
	require.Len(t, out, 1)
	assert.LessOrEqual(t, out[0].Probability, cand.Probability)
}

func TestSelectForConcurrency_MentionedBypassesCapFillsRestByScore(t *testing.T) {
	t.Parallel()
	mentioned := candWithProb("m1", 0.1, true)
	high := candWithProb("h1", 0.9, false)
	low := candWithProb("l1", 0.2, false)

	out := SelectForConcurrency([]Candidate{low, mentioned, high}, 2)
	require.Len(t, out, 2)
	ids := map[string]bool{out[0].Member.ID: true, out[1].Member.ID: true}
	assert.True(t, ids["m1"])
	assert.True(t, ids["h1"])
}

func TestDelayTier_StacksDelaysWithMinGap(t *testing.T) {
	t.Parallel()
	cfg := testStrategyConfig()
	rng := rand.New(rand.NewSource(42))
	cands := []Candidate{
		candWithProb("a", 0.5, false),
		candWithProb("b", 0.4, false),
	}
	out := DelayTier(cands, cfg, 2, rng)
	require.Len(t, out, 2)
	assert.GreaterOrEqual(t, out[1].Delay.Seconds(), out[0].Delay.Seconds()+2-1e-9)
}

func TestDelayTier_MentionedGetsMentionDelayRange(t *testing.T) {
	t.Parallel()
	cfg := testStrategyConfig()
	rng := rand.New(rand.NewSource(3))
	cands := []Candidate{{Member: &model.GroupMember{ID: "m"}, Probability: 0.95, Mentioned: true, MentionedNow: true}}
	out := DelayTier(cands, cfg, 1, rng)
	require.Len(t, out, 1)
	assert.GreaterOrEqual(t, out[0].Delay.Seconds(), cfg.MentionDelay.Min)
	assert.LessOrEqual(t, out[0].Delay.Seconds(), cfg.MentionDelay.Max)
}

func TestDelayTier_EmptyInputReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, DelayTier(nil, testStrategyConfig(), 1, nil))
}
