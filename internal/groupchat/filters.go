// Package groupchat implements C9: the group chat candidate pipeline that
// decides which AI members reply to an incoming message, how confidently,
// and in what order, before handing each selected reply to the streaming
// orchestrator (C8).
package groupchat

import (
	"strings"
	"time"

	"github.com/manifold-chat/core/internal/model"
)

// recentMentionBoost is spec.md §4.9 step 3's Mention-filter boost table,
// keyed by how many of the last lookback messages mentioned this AI.
var recentMentionBoost = map[int]float64{1: 0.1, 2: 0.25, 3: 0.45}

const recentMentionBoostAtCap = 0.7

func mentionBoostFor(count int) float64 {
	if count <= 0 {
		return 0
	}
	if b, ok := recentMentionBoost[count]; ok {
		return b
	}
	return recentMentionBoostAtCap
}

// FilterOutcome records one filter's verdict for diagnostics/logging,
// mirroring the (passed, reason) pairs every filter in the original
// pipeline returns.
type FilterOutcome struct {
	Name   string
	Passed bool
	Reason string
}

// Candidate is one AI member surviving the filter chain with a composed
// reply probability and the mention/keyword context the scheduler needs.
type Candidate struct {
	Member       *model.GroupMember
	Probability  float64
	Mentioned    bool // mentioned now, or mentioned >=2 times recently
	MentionedNow bool
	Outcomes     []FilterOutcome
}

func isMentioned(member *model.GroupMember, msg *model.GroupMessage) bool {
	for _, m := range msg.Mentions {
		if m == member.ID || (member.SessionID != "" && m == member.SessionID) {
			return true
		}
	}
	return false
}

func isInCooldown(member *model.GroupMember, now time.Time) bool {
	if member.LastReplyAt.IsZero() || member.Behavior.CooldownSeconds <= 0 {
		return false
	}
	return now.Sub(member.LastReplyAt) < time.Duration(member.Behavior.CooldownSeconds)*time.Second
}

func matchedKeywords(member *model.GroupMember, content string) []string {
	if len(member.Behavior.InterestKeywords) == 0 {
		return nil
	}
	lower := strings.ToLower(content)
	var matched []string
	for _, kw := range member.Behavior.InterestKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// EvaluateCandidates runs the filter chain (spec.md §4.9 step 3) and
// probability composition (step 4) over every online AI member, returning
// one Candidate per member whose composed probability is greater than zero.
func EvaluateCandidates(msg *model.GroupMessage, members []*model.GroupMember, now time.Time) []Candidate {
	candidates := make([]Candidate, 0, len(members))
	for _, member := range members {
		if !member.IsAI {
			continue
		}
		c, ok := evaluateOne(msg, member, now)
		if ok {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

func evaluateOne(msg *model.GroupMessage, member *model.GroupMember, now time.Time) (Candidate, bool) {
	var outcomes []FilterOutcome

	// OnlineStatus: hard.
	if member.Presence != model.PresenceOnline {
		outcomes = append(outcomes, FilterOutcome{"online_status", false, "offline"})
		return Candidate{Member: member, Outcomes: outcomes}, false
	}
	outcomes = append(outcomes, FilterOutcome{"online_status", true, "online"})

	// SelfMessage: hard.
	if msg.SenderID == member.ID {
		outcomes = append(outcomes, FilterOutcome{"self_message", false, "own message"})
		return Candidate{Member: member, Outcomes: outcomes}, false
	}
	outcomes = append(outcomes, FilterOutcome{"self_message", true, "not own message"})

	mentionedNow := isMentioned(member, msg)
	mentionBoost := 0.0
	if mentionedNow {
		mentionBoost = member.Behavior.MentionReplyProb - member.Behavior.BaseReplyProbability
	}
	freqBoost := mentionBoostFor(member.RecentMentionCount)
	mentionedRecently := member.RecentMentionCount >= 2
	waived := mentionedNow || mentionedRecently

	// Cooldown: soft.
	inCooldown := isInCooldown(member, now)
	if inCooldown && !waived {
		outcomes = append(outcomes, FilterOutcome{"cooldown", false, "in cooldown"})
	} else {
		outcomes = append(outcomes, FilterOutcome{"cooldown", true, "cooldown clear or waived"})
	}

	// ConsecutiveReply: soft, can zero the probability outright.
	consecutiveExceeded := member.Behavior.MaxConsecutiveReplies > 0 &&
		member.ConsecutiveReplyCount >= member.Behavior.MaxConsecutiveReplies
	if consecutiveExceeded && !waived {
		outcomes = append(outcomes, FilterOutcome{"consecutive_reply", false, "consecutive cap reached"})
	} else {
		outcomes = append(outcomes, FilterOutcome{"consecutive_reply", true, "under consecutive cap or waived"})
	}

	// Mention: informational.
	if mentionedNow {
		outcomes = append(outcomes, FilterOutcome{"mention", true, "mentioned now"})
	} else if member.RecentMentionCount > 0 {
		outcomes = append(outcomes, FilterOutcome{"mention", true, "mentioned recently"})
	} else {
		outcomes = append(outcomes, FilterOutcome{"mention", true, "not mentioned"})
	}

	// Keyword: informational.
	matched := matchedKeywords(member, msg.Content)
	if len(matched) > 0 {
		outcomes = append(outcomes, FilterOutcome{"keyword", true, "matched: " + strings.Join(matched, ", ")})
	} else {
		outcomes = append(outcomes, FilterOutcome{"keyword", true, "no match"})
	}

	prob := member.Behavior.BaseReplyProbability
	if mentionedNow {
		prob = clamp01(prob + mentionBoost)
	}
	if freqBoost > 0 {
		prob = clamp01(prob + freqBoost)
	}
	if len(matched) > 0 {
		prob = clamp01(prob + member.Behavior.InterestBoost)
	}

	if waived {
		// Mentioned members are exempt from both soft penalties.
	} else {
		if inCooldown {
			prob *= 0.1
		}
		if consecutiveExceeded {
			prob = 0
		}
	}

	prob = clamp01(prob)
	if prob <= 0 {
		return Candidate{Member: member, Outcomes: outcomes}, false
	}

	return Candidate{
		Member:       member,
		Probability:  prob,
		Mentioned:    waived,
		MentionedNow: mentionedNow,
		Outcomes:     outcomes,
	}, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
