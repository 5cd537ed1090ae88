package groupchat

import (
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`@\S+`)

var similarityStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"and": {}, "or": {}, "but": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"for": {}, "with": {}, "that": {}, "this": {}, "it": {}, "i": {}, "you": {},
	"我": {}, "你": {}, "的": {}, "是": {}, "了": {}, "在": {}, "也": {}, "就": {},
}

var punctuationReplacer = strings.NewReplacer(
	",", " ", ".", " ", "!", " ", "?", " ", ";", " ", ":", " ",
	"\"", " ", "'", " ", "(", " ", ")", " ", "\n", " ", "\t", " ",
	"，", " ", "。", " ", "！", " ", "？", " ", "；", " ", "：", " ",
)

// extractKeywords strips @mentions and punctuation, lowercases, and drops
// stopwords, returning the remaining tokens as a set for Jaccard comparison.
func extractKeywords(content string) map[string]struct{} {
	cleaned := mentionPattern.ReplaceAllString(content, " ")
	cleaned = punctuationReplacer.Replace(cleaned)
	cleaned = strings.ToLower(cleaned)

	keywords := make(map[string]struct{})
	for _, tok := range strings.Fields(cleaned) {
		if _, stop := similarityStopwords[tok]; stop {
			continue
		}
		keywords[tok] = struct{}{}
	}
	return keywords
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// SimilarityDetector implements spec.md §4.9.1: it compares a candidate
// reply against the most recent AI replies in a group and flags it as a
// near-duplicate when the Jaccard similarity of their extracted keyword
// sets reaches the configured threshold.
type SimilarityDetector struct {
	lookback  int
	threshold float64
	enabled   bool
}

func NewSimilarityDetector(lookback int, threshold float64, enabled bool) *SimilarityDetector {
	return &SimilarityDetector{lookback: lookback, threshold: threshold, enabled: enabled}
}

// IsSimilar reports whether content duplicates one of the group's recent AI
// replies closely enough to suppress. recentAIReplies is newest-last;
// unrestricted disables the check entirely, matching the original's
// unrestricted_mode bypass.
func (d *SimilarityDetector) IsSimilar(content string, recentAIReplies []string, unrestricted bool) bool {
	if !d.enabled || unrestricted || d.threshold <= 0 {
		return false
	}
	lookback := recentAIReplies
	if d.lookback > 0 && len(lookback) > d.lookback {
		lookback = lookback[len(lookback)-d.lookback:]
	}
	candidate := extractKeywords(content)
	if len(candidate) == 0 {
		return false
	}
	for _, prior := range lookback {
		if jaccard(candidate, extractKeywords(prior)) >= d.threshold {
			return true
		}
	}
	return false
}
