// Package orchestrator implements C8: the per-session state machine that
// drives a tool-calling loop around a streamed LLM turn, with parallel tool
// execution, citation deduplication, and cooperative cancellation.
package orchestrator

import (
	"sync"

	"github.com/manifold-chat/core/internal/model"
)

// State is one session's place in the turn state machine: idle →
// thinking → {tool_calling | generating} → completed, with error reachable
// from any state.
type State string

const (
	StateIdle        State = "idle"
	StateThinking    State = "thinking"
	StateToolCalling State = "tool_calling"
	StateGenerating  State = "generating"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// StatusNotification is pushed to the attached channel on every state
// transition.
type StatusNotification struct {
	SessionID string
	State     State
	Detail    string
}

// StatusSink receives per-session state transitions; a nil sink is a no-op.
type StatusSink interface {
	Publish(n StatusNotification)
}

// scratch is the per-session, per-turn working set described in spec.md
// §4.8. Its lifetime is exactly one user turn; runTurn clears it on exit.
type scratch struct {
	mu sync.Mutex

	accumulated     []model.RichCitation // every search_knowledge_base hit seen this turn, raw
	markers         map[string]int       // ref_id -> stable ref_marker, across dedup calls
	lastRefMarker   int
	toolCache       map[string]string
	toolStats       map[string]toolStat
	lastIterHadBoth bool
	graphSessionIDs []string
}

type toolStat struct {
	Calls     int
	Failures  int
	CacheHits int
}

func newScratch() *scratch {
	return &scratch{
		toolCache: make(map[string]string),
		toolStats: make(map[string]toolStat),
	}
}

func (s *scratch) recordCall(tool string, cached, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.toolStats[tool]
	st.Calls++
	if cached {
		st.CacheHits++
	}
	if failed {
		st.Failures++
	}
	s.toolStats[tool] = st
}

func (s *scratch) addCitations(hits []model.RichCitation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulated = append(s.accumulated, hits...)
}

func (s *scratch) recordGraphSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphSessionIDs = append(s.graphSessionIDs, id)
}
