// Package groupstore provides the in-process default implementations of
// C9's Store/Broadcaster/Directory/ConfigProvider seams, the same way
// cmd/agentd/main.go in the teacher repo falls back to a deterministic
// in-process mock when no external OpenAI credentials are configured: a
// real deployment swaps these for Postgres persistence and a websocket hub,
// but the entrypoint can stand up and exercise the group chat pipeline
// without either.
package groupstore

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/model"
)

// MemoryStore keeps every group's messages in an append-only, per-group
// slice guarded by a mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*model.GroupMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]*model.GroupMessage)}
}

func (s *MemoryStore) SaveMessage(_ context.Context, msg *model.GroupMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.GroupID] = append(s.messages[msg.GroupID], msg)
	return nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, groupID string, limit int) ([]*model.GroupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[groupID]
	if limit <= 0 || limit >= len(all) {
		out := make([]*model.GroupMessage, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]*model.GroupMessage, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// LogBroadcaster logs every broadcast instead of fanning it out over a real
// websocket pool; a production deployment wires a connection registry
// keyed by member id the way the teacher's websocket handlers do.
type LogBroadcaster struct {
	log zerolog.Logger
}

func NewLogBroadcaster(log zerolog.Logger) *LogBroadcaster {
	return &LogBroadcaster{log: log}
}

func (b *LogBroadcaster) BroadcastMessage(_ context.Context, msg *model.GroupMessage, excludeSenderID string) {
	b.log.Info().
		Str("group_id", msg.GroupID).
		Str("sender_id", msg.SenderID).
		Str("sender_type", msg.SenderType).
		Str("exclude", excludeSenderID).
		Msg("group message broadcast")
}

// MemoryDirectory holds every group's membership and the chat session
// backing each AI member, all in process.
type MemoryDirectory struct {
	mu       sync.RWMutex
	groups   map[string]map[string]*model.GroupMember
	sessions map[string]*model.Session // keyed by GroupMember.SessionID
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		groups:   make(map[string]map[string]*model.GroupMember),
		sessions: make(map[string]*model.Session),
	}
}

func (d *MemoryDirectory) AddMember(groupID string, member *model.GroupMember) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.groups[groupID] == nil {
		d.groups[groupID] = make(map[string]*model.GroupMember)
	}
	d.groups[groupID][member.ID] = member
}

func (d *MemoryDirectory) BindSession(sessionID string, sess *model.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[sessionID] = sess
}

func (d *MemoryDirectory) OnlineAIMembers(_ context.Context, groupID string) ([]*model.GroupMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*model.GroupMember
	for _, m := range d.groups[groupID] {
		if m.IsAI && m.Presence == model.PresenceOnline {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *MemoryDirectory) Member(_ context.Context, groupID, memberID string) (*model.GroupMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.groups[groupID][memberID], nil
}

func (d *MemoryDirectory) ResetConsecutiveReplies(_ context.Context, groupID, exceptMemberID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, m := range d.groups[groupID] {
		if id != exceptMemberID {
			m.ConsecutiveReplyCount = 0
		}
	}
	return nil
}

func (d *MemoryDirectory) RecordReplyStats(_ context.Context, groupID, memberID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.groups[groupID][memberID]; ok {
		m.ConsecutiveReplyCount++
	}
	return nil
}

func (d *MemoryDirectory) SessionFor(_ context.Context, member *model.GroupMember) (*model.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[member.SessionID], nil
}

// StaticConfigProvider returns the same strategy configuration for every
// group; a production deployment resolves per-group overrides from
// Postgres the way it resolves per-KB configuration in C1/C2.
type StaticConfigProvider struct {
	cfg model.GroupStrategyConfig
}

func NewStaticConfigProvider(cfg model.GroupStrategyConfig) *StaticConfigProvider {
	return &StaticConfigProvider{cfg: cfg}
}

func (p *StaticConfigProvider) GroupConfig(context.Context, string) (model.GroupStrategyConfig, error) {
	return p.cfg, nil
}
