package groupchat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/convctl"
	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/orchestrator"
)

type fakeRunner struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (f *fakeRunner) RunTurn(_ context.Context, _ *model.Session, _ string, _ orchestrator.Emitter) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, nil
}

type fakeStore struct {
	mu       sync.Mutex
	saved    []*model.GroupMessage
	recent   []*model.GroupMessage
}

func (s *fakeStore) SaveMessage(_ context.Context, msg *model.GroupMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, msg)
	return nil
}

func (s *fakeStore) RecentMessages(context.Context, string, int) ([]*model.GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent, nil
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	broadcast []*model.GroupMessage
}

func (b *fakeBroadcaster) BroadcastMessage(_ context.Context, msg *model.GroupMessage, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast = append(b.broadcast, msg)
}

type fakeDirectory struct {
	members map[string]*model.GroupMember
	session *model.Session
}

func (d *fakeDirectory) OnlineAIMembers(_ context.Context, groupID string) ([]*model.GroupMember, error) {
	var out []*model.GroupMember
	for _, m := range d.members {
		if m.IsAI && m.Presence == model.PresenceOnline {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *fakeDirectory) Member(_ context.Context, _, memberID string) (*model.GroupMember, error) {
	return d.members[memberID], nil
}

func (d *fakeDirectory) ResetConsecutiveReplies(context.Context, string, string) error { return nil }
func (d *fakeDirectory) RecordReplyStats(context.Context, string, string) error        { return nil }

func (d *fakeDirectory) SessionFor(context.Context, *model.GroupMember) (*model.Session, error) {
	return d.session, nil
}

type fakeConfigProvider struct {
	cfg model.GroupStrategyConfig
}

func (f *fakeConfigProvider) GroupConfig(context.Context, string) (model.GroupStrategyConfig, error) {
	return f.cfg, nil
}

func fastStrategyConfig() model.GroupStrategyConfig {
	cfg := testStrategyConfig()
	cfg.MentionDelay = model.TierDelay{Min: 0.01, Max: 0.01}
	cfg.HighDelay = model.TierDelay{Min: 0.01, Max: 0.01}
	cfg.NormalDelay = model.TierDelay{Min: 0.01, Max: 0.01}
	cfg.AIToAIDelaySeconds = 0.01
	return cfg
}

func newTestDispatcher(t *testing.T, runner Runner, store *fakeStore, bcast *fakeBroadcaster, dir *fakeDirectory, cfg model.GroupStrategyConfig) *Dispatcher {
	t.Helper()
	conv := convctl.New(nil, zerolog.Nop())
	conv.Configure("g1", convctl.Config{
		MaxAIConsecutiveReplies: 100,
		MaxMessagesPerRound:     100,
		MaxTokensPerRound:       1 << 20,
		CooldownSeconds:         0,
		MaxCooldownRecoveries:   0,
	})
	return New(conv, runner, store, bcast, dir, &fakeConfigProvider{cfg: cfg}, zerolog.Nop())
}

func TestHandleHumanMessage_PersistsAndBroadcasts(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	bcast := &fakeBroadcaster{}
	dir := &fakeDirectory{members: map[string]*model.GroupMember{}}
	d := newTestDispatcher(t, &fakeRunner{}, store, bcast, dir, fastStrategyConfig())

	msg := &model.GroupMessage{ID: "m1", GroupID: "g1", SenderID: "human1", Content: "hello", Timestamp: time.Now()}
	require.NoError(t, d.HandleHumanMessage(context.Background(), msg))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.saved, 1)

	bcast.mu.Lock()
	defer bcast.mu.Unlock()
	assert.Len(t, bcast.broadcast, 1)
}

func TestHandleHumanMessage_SchedulesAndExecutesAIReply(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	bcast := &fakeBroadcaster{}
	ai := baseMember("ai1")
	dir := &fakeDirectory{
		members: map[string]*model.GroupMember{"ai1": ai},
		session: &model.Session{ID: "s1", Settings: model.ModelSettings{Provider: "openai", Model: "gpt-test"}},
	}
	runner := &fakeRunner{reply: "hi there, happy to help"}
	cfg := fastStrategyConfig()
	cfg.EnableSimilarity = false
	d := newTestDispatcher(t, runner, store, bcast, dir, cfg)

	msg := &model.GroupMessage{ID: "m1", GroupID: "g1", SenderID: "human1", Content: "hello everyone", Timestamp: time.Now()}
	require.NoError(t, d.HandleHumanMessage(context.Background(), msg))

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.calls >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		bcast.mu.Lock()
		defer bcast.mu.Unlock()
		return len(bcast.broadcast) >= 2 // human message + ai reply
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelPending_StopsScheduledReply(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	bcast := &fakeBroadcaster{}
	ai := baseMember("ai1")
	dir := &fakeDirectory{
		members: map[string]*model.GroupMember{"ai1": ai},
		session: &model.Session{ID: "s1"},
	}
	runner := &fakeRunner{reply: "reply"}
	cfg := testStrategyConfig() // slow delays, so cancellation wins the race
	d := newTestDispatcher(t, runner, store, bcast, dir, cfg)

	msg := &model.GroupMessage{ID: "m1", GroupID: "g1", SenderID: "human1", Content: "hello", Timestamp: time.Now()}
	require.NoError(t, d.HandleHumanMessage(context.Background(), msg))

	time.Sleep(20 * time.Millisecond)
	d.cancelPending("g1")

	time.Sleep(100 * time.Millisecond)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 0, runner.calls, "cancelling before the delay elapses must prevent the LLM call")
}

func TestReservationAllowed_CapsConcurrentReplies(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, &fakeRunner{}, &fakeStore{}, &fakeBroadcaster{}, &fakeDirectory{members: map[string]*model.GroupMember{}}, fastStrategyConfig())

	assert.True(t, d.reservationAllowed("m1", 2))
	assert.True(t, d.reservationAllowed("m1", 2))
	assert.False(t, d.reservationAllowed("m1", 2))
}
