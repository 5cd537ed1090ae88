package groupchat

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/convctl"
	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/orchestrator"
)

// cancellationSliceInterval bounds how long a delayed-reply task sleeps
// between checks of its cancellation channel, per spec.md §4.9 step 8.
const cancellationSliceInterval = 500 * time.Millisecond

const defaultRecentMessagesLimit = 30

// Runner is the subset of *orchestrator.Orchestrator the dispatcher needs.
type Runner interface {
	RunTurn(ctx context.Context, sess *model.Session, userID string, emit orchestrator.Emitter) (string, error)
}

// Store persists and replays a group's message history.
type Store interface {
	SaveMessage(ctx context.Context, msg *model.GroupMessage) error
	RecentMessages(ctx context.Context, groupID string, limit int) ([]*model.GroupMessage, error)
}

// Broadcaster fans a saved message out to connected clients.
type Broadcaster interface {
	BroadcastMessage(ctx context.Context, msg *model.GroupMessage, excludeSenderID string)
}

// Directory resolves group membership and per-AI session state.
type Directory interface {
	OnlineAIMembers(ctx context.Context, groupID string) ([]*model.GroupMember, error)
	Member(ctx context.Context, groupID, memberID string) (*model.GroupMember, error)
	ResetConsecutiveReplies(ctx context.Context, groupID, exceptMemberID string) error
	RecordReplyStats(ctx context.Context, groupID, memberID string) error
	SessionFor(ctx context.Context, member *model.GroupMember) (*model.Session, error)
}

// ConfigProvider resolves a group's current strategy tuning.
type ConfigProvider interface {
	GroupConfig(ctx context.Context, groupID string) (model.GroupStrategyConfig, error)
}

// pendingGroup tracks the cancellable work in flight for one group: every
// scheduled delayed reply and the single pending AI-to-AI trigger.
type pendingGroup struct {
	mu        sync.Mutex
	cancels   map[string]chan struct{}
	aiToAI    chan struct{}
	semaphore chan struct{}
}

// Dispatcher implements the top-level steps of spec.md §4.9: message
// persistence and broadcast, the conversation gate, delayed-reply
// scheduling with human pre-emption, and the reply controller's
// anti-stampede cap.
type Dispatcher struct {
	conv   *convctl.Controller
	orch   Runner
	store  Store
	bcast  Broadcaster
	dir    Directory
	cfgs   ConfigProvider
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingGroup
	replies map[string]int // message_id -> replies already committed, for the anti-stampede cap
	rng     *rand.Rand
}

func New(conv *convctl.Controller, orch Runner, store Store, bcast Broadcaster, dir Directory, cfgs ConfigProvider, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		conv:    conv,
		orch:    orch,
		store:   store,
		bcast:   bcast,
		dir:     dir,
		cfgs:    cfgs,
		log:     log,
		pending: make(map[string]*pendingGroup),
		replies: make(map[string]int),
		rng:     rand.New(rand.NewSource(1)),
	}
}

func (d *Dispatcher) groupState(groupID string) *pendingGroup {
	d.mu.Lock()
	defer d.mu.Unlock()
	pg, ok := d.pending[groupID]
	if !ok {
		pg = &pendingGroup{cancels: make(map[string]chan struct{})}
		d.pending[groupID] = pg
	}
	return pg
}

// HandleHumanMessage implements §4.9 step 1 for a human sender: persist,
// broadcast, reset the group's consecutive-reply counters, cancel every
// pending AI task (step 10's human pre-emption), and kick off a fresh AI
// decision cycle.
func (d *Dispatcher) HandleHumanMessage(ctx context.Context, msg *model.GroupMessage) error {
	if err := d.store.SaveMessage(ctx, msg); err != nil {
		return err
	}
	d.conv.RecordHumanMessage(msg.GroupID)
	d.bcast.BroadcastMessage(ctx, msg, msg.SenderID)
	_ = d.dir.ResetConsecutiveReplies(ctx, msg.GroupID, msg.SenderID)

	d.cancelPending(msg.GroupID)

	go d.triggerAIDecision(ctx, msg, TriggerHuman)
	return nil
}

// cancelPending implements step 10's human pre-emption: every delayed
// reply task and the group's single pending AI-to-AI trigger are
// cancelled, but tasks already past their delay and running their LLM
// call are left alone.
func (d *Dispatcher) cancelPending(groupID string) {
	pg := d.groupState(groupID)
	pg.mu.Lock()
	defer pg.mu.Unlock()
	for id, ch := range pg.cancels {
		close(ch)
		delete(pg.cancels, id)
	}
	if pg.aiToAI != nil {
		close(pg.aiToAI)
		pg.aiToAI = nil
	}
}

func (d *Dispatcher) triggerAIDecision(ctx context.Context, msg *model.GroupMessage, trigger TriggerType) {
	groupID := msg.GroupID

	if ok, reason := d.conv.ShouldTrigger(groupID); !ok {
		d.log.Debug().Str("group_id", groupID).Str("reason", reason).Msg("ai decision gated")
		return
	}

	cfg, err := d.cfgs.GroupConfig(ctx, groupID)
	if err != nil {
		d.log.Error().Err(err).Str("group_id", groupID).Msg("load group strategy config")
		return
	}

	aiMembers, err := d.dir.OnlineAIMembers(ctx, groupID)
	if err != nil || len(aiMembers) == 0 {
		return
	}

	now := time.Now()
	candidates := EvaluateCandidates(msg, aiMembers, now)
	if len(candidates) == 0 {
		return
	}

	sampled := Sample(candidates, cfg.HighKeepRate, cfg.LowKeepRate, cfg.UnrestrictedMode, d.rng)
	if len(sampled) == 0 {
		return
	}

	recent, err := d.store.RecentMessages(ctx, groupID, defaultRecentMessagesLimit)
	if err != nil {
		recent = nil
	}
	consecutiveCount := d.conv.State(groupID).ConsecutiveAIReplies
	situation := AnalyzeSituation(cfg, recent, trigger, consecutiveCount, now)

	realized := ApplyRealism(sampled, situation, now)
	selected := SelectForConcurrency(realized, situation.MaxConcurrent)
	if len(selected) == 0 {
		return
	}

	scheduled := DelayTier(selected, cfg, situation.MinDelayGap, d.rng)
	for _, sr := range scheduled {
		d.scheduleDelayedReply(ctx, msg, sr, cfg)
	}
}

// scheduleDelayedReply implements step 8: the delay is slept in bounded
// slices so a cancellation fires within cancellationSliceInterval instead
// of blocking a full multi-second delay.
func (d *Dispatcher) scheduleDelayedReply(ctx context.Context, msg *model.GroupMessage, sr ScheduledReply, cfg model.GroupStrategyConfig) {
	pg := d.groupState(msg.GroupID)
	taskID := msg.ID + ":" + sr.Candidate.Member.ID
	cancel := make(chan struct{})
	pg.mu.Lock()
	pg.cancels[taskID] = cancel
	pg.mu.Unlock()

	go func() {
		defer func() {
			pg.mu.Lock()
			delete(pg.cancels, taskID)
			pg.mu.Unlock()
		}()

		if !sleepCancellable(ctx, cancel, sr.Delay) {
			return
		}

		d.executeAIReply(ctx, msg, sr.Candidate.Member, cfg)
	}()
}

func sleepCancellable(ctx context.Context, cancel <-chan struct{}, d time.Duration) bool {
	for remaining := d; remaining > 0; {
		slice := cancellationSliceInterval
		if remaining < slice {
			slice = remaining
		}
		timer := time.NewTimer(slice)
		select {
		case <-timer.C:
		case <-cancel:
			timer.Stop()
			return false
		case <-ctx.Done():
			timer.Stop()
			return false
		}
		remaining -= slice
	}
	return true
}

// reservationAllowed implements step 9's anti-stampede cap: at most
// maxConcurrent replies are allowed to commit for a single triggering
// message, first-come first-served.
func (d *Dispatcher) reservationAllowed(messageID string, maxConcurrent int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if d.replies[messageID] >= maxConcurrent {
		return false
	}
	d.replies[messageID]++
	return true
}

func (d *Dispatcher) groupSemaphore(groupID string, capacity int) chan struct{} {
	pg := d.groupState(groupID)
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.semaphore == nil {
		if capacity <= 0 {
			capacity = 2
		}
		pg.semaphore = make(chan struct{}, capacity)
	}
	return pg.semaphore
}

// executeAIReply implements step 8's reply-time work plus step 9's cap: the
// reply controller's reservation, a presence re-check, a per-group LLM
// concurrency gate, context rebuild, the orchestrator call, similarity
// suppression, and persistence/broadcast with AI-to-AI rescheduling.
func (d *Dispatcher) executeAIReply(ctx context.Context, msg *model.GroupMessage, member *model.GroupMember, cfg model.GroupStrategyConfig) {
	if !d.reservationAllowed(msg.ID, cfg.MaxConcurrentRepliesPerMessage) {
		d.log.Warn().Str("ai", member.ID).Str("message_id", msg.ID).Msg("reply blocked by anti-stampede cap")
		return
	}

	fresh, err := d.dir.Member(ctx, msg.GroupID, member.ID)
	if err != nil || fresh == nil || fresh.Presence != model.PresenceOnline {
		return
	}

	sem := d.groupSemaphore(msg.GroupID, cfg.PerGroupLLMConcurrency)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-sem }()

	sess, err := d.dir.SessionFor(ctx, fresh)
	if err != nil || sess == nil {
		d.log.Error().Err(err).Str("ai", member.ID).Msg("resolve ai session")
		return
	}

	content, err := d.orch.RunTurn(ctx, sess, fresh.ID, nil)
	if err != nil || content == "" {
		if err != nil {
			d.log.Error().Err(err).Str("ai", member.ID).Msg("ai reply generation failed")
		}
		return
	}

	if cfg.EnableSimilarity {
		recent, _ := d.store.RecentMessages(ctx, msg.GroupID, cfg.SimilarityLookback+10)
		detector := NewSimilarityDetector(cfg.SimilarityLookback, cfg.SimilarityThreshold, cfg.EnableSimilarity)
		if detector.IsSimilar(content, aiReplyTexts(recent), cfg.UnrestrictedMode) {
			d.log.Info().Str("ai", member.ID).Msg("ai reply suppressed as near-duplicate")
			return
		}
	}

	reply := &model.GroupMessage{
		ID:          uuid.NewString(),
		GroupID:     msg.GroupID,
		SenderID:    fresh.ID,
		SenderType:  "ai",
		SenderName:  fresh.Name,
		Type:        model.GroupMsgChat,
		Content:     content,
		AISessionID: fresh.SessionID,
		Timestamp:   time.Now(),
	}
	if err := d.store.SaveMessage(ctx, reply); err != nil {
		d.log.Error().Err(err).Msg("save ai reply")
		return
	}
	d.conv.RecordAIReply(ctx, msg.GroupID, len(content)/4)
	_ = d.dir.RecordReplyStats(ctx, msg.GroupID, fresh.ID)
	d.bcast.BroadcastMessage(ctx, reply, "")

	d.scheduleAIToAI(ctx, reply, cfg)
}

// scheduleAIToAI implements the AI-to-AI continuation trigger: after its
// own delay (cancelled immediately by any human pre-emption), the group's
// AI decision cycle runs again on the AI's own reply.
func (d *Dispatcher) scheduleAIToAI(ctx context.Context, reply *model.GroupMessage, cfg model.GroupStrategyConfig) {
	pg := d.groupState(reply.GroupID)
	cancel := make(chan struct{})
	pg.mu.Lock()
	if pg.aiToAI != nil {
		close(pg.aiToAI)
	}
	pg.aiToAI = cancel
	pg.mu.Unlock()

	delay := time.Duration(cfg.AIToAIDelaySeconds * float64(time.Second))
	go func() {
		if !sleepCancellable(ctx, cancel, delay) {
			return
		}
		d.triggerAIDecision(ctx, reply, TriggerAIMessage)
	}()
}

func aiReplyTexts(messages []*model.GroupMessage) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.SenderType == "ai" {
			out = append(out, m.Content)
		}
	}
	return out
}
