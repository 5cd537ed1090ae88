// Package convctl implements C10: a per-group conversation controller that
// enforces consecutive-AI-reply, per-round message/token caps and cooldown
// recovery, the gate the group chat core (C9) consults before running its
// AI-candidate pipeline at all.
package convctl

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config is one group's effective controller configuration. UnrestrictedMode
// overrides every finite cap to an effectively-infinite value and every
// delay to a minimal, but nonzero, gap — see Effective.
type Config struct {
	MaxAIConsecutiveReplies int
	MaxMessagesPerRound     int
	MaxTokensPerRound       int
	CooldownSeconds         int
	MaxCooldownRecoveries   int
	UnrestrictedMode        bool
}

const unrestrictedCap = math.MaxInt32

// Effective resolves the caps actually enforced, applying the
// unrestricted-mode override.
func (c Config) Effective() Config {
	if !c.UnrestrictedMode {
		return c
	}
	return Config{
		MaxAIConsecutiveReplies: unrestrictedCap,
		MaxMessagesPerRound:     unrestrictedCap,
		MaxTokensPerRound:       unrestrictedCap,
		CooldownSeconds:         1,
		MaxCooldownRecoveries:   unrestrictedCap,
		UnrestrictedMode:        true,
	}
}

// State is one group's mutable conversation-controller state.
type State struct {
	ConsecutiveAIReplies  int
	RoundMessageCount     int
	RoundEstimatedTokens  int
	InCooldown            bool
	CooldownUntil         time.Time
	CooldownRecoveryCount int
	ManuallyStopped       bool
}

// RecoveryCallback is invoked when a cooldown recovery fires; it should
// trigger a fresh AI-decision cycle on the group's last message.
type RecoveryCallback func(ctx context.Context, groupID string)

// Controller owns every group's State plus the pending recovery timers.
type Controller struct {
	mu       sync.Mutex
	groups   map[string]*State
	configs  map[string]Config
	recovery RecoveryCallback
	log      zerolog.Logger
}

// New builds a Controller. recovery may be nil in tests that only exercise
// state transitions.
func New(recovery RecoveryCallback, log zerolog.Logger) *Controller {
	return &Controller{
		groups:   make(map[string]*State),
		configs:  make(map[string]Config),
		recovery: recovery,
		log:      log,
	}
}

// Configure sets (or replaces) a group's controller configuration.
func (c *Controller) Configure(groupID string, cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[groupID] = cfg
	if _, ok := c.groups[groupID]; !ok {
		c.groups[groupID] = &State{}
	}
}

func (c *Controller) stateLocked(groupID string) *State {
	st, ok := c.groups[groupID]
	if !ok {
		st = &State{}
		c.groups[groupID] = st
	}
	return st
}

// ShouldTrigger reports whether an AI-decision cycle should run at all for
// this group right now, per the conversation gate of spec.md §4.9 step 2.
func (c *Controller) ShouldTrigger(groupID string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stateLocked(groupID)
	if st.ManuallyStopped {
		return false, "manually_stopped"
	}
	if st.InCooldown {
		return false, "in_cooldown"
	}
	return true, ""
}

// State returns a copy of groupID's current state for inspection/testing.
func (c *Controller) State(groupID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.stateLocked(groupID)
}

// RecordHumanMessage resets every per-round and cooldown counter and clears
// manually_stopped, per spec.md §4.10's human-message reset invariant.
func (c *Controller) RecordHumanMessage(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[groupID] = &State{}
}

// RecordAIReply accounts for one AI reply having been posted, advancing the
// per-round counters and forcing cooldown once any cap in Effective() is
// reached. It returns true whenever a cap is reached after this reply;
// cooldown is only started if the group was not already in cooldown.
func (c *Controller) RecordAIReply(ctx context.Context, groupID string, estimatedTokens int) bool {
	c.mu.Lock()
	cfg := c.configs[groupID].Effective()
	st := c.stateLocked(groupID)
	st.ConsecutiveAIReplies++
	st.RoundMessageCount++
	st.RoundEstimatedTokens += estimatedTokens

	exceeded := st.ConsecutiveAIReplies >= cfg.MaxAIConsecutiveReplies ||
		st.RoundMessageCount >= cfg.MaxMessagesPerRound ||
		st.RoundEstimatedTokens >= cfg.MaxTokensPerRound
	if !exceeded || st.InCooldown {
		c.mu.Unlock()
		return exceeded
	}

	st.InCooldown = true
	st.CooldownUntil = timeNow().Add(time.Duration(cfg.CooldownSeconds) * time.Second)
	canRecover := st.CooldownRecoveryCount < cfg.MaxCooldownRecoveries
	recoveryAt := st.CooldownUntil
	c.mu.Unlock()

	if canRecover && c.recovery != nil {
		c.scheduleRecovery(ctx, groupID, recoveryAt)
	}
	return true
}

// Stop sets manually_stopped, blocking all AI triggers until Resume.
func (c *Controller) Stop(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateLocked(groupID).ManuallyStopped = true
}

// Resume clears manually_stopped.
func (c *Controller) Resume(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateLocked(groupID).ManuallyStopped = false
}

func (c *Controller) scheduleRecovery(ctx context.Context, groupID string, deadline time.Time) {
	go func() {
		wait := deadline.Sub(timeNow())
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}

		c.mu.Lock()
		st, ok := c.groups[groupID]
		if !ok || !st.InCooldown {
			c.mu.Unlock()
			return
		}
		st.InCooldown = false
		st.ConsecutiveAIReplies = 0
		st.CooldownRecoveryCount++
		c.mu.Unlock()

		c.log.Info().Str("group_id", groupID).Msg("conversation controller cooldown recovery fired")
		c.recovery(ctx, groupID)
	}()
}

func timeNow() time.Time { return time.Now() }
