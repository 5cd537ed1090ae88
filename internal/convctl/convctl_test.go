package convctl

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxAIConsecutiveReplies: 3,
		MaxMessagesPerRound:     100,
		MaxTokensPerRound:       100000,
		CooldownSeconds:         0, // fires ~immediately for fast tests
		MaxCooldownRecoveries:   3,
	}
}

func TestRecordAIReply_ForcesCooldownAtCap(t *testing.T) {
	t.Parallel()
	c := New(nil, zerolog.Nop())
	c.Configure("g1", testConfig())
	ctx := context.Background()

	assert.False(t, c.RecordAIReply(ctx, "g1", 10))
	assert.False(t, c.RecordAIReply(ctx, "g1", 10))
	assert.True(t, c.RecordAIReply(ctx, "g1", 10), "third reply hits max_ai_consecutive_replies=3")

	ok, reason := c.ShouldTrigger("g1")
	assert.False(t, ok)
	assert.Equal(t, "in_cooldown", reason)
}

func TestRecordHumanMessage_ResetsEverything(t *testing.T) {
	t.Parallel()
	c := New(nil, zerolog.Nop())
	c.Configure("g1", testConfig())
	ctx := context.Background()

	c.RecordAIReply(ctx, "g1", 10)
	c.RecordAIReply(ctx, "g1", 10)
	c.RecordAIReply(ctx, "g1", 10)
	c.Stop("g1")

	c.RecordHumanMessage("g1")
	st := c.State("g1")
	assert.Equal(t, 0, st.ConsecutiveAIReplies)
	assert.False(t, st.InCooldown)
	assert.Equal(t, 0, st.CooldownRecoveryCount)
	assert.False(t, st.ManuallyStopped)

	ok, _ := c.ShouldTrigger("g1")
	assert.True(t, ok)
}

func TestStopBlocksUntilResume(t *testing.T) {
	t.Parallel()
	c := New(nil, zerolog.Nop())
	c.Configure("g1", testConfig())
	c.Stop("g1")

	ok, reason := c.ShouldTrigger("g1")
	assert.False(t, ok)
	assert.Equal(t, "manually_stopped", reason)

	c.Resume("g1")
	ok, _ = c.ShouldTrigger("g1")
	assert.True(t, ok)
}

func TestCooldownRecovery_FiresAndCapsAtMaxRecoveries(t *testing.T) {
	t.Parallel()
	fired := make(chan string, 10)
	recovery := func(ctx context.Context, groupID string) { fired <- groupID }
	c := New(recovery, zerolog.Nop())
	cfg := testConfig()
	cfg.MaxCooldownRecoveries = 1
	c.Configure("g1", cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.RecordAIReply(ctx, "g1", 1)
	}

	select {
	case gid := <-fired:
		assert.Equal(t, "g1", gid)
	case <-time.After(time.Second):
		t.Fatal("recovery callback never fired")
	}

	require.Eventually(t, func() bool {
		st := c.State("g1")
		return !st.InCooldown && st.ConsecutiveAIReplies == 0 && st.CooldownRecoveryCount == 1
	}, time.Second, 10*time.Millisecond)

	// Push back into cooldown a second time; MaxCooldownRecoveries=1 means
	// no further automatic recovery should fire.
	for i := 0; i < 3; i++ {
		c.RecordAIReply(ctx, "g1", 1)
	}
	select {
	case <-fired:
		t.Fatal("recovery fired a second time past max_cooldown_recoveries")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnrestrictedMode_NeverForcesCooldown(t *testing.T) {
	t.Parallel()
	c := New(nil, zerolog.Nop())
	c.Configure("g1", Config{UnrestrictedMode: true, MaxAIConsecutiveReplies: 1})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		exceeded := c.RecordAIReply(ctx, "g1", 1000)
		assert.False(t, exceeded)
	}
}
