package governance

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
	"agenthub/internal/infra/metrics"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(p Policy, clock *fakeClock, opts ...EngineOption) *Engine {
	opts = append(opts, WithClock(clock.Now))
	return NewEngine(p, slog.New(slog.DiscardHandler), opts...)
}

func msg(from, to, content string) domain.Message {
	return domain.Message{From: from, To: to, Type: domain.MessageInfo, Content: content}
}

func TestOpenModeAlwaysAllows(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(Policy{Cooldown: time.Minute}, clock)

	for i := 0; i < 5; i++ {
		d := e.ShouldAllow("a", msg("a", "b", "same words"))
		assert.True(t, d.Allowed, "iteration %d", i)
	}
	d := e.ShouldAllow("a", msg("a", "b", "same words"))
	assert.True(t, d.Allowed)
	assert.True(t, d.Flagged(ReasonRedundant))
	assert.True(t, d.Flagged(ReasonLoop))
	assert.True(t, d.Flagged(ReasonCooldown))
	assert.Equal(t, ReasonNone, d.Reason)
}

func TestLetsProceedRedundancy(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(Policy{SimilarityThreshold: 0.85}, clock)

	first := msg("alice", "bob", "Let's proceed")
	assert.False(t, e.IsRedundant("alice", first))
	d1 := e.ShouldAllow("alice", first)
	assert.False(t, d1.Flagged(ReasonRedundant))

	second := msg("bob", "alice", "Let's proceed.")
	assert.True(t, e.IsRedundant("bob", second))
	d2 := e.ShouldAllow("bob", second)
	assert.True(t, d2.Flagged(ReasonRedundant))
	assert.Equal(t, 1.0, d2.Similarity)

	third := msg("alice", "bob", "Let's proceed")
	assert.True(t, e.ShouldAllow("alice", third).Flagged(ReasonRedundant))
}

func TestEnforceBlocksRedundantAndPenalizes(t *testing.T) {
	clock := newFakeClock()
	m := metrics.New()
	e := newTestEngine(Policy{Enforce: true}, clock, WithMetrics(m))

	require.True(t, e.ShouldAllow("a", msg("a", "b", "status report ready")).Allowed)
	clock.Advance(time.Second)

	d := e.ShouldAllow("a", msg("a", "b", "Status report ready!"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRedundant, d.Reason)
	score, ok := e.NoiseScore("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, 0.5, d.Priority)

	// Blocked traffic is not counted as a turn.
	assert.Equal(t, 1, e.Turns(msg("a", "b", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GovernanceDecisions.WithLabelValues("blocked", "redundant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GovernanceDecisions.WithLabelValues("allowed", "none")))
}

func TestEnforceLoop(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(Policy{Enforce: true, LoopDetectionWindow: 4}, clock)

	contents := []string{"one", "two", "three"}
	for _, c := range contents {
		m := msg("a", "b", c)
		m.Intent = "ping"
		require.True(t, e.ShouldAllow("a", m).Allowed, c)
	}
	assert.True(t, e.DetectsLoop("a", "ping"))
	assert.False(t, e.DetectsLoop("a", "pong"))

	m := msg("a", "b", "four")
	m.Intent = "ping"
	d := e.ShouldAllow("a", m)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLoop, d.Reason)
}

func TestEnforceCooldown(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(Policy{Enforce: true, Cooldown: 2 * time.Second}, clock)

	require.True(t, e.ShouldAllow("a", msg("a", "b", "first")).Allowed)
	clock.Advance(time.Second)
	d := e.ShouldAllow("a", msg("a", "b", "second"))
	assert.Equal(t, ReasonCooldown, d.Reason)

	clock.Advance(2 * time.Second)
	assert.True(t, e.ShouldAllow("a", msg("a", "b", "third")).Allowed)
}

func TestEnforceTokenBudgetAndWindowReset(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(Policy{Enforce: true, MaxTokensPerCycle: 100, CycleDuration: time.Minute}, clock)

	n := 80
	m1 := msg("a", "b", "big")
	m1.Tokens = &n
	require.True(t, e.ShouldAllow("a", m1).Allowed)
	assert.Equal(t, 80, e.TokensUsed("a"))

	m2 := msg("a", "b", "bigger")
	m2.Tokens = &n
	assert.Equal(t, ReasonTokenBudget, e.ShouldAllow("a", m2).Reason)

	clock.Advance(time.Minute)
	assert.Equal(t, 0, e.TokensUsed("a"))
	assert.True(t, e.ShouldAllow("a", m2).Allowed)
}

func TestRecordTokens(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(Policy{CycleDuration: time.Minute}, clock)

	e.RecordTokens("a", 30)
	e.RecordTokens("a", 12)
	e.RecordTokens("a", -5)
	assert.Equal(t, 42, e.TokensUsed("a"))

	clock.Advance(59 * time.Second)
	e.RecordTokens("a", 1)
	assert.Equal(t, 43, e.TokensUsed("a"))

	clock.Advance(time.Minute)
	e.RecordTokens("a", 5)
	assert.Equal(t, 5, e.TokensUsed("a"))
}

func TestEnforceTurnLimitPerConversation(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(Policy{Enforce: true, MaxTurns: 2}, clock)

	require.True(t, e.ShouldAllow("a", msg("a", "b", "alpha")).Allowed)
	require.True(t, e.ShouldAllow("b", msg("b", "a", "beta")).Allowed)
	assert.Equal(t, ReasonTurnLimit, e.ShouldAllow("a", msg("a", "b", "gamma")).Reason)

	// A different pair is a different conversation.
	assert.True(t, e.ShouldAllow("a", msg("a", "c", "delta")).Allowed)

	// An explicit conversation id overrides the pair key.
	m := msg("a", "b", "epsilon")
	m.ConversationID = "fresh"
	assert.True(t, e.ShouldAllow("a", m).Allowed)
}

func TestConversationKey(t *testing.T) {
	assert.Equal(t, "a|b", ConversationKey(msg("a", "b", "")))
	assert.Equal(t, "a|b", ConversationKey(msg("b", "a", "")))
	m := msg("a", "b", "")
	m.Metadata = map[string]any{domain.MetaConversationID: "c-1"}
	assert.Equal(t, "c-1", ConversationKey(m))
}

func TestNoiseDecay(t *testing.T) {
	e := newTestEngine(Policy{DecayFactor: 0.2}, newFakeClock())

	e.Penalize("A", ReasonLoop, 1)
	s, ok := e.NoiseScore("A")
	require.True(t, ok)
	assert.Equal(t, 1.0, s)

	e.DecayNoise("A")
	s, _ = e.NoiseScore("A")
	assert.InDelta(t, 0.8, s, 1e-9)

	for i := 0; i < 20; i++ {
		e.DecayNoise("A")
	}
	_, ok = e.NoiseScore("A")
	assert.False(t, ok, "entry removed once score <= 0.1")
	assert.Equal(t, 1.0, e.Priority("A"))
}

func TestPenalizeFloorAndPriority(t *testing.T) {
	e := newTestEngine(Policy{}, newFakeClock())

	e.Penalize("A", ReasonCooldown, 0.1)
	s, _ := e.NoiseScore("A")
	assert.Equal(t, 0.5, s)

	e.Penalize("A", ReasonCooldown, 1.5)
	s, _ = e.NoiseScore("A")
	assert.Equal(t, 2.0, s)
	assert.InDelta(t, 1.0/3.0, e.Priority("A"), 1e-9)
}

func TestShouldAllowDecaysNoise(t *testing.T) {
	e := newTestEngine(Policy{}, newFakeClock())
	e.Penalize("A", ReasonLoop, 1)

	e.ShouldAllow("A", msg("A", "B", "hello"))
	s, _ := e.NoiseScore("A")
	assert.InDelta(t, 0.8, s, 1e-9)
}

func TestBoundedState(t *testing.T) {
	e := newTestEngine(Policy{MaxTrackedAgents: 3, MaxTrackedConversations: 2}, newFakeClock())

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("agent-%d", i)
		e.Penalize(id, ReasonLoop, 1)
		e.ShouldAllow(id, msg(id, "hub", "hello"))
	}
	agents, convs := e.Tracked()
	assert.Equal(t, 3, agents)
	assert.Equal(t, 2, convs)

	// Evicted agents lose their noise entries too.
	_, ok := e.NoiseScore("agent-0")
	assert.False(t, ok)
	_, ok = e.NoiseScore("agent-9")
	assert.True(t, ok)
}

func TestForget(t *testing.T) {
	e := newTestEngine(Policy{}, newFakeClock())
	e.ShouldAllow("a", msg("a", "b", "x"))
	e.Penalize("a", ReasonLoop, 1)

	e.Forget("a")
	agents, _ := e.Tracked()
	assert.Equal(t, 0, agents)
	_, ok := e.NoiseScore("a")
	assert.False(t, ok)
}

func TestEngineConcurrent(t *testing.T) {
	e := newTestEngine(Policy{}, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("a%d", n%4)
			for j := 0; j < 50; j++ {
				e.ShouldAllow(id, msg(id, "hub", fmt.Sprintf("m %d %d", n, j)))
				e.RecordTokens(id, 1)
				_ = e.Priority(id)
			}
		}(i)
	}
	wg.Wait()

	p := e.Priority("a0")
	assert.False(t, math.IsNaN(p))
}
