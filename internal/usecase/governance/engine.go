package governance

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"agenthub/internal/domain"
	"agenthub/internal/infra/metrics"
)

// Reason names the rule a message violated.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonRedundant   Reason = "redundant"
	ReasonLoop        Reason = "loop"
	ReasonCooldown    Reason = "cooldown"
	ReasonTokenBudget Reason = "token_budget"
	ReasonTurnLimit   Reason = "turn_limit"
)

var penaltyFor = map[Reason]float64{
	ReasonRedundant:   1.0,
	ReasonLoop:        1.0,
	ReasonCooldown:    0.5,
	ReasonTokenBudget: 1.0,
	ReasonTurnLimit:   0.5,
}

// Decision is the verdict for one message. Signals lists every rule the
// message violated in evaluation order; Reason is the first of them when the
// message was blocked.
type Decision struct {
	Allowed    bool
	Reason     Reason
	Signals    []Reason
	Similarity float64
	Priority   float64
}

// Flagged reports whether r is among the signals.
func (d Decision) Flagged(r Reason) bool {
	for _, s := range d.Signals {
		if s == r {
			return true
		}
	}
	return false
}

type agentState struct {
	lastTimestamp time.Time
	lastContent   string
	lastIntent    string
	recentIntents []string
	tokensUsed    int
	windowStart   time.Time
}

type conversationState struct {
	turns       int
	tokens      int
	lastContent string
}

// Engine evaluates messages against a Policy. It performs no I/O; all state
// lives in bounded LRU maps guarded by one mutex.
type Engine struct {
	mu            sync.Mutex
	policy        Policy
	agents        *simplelru.LRU[string, *agentState]
	conversations *simplelru.LRU[string, *conversationState]
	noise         map[string]float64
	now           func() time.Time
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

// WithMetrics records decisions.
func WithMetrics(m *metrics.Metrics) EngineOption { return func(e *Engine) { e.metrics = m } }

// NewEngine creates an Engine. The policy is normalised with ApplyPlanAdjustments.
func NewEngine(p Policy, logger *slog.Logger, opts ...EngineOption) *Engine {
	p = ApplyPlanAdjustments(p)
	e := &Engine{
		policy: p,
		noise:  make(map[string]float64),
		now:    time.Now,
		logger: logger,
	}
	for _, o := range opts {
		o(e)
	}
	// Sizes are positive after ApplyPlanAdjustments, so NewLRU cannot fail.
	e.agents, _ = simplelru.NewLRU[string, *agentState](p.MaxTrackedAgents, func(id string, _ *agentState) {
		delete(e.noise, id)
	})
	e.conversations, _ = simplelru.NewLRU[string, *conversationState](p.MaxTrackedConversations, nil)
	return e
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// ConversationKey is the conversation id of msg, or the sorted sender and
// target pair when none is set.
func ConversationKey(msg domain.Message) string {
	if msg.ConversationID != "" {
		return msg.ConversationID
	}
	if id := msg.MetaString(domain.MetaConversationID); id != "" {
		return id
	}
	pair := []string{msg.From, msg.To}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

func (e *Engine) agentLocked(id string) *agentState {
	if st, ok := e.agents.Get(id); ok {
		return st
	}
	st := &agentState{}
	e.agents.Add(id, st)
	return st
}

func (e *Engine) conversationLocked(key string) *conversationState {
	if cs, ok := e.conversations.Get(key); ok {
		return cs
	}
	cs := &conversationState{}
	e.conversations.Add(key, cs)
	return cs
}

// rollWindowLocked resets the token window once CycleDuration has elapsed.
func (e *Engine) rollWindowLocked(st *agentState, now time.Time) {
	if st.windowStart.IsZero() || now.Sub(st.windowStart) >= e.policy.CycleDuration {
		st.windowStart = now
		st.tokensUsed = 0
	}
}

// estimateTokens falls back to a word count when the sender did not report usage.
func estimateTokens(msg domain.Message) int {
	if n := msg.TokenCount(); n > 0 {
		return n
	}
	return len(strings.Fields(msg.Content))
}

// ShouldAllow evaluates msg sent by agentID and records it. In open mode the
// decision is always allowed and violations appear only in Signals.
func (e *Engine) ShouldAllow(agentID string, msg domain.Message) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	st := e.agentLocked(agentID)
	cs := e.conversationLocked(ConversationKey(msg))
	intent := msg.EffectiveIntent()
	tokens := estimateTokens(msg)

	var d Decision
	d.Similarity = e.similarityLocked(st, cs, msg.Content)
	if d.Similarity >= e.policy.SimilarityThreshold {
		d.Signals = append(d.Signals, ReasonRedundant)
	}
	if DetectsLoop(st.recentIntents, intent, e.policy.LoopDetectionWindow) {
		d.Signals = append(d.Signals, ReasonLoop)
	}
	if e.policy.Cooldown > 0 && !st.lastTimestamp.IsZero() && now.Sub(st.lastTimestamp) < e.policy.Cooldown {
		d.Signals = append(d.Signals, ReasonCooldown)
	}
	e.rollWindowLocked(st, now)
	if st.tokensUsed+tokens > e.policy.MaxTokensPerCycle {
		d.Signals = append(d.Signals, ReasonTokenBudget)
	}
	if cs.turns+1 > e.policy.MaxTurns {
		d.Signals = append(d.Signals, ReasonTurnLimit)
	}

	e.decayLocked(agentID)

	if e.policy.Enforce && len(d.Signals) > 0 {
		d.Reason = d.Signals[0]
		e.penalizeLocked(agentID, d.Reason, penaltyFor[d.Reason])
		d.Priority = e.priorityLocked(agentID)
		e.metrics.GovernanceDecision(string(d.Reason))
		e.logger.Warn("message blocked by governance",
			"agent_id", agentID, "to", msg.To, "reason", string(d.Reason), "noise", e.noise[agentID])
		return d
	}

	d.Allowed = true
	st.lastTimestamp = now
	st.lastContent = msg.Content
	st.lastIntent = intent
	st.recentIntents = appendRing(st.recentIntents, intent, e.policy.LoopDetectionWindow)
	st.tokensUsed += tokens
	cs.turns++
	cs.tokens += tokens
	cs.lastContent = msg.Content
	d.Priority = e.priorityLocked(agentID)

	e.metrics.GovernanceDecision("")
	if len(d.Signals) > 0 {
		e.logger.Debug("governance signals in open mode", "agent_id", agentID, "signals", d.Signals)
	}
	return d
}

func (e *Engine) similarityLocked(st *agentState, cs *conversationState, content string) float64 {
	var best float64
	if st.lastContent != "" {
		best = ComputeSimilarity(st.lastContent, content)
	}
	if cs.lastContent != "" {
		best = max(best, ComputeSimilarity(cs.lastContent, content))
	}
	return best
}

func appendRing(ring []string, v string, size int) []string {
	ring = append(ring, v)
	if len(ring) > size {
		ring = append(ring[:0:0], ring[len(ring)-size:]...)
	}
	return ring
}

// IsRedundant reports whether msg repeats the sender's or the conversation's
// last content. It does not record anything.
func (e *Engine) IsRedundant(agentID string, msg domain.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.agents.Peek(agentID)
	if !ok {
		st = &agentState{}
	}
	cs, ok := e.conversations.Peek(ConversationKey(msg))
	if !ok {
		cs = &conversationState{}
	}
	return e.similarityLocked(st, cs, msg.Content) >= e.policy.SimilarityThreshold
}

// DetectsLoop reports whether sending intent would complete a loop for agentID.
func (e *Engine) DetectsLoop(agentID, intent string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.agents.Peek(agentID)
	if !ok {
		return false
	}
	return DetectsLoop(st.recentIntents, intent, e.policy.LoopDetectionWindow)
}

// RecordTokens adds n to agentID's rolling budget window.
func (e *Engine) RecordTokens(agentID string, n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.agentLocked(agentID)
	e.rollWindowLocked(st, e.now())
	st.tokensUsed += n
}

// TokensUsed returns the tokens counted in agentID's current window.
func (e *Engine) TokensUsed(agentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.agents.Peek(agentID)
	if !ok {
		return 0
	}
	if !st.windowStart.IsZero() && e.now().Sub(st.windowStart) >= e.policy.CycleDuration {
		return 0
	}
	return st.tokensUsed
}

// Turns returns the turn count of the conversation msg belongs to.
func (e *Engine) Turns(msg domain.Message) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cs, ok := e.conversations.Peek(ConversationKey(msg)); ok {
		return cs.turns
	}
	return 0
}

// Penalize raises agentID's noise score. Amounts below 0.5 count as 0.5.
func (e *Engine) Penalize(agentID string, reason Reason, amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.penalizeLocked(agentID, reason, amount)
}

func (e *Engine) penalizeLocked(agentID string, reason Reason, amount float64) {
	amount = max(amount, minPenalty)
	e.noise[agentID] += amount
	e.logger.Debug("agent penalized", "agent_id", agentID, "reason", string(reason), "noise", e.noise[agentID])
}

// DecayNoise applies one decay step to agentID's noise score.
func (e *Engine) DecayNoise(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decayLocked(agentID)
}

func (e *Engine) decayLocked(agentID string) {
	score, ok := e.noise[agentID]
	if !ok {
		return
	}
	score *= 1 - e.policy.DecayFactor
	if score <= noiseRemovalThreshold {
		delete(e.noise, agentID)
		return
	}
	e.noise[agentID] = score
}

// NoiseScore returns agentID's current noise, and whether an entry exists.
func (e *Engine) NoiseScore(agentID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.noise[agentID]
	return s, ok
}

// Priority returns 1 / (1 + noise) for agentID.
func (e *Engine) Priority(agentID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.priorityLocked(agentID)
}

func (e *Engine) priorityLocked(agentID string) float64 {
	return 1 / (1 + e.noise[agentID])
}

// Forget drops all per-agent state for agentID.
func (e *Engine) Forget(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents.Remove(agentID)
	delete(e.noise, agentID)
}

// Tracked returns the number of agents and conversations held in memory.
func (e *Engine) Tracked() (agents, conversations int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agents.Len(), e.conversations.Len()
}
