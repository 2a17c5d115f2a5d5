package authz

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
	"agenthub/internal/infra/metrics"
	"agenthub/internal/infra/tracer"
	"agenthub/internal/usecase/governance"
)

// Publisher delivers an approved message. *router.Router implements it.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) (domain.Envelope, error)
}

// Resolver maps an id or alias to a live agent id. *multiagent.Registry
// implements it.
type Resolver interface {
	Resolve(idOrAlias string) (string, bool)
}

// Governor is the admission-control engine. *governance.Engine implements it.
type Governor interface {
	ShouldAllow(agentID string, msg domain.Message) governance.Decision
	Forget(agentID string)
}

// Config controls the orchestrator gates.
type Config struct {
	// Enforce turns capability, safe-action, hierarchy, command-scope and
	// binding violations into ErrUnauthorized. When false every registered
	// agent receives the broad capability grant and violations are logged.
	Enforce            bool
	PromotionThreshold int
	// SendRate is the per-agent sustained send rate; 0 disables limiting.
	SendRate   float64
	SendBurst  int
	LoopWindow int
}

// ConfigFrom builds a Config from the authorization and governance sections.
func ConfigFrom(a config.AuthorizationConfig, g config.GovernanceConfig) Config {
	return Config{
		Enforce:            a.Enforce,
		PromotionThreshold: a.PromotionThreshold,
		SendRate:           a.SendRate,
		SendBurst:          a.SendBurst,
		LoopWindow:         g.LoopDetectionWindow,
	}
}

// Orchestrator owns one AgentContext per registered agent and runs every
// outbound message through the authorization gates and governance.
type Orchestrator struct {
	mu       sync.Mutex
	contexts map[string]*agentContext
	limiters map[string]*rate.Limiter

	cfg      Config
	pub      Publisher
	resolver Resolver
	gov      Governor
	profiles domain.ProfileLookup
	bus      domain.EventBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventBus publishes promotion and governance events.
func WithEventBus(bus domain.EventBus) Option { return func(o *Orchestrator) { o.bus = bus } }

// WithMetrics records denials and promotions.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// New creates an Orchestrator. profiles may be nil.
func New(pub Publisher, resolver Resolver, gov Governor, profiles domain.ProfileLookup, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = 10
	}
	if cfg.LoopWindow <= 0 || cfg.LoopWindow > intentRingSize {
		cfg.LoopWindow = min(max(cfg.LoopWindow, 4), intentRingSize)
	}
	if cfg.SendRate > 0 && cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	o := &Orchestrator{
		contexts: make(map[string]*agentContext),
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
		pub:      pub,
		resolver: resolver,
		gov:      gov,
		profiles: profiles,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterAgent builds or refreshes the context of agentID from its type's
// capability profile and the descriptor's declarations. Delegation counters
// and intent history survive a refresh.
func (o *Orchestrator) RegisterAgent(agentID string, desc domain.AgentDescriptor) AgentContext {
	var profile domain.CapabilityProfile
	var hasProfile bool
	if o.profiles != nil {
		profile, hasProfile = o.profiles.Profile(desc.Type)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	prev := o.contexts[agentID]
	c := newAgentContext(agentID, desc.Type)
	if prev != nil {
		c.intents = prev.intents
		c.successfulDelegations = prev.successfulDelegations
	}

	c.level = domain.PrivilegeTool
	if hasProfile {
		c.level = profile.PrivilegeLevel
		c.capabilities.add(profile.Capabilities...)
		c.safeActions.add(profile.SafeActions...)
		c.commandScope.add(profile.CommandScope...)
	}
	if desc.PrivilegeLevel != "" {
		if lvl, err := domain.ParsePrivilegeLevel(desc.PrivilegeLevel); err == nil {
			c.level = lvl
		} else {
			o.logger.Warn("ignoring invalid privilege level", "agent_id", agentID, "level", desc.PrivilegeLevel)
		}
	}
	// A refresh never demotes an agent that earned a promotion.
	if prev != nil && prev.level > c.level {
		c.level = prev.level
		c.capabilities.add(domain.CapCommand)
		c.safeActions.add(domain.ActionCommand)
	}
	c.capabilities.add(desc.Capabilities...)
	c.safeActions.add(desc.SafeActions...)
	c.commandScope.add(desc.CommandScope...)
	c.bindings.add(desc.Bindings...)

	if !o.cfg.Enforce {
		c.capabilities.add(domain.BroadCapabilities...)
		c.safeActions.add(domain.AllActions...)
	}

	o.contexts[agentID] = c
	if o.cfg.SendRate > 0 {
		if _, ok := o.limiters[agentID]; !ok {
			o.limiters[agentID] = rate.NewLimiter(rate.Limit(o.cfg.SendRate), o.cfg.SendBurst)
		}
	}

	o.logger.Info("agent authorized",
		"agent_id", agentID, "type", desc.Type, "level", c.level.String(),
		"capabilities", len(c.capabilities), "profile", hasProfile)
	return c.snapshot()
}

// UnregisterAgent destroys the context of agentID and its governance state.
func (o *Orchestrator) UnregisterAgent(agentID string) {
	o.mu.Lock()
	delete(o.contexts, agentID)
	delete(o.limiters, agentID)
	o.mu.Unlock()

	if o.gov != nil {
		o.gov.Forget(agentID)
	}
}

// Context returns a snapshot of agentID's context.
func (o *Orchestrator) Context(agentID string) (AgentContext, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.contexts[agentID]
	if !ok {
		return AgentContext{}, false
	}
	return c.snapshot(), true
}

// Authorize fails with ErrUnauthorized when agentID is unknown, has no
// capabilities, or lacks any of required.
func (o *Orchestrator) Authorize(agentID string, required ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.contexts[agentID]
	if !ok {
		return domain.NewSubSystemError("authz", "Orchestrator.Authorize", domain.ErrUnauthorized, "unregistered agent "+agentID)
	}
	return authorizeLocked(c, required)
}

func authorizeLocked(c *agentContext, required []string) error {
	if len(c.capabilities) == 0 {
		return domain.NewSubSystemError("authz", "Orchestrator.Authorize", domain.ErrUnauthorized, c.agentID+" has no capabilities")
	}
	for _, r := range required {
		if r != "" && !c.capabilities.has(r) {
			return domain.NewSubSystemError("authz", "Orchestrator.Authorize", domain.ErrUnauthorized,
				fmt.Sprintf("%s lacks capability %q", c.agentID, r))
		}
	}
	return nil
}

// IsHierarchyCompliant checks the privilege order between two registered
// agents. Unregistered targets impose no constraint.
func (o *Orchestrator) IsHierarchyCompliant(actorID, targetID string, action domain.ActionType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	actor, ok := o.contexts[actorID]
	if !ok {
		return false
	}
	target, ok := o.contexts[targetID]
	if !ok {
		return true
	}
	return IsHierarchyCompliant(actor.level, target.level, action)
}

// verdict is the outcome of the locked gate evaluation in Broadcast.
type verdict struct {
	action          domain.ActionType
	targetID        string
	denied          error
	missingBindings []string
	looping         bool
	terminate       bool
	limiter         *rate.Limiter
}

// Broadcast authorizes msg, runs it through governance and publishes it with
// metadata.verified set. A governance block returns ErrGovernanceBlocked;
// a failed gate in enforce mode returns ErrUnauthorized.
func (o *Orchestrator) Broadcast(ctx context.Context, msg domain.Message) (domain.Envelope, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.broadcast", tracer.MessageAttrs(msg))
	defer span.End()

	v, err := o.evaluate(msg)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Envelope{}, err
	}

	if len(v.missingBindings) > 0 {
		o.notify(ctx, msg.From, domain.MessageInfo, "missing_binding",
			"Required bindings are not declared: "+strings.Join(v.missingBindings, ", "),
			map[string]any{domain.MetaRequiresBindings: v.missingBindings}, msg)
	}
	if v.terminate {
		o.notify(ctx, msg.From, domain.MessageEnd, "terminate",
			"Conversation terminated: repeated intent "+msg.EffectiveIntent(), nil, msg)
	}
	if v.denied != nil {
		tracer.RecordError(span, v.denied)
		return domain.Envelope{}, v.denied
	}
	if v.looping && o.cfg.Enforce {
		err := domain.NewSubSystemError("governance", "Orchestrator.Broadcast", domain.ErrGovernanceBlocked, "intent loop")
		tracer.RecordError(span, err)
		return domain.Envelope{}, err
	}

	if v.limiter != nil && !v.limiter.Allow() {
		o.metrics.GovernanceDecision("rate_limit")
		err := domain.NewSubSystemError("governance", "Orchestrator.Broadcast", domain.ErrGovernanceBlocked, "send rate exceeded")
		tracer.RecordError(span, err)
		return domain.Envelope{}, err
	}

	if o.gov != nil {
		if d := o.gov.ShouldAllow(msg.From, msg); !d.Allowed {
			o.emit(ctx, domain.EventGovernanceBlocked, msg, string(d.Reason))
			err := domain.NewSubSystemError("governance", "Orchestrator.Broadcast", domain.ErrGovernanceBlocked, string(d.Reason))
			tracer.RecordError(span, err)
			return domain.Envelope{}, err
		}
	}

	o.commitIntent(msg.From, msg.EffectiveIntent())

	out := msg.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, 1)
	}
	out.Metadata[domain.MetaVerified] = true

	env, err := o.pub.Publish(ctx, out)
	if err != nil {
		tracer.RecordError(span, err)
		return env, domain.WrapOp("Orchestrator.Broadcast", err)
	}

	if isDelegation(v.action) && v.targetID != "" {
		o.recordDelegation(ctx, msg.From, v.targetID)
	}
	tracer.SetOK(span)
	return env, nil
}

// evaluate runs every gate under the lock. The intent mirror is only
// advanced by commitIntent once the send is allowed.
func (o *Orchestrator) evaluate(msg domain.Message) (verdict, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sender, ok := o.contexts[msg.From]
	if !ok {
		return verdict{}, domain.NewSubSystemError("authz", "Orchestrator.Broadcast", domain.ErrUnauthorized, "unregistered sender "+msg.From)
	}

	v := verdict{action: ResolveActionType(msg), limiter: o.limiters[msg.From]}
	if msg.To != "" && msg.To != domain.BroadcastTarget && o.resolver != nil {
		if id, ok := o.resolver.Resolve(msg.To); ok {
			v.targetID = id
		}
	}
	if v.targetID == msg.From {
		return verdict{}, domain.NewDomainError("Orchestrator.Broadcast", domain.ErrInvalidInput, msg.To+" resolves to sender "+msg.From)
	}

	deny := func(reason string, err error) {
		o.metrics.AuthorizationDenied(string(v.action), reason)
		if o.cfg.Enforce {
			if v.denied == nil {
				v.denied = err
			}
			return
		}
		o.logger.Debug("authorization check failed in open mode",
			"agent_id", msg.From, "action", string(v.action), "reason", reason, "error", err)
	}

	required := CapabilityForAction(v.action, msg.EffectiveIntent())
	if err := authorizeLocked(sender, []string{required}); err != nil {
		deny("capability", err)
	}
	if !sender.safeActions.has(v.action) {
		deny("safe_action", domain.NewSubSystemError("authz", "Orchestrator.Broadcast", domain.ErrUnauthorized,
			fmt.Sprintf("%s may not send %s", msg.From, v.action)))
	}
	if target, ok := o.contexts[v.targetID]; ok {
		if !IsHierarchyCompliant(sender.level, target.level, v.action) {
			deny("hierarchy", domain.NewSubSystemError("authz", "Orchestrator.Broadcast", domain.ErrUnauthorized,
				fmt.Sprintf("%s (%s) does not outrank %s (%s)", msg.From, sender.level, v.targetID, target.level)))
		}
		if v.action == domain.ActionCommand && len(sender.commandScope) > 0 &&
			!sender.commandScope.has(target.agentID) && !sender.commandScope.has(target.agentType) {
			deny("command_scope", domain.NewSubSystemError("authz", "Orchestrator.Broadcast", domain.ErrUnauthorized,
				fmt.Sprintf("%s is outside the command scope of %s", v.targetID, msg.From)))
		}
	}

	for _, b := range msg.MetaStrings(domain.MetaRequiresBindings) {
		if !sender.bindings.has(b) {
			v.missingBindings = append(v.missingBindings, b)
		}
	}
	if len(v.missingBindings) > 0 {
		deny("binding", domain.NewSubSystemError("authz", "Orchestrator.Broadcast", domain.ErrUnauthorized,
			"missing bindings "+strings.Join(v.missingBindings, ", ")))
	}

	v.looping = governance.DetectsLoop(sender.intents, msg.EffectiveIntent(), o.cfg.LoopWindow)
	// One END per streak of repeated intents.
	v.terminate = v.looping && !sender.terminated
	sender.terminated = v.looping
	return v, nil
}

func (o *Orchestrator) commitIntent(agentID, intent string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.contexts[agentID]; ok {
		c.pushIntent(intent)
	}
}

// recordDelegation counts a successful higher-to-lower delegation and
// promotes a tool agent once it reaches the threshold.
func (o *Orchestrator) recordDelegation(ctx context.Context, actorID, targetID string) {
	o.mu.Lock()
	actor, ok1 := o.contexts[actorID]
	target, ok2 := o.contexts[targetID]
	if !ok1 || !ok2 || !actor.level.Outranks(target.level) {
		o.mu.Unlock()
		return
	}
	target.successfulDelegations++
	promoted := false
	if target.level == domain.PrivilegeTool && target.successfulDelegations >= o.cfg.PromotionThreshold {
		target.level = domain.PrivilegeOrchestratorLite
		target.capabilities.add(domain.CapCommand)
		target.safeActions.add(domain.ActionCommand)
		target.successfulDelegations = 0
		promoted = true
	}
	o.mu.Unlock()

	if promoted {
		o.metrics.Promoted()
		o.logger.Info("agent promoted", "agent_id", targetID, "level", domain.PrivilegeOrchestratorLite.String())
		if o.bus != nil {
			o.bus.Publish(ctx, domain.Event{
				Type:  domain.EventAgentPromoted,
				State: domain.StateChange{AgentID: targetID, Reason: domain.PrivilegeOrchestratorLite.String()},
			})
		}
	}
}

// notify sends a synthetic message from the conversation governor straight
// through the publisher.
func (o *Orchestrator) notify(ctx context.Context, to string, t domain.MessageType, intent, content string, meta map[string]any, cause domain.Message) {
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	meta[domain.MetaVerified] = true
	if conv := cause.ConversationID; conv != "" {
		meta[domain.MetaConversationID] = conv
	}
	gm := domain.Message{
		From:           domain.GovernorID,
		To:             to,
		Type:           t,
		Intent:         intent,
		Content:        content,
		Metadata:       meta,
		ConversationID: cause.ConversationID,
	}
	if _, err := o.pub.Publish(ctx, gm); err != nil {
		o.logger.Warn("governor notification failed", "agent_id", to, "intent", intent, "error", err)
		return
	}
	o.logger.Info("governor notified agent", "agent_id", to, "intent", intent)
	o.emit(ctx, domain.EventGovernanceNotified, gm, intent)
}

func (o *Orchestrator) emit(ctx context.Context, t domain.EventType, msg domain.Message, reason string) {
	if o.bus == nil {
		return
	}
	cp := msg.Clone()
	o.bus.Publish(ctx, domain.Event{
		Type:  t,
		State: domain.StateChange{AgentID: msg.From, Message: &cp, Direction: domain.DirectionOut, Reason: reason},
	})
}
