// Package router delivers typed envelopes between live agents.
package router

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"agenthub/internal/domain"
	"agenthub/internal/infra/metrics"
	"agenthub/internal/infra/tracer"
)

// Directory resolves delivery targets. *multiagent.Registry implements it.
type Directory interface {
	Lookup(idOrAlias string) (domain.Recipient, error)
	List() []domain.Recipient
	AddAlias(id, alias string) error
	RemoveAlias(alias string)
}

// Router stamps and delivers envelopes. It holds no agent references of its
// own; every delivery resolves the target through the Directory.
type Router struct {
	dir      Directory
	bus      domain.EventBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
	strict   bool
	mentions bool
	now      func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures a Router.
type Option func(*Router)

// WithStrictDelivery makes Publish return ErrDeliveryUnresolved alongside the
// envelope when the target is not live.
func WithStrictDelivery(strict bool) Option { return func(r *Router) { r.strict = strict } }

// WithMentionRouting enables @mention targeting for messages without a To.
func WithMentionRouting(on bool) Option { return func(r *Router) { r.mentions = on } }

// WithMetrics records delivery counters.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Router) { r.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// New creates a Router. bus may be nil.
func New(dir Directory, bus domain.EventBus, logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		dir:    dir,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	seed := r.now().UnixNano()
	r.entropy = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
	return r
}

func (r *Router) newID(t time.Time) string {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}

// Publish stamps msg with an id and timestamp and delivers it to the resolved
// target. An unresolved target is not a delivery failure unless strict
// delivery is on; the envelope is returned either way.
func (r *Router) Publish(ctx context.Context, msg domain.Message) (domain.Envelope, error) {
	ctx, span := tracer.StartSpan(ctx, "router.publish", tracer.MessageAttrs(msg))
	defer span.End()

	if !msg.Type.Valid() {
		err := domain.NewDomainError("Router.Publish", domain.ErrInvalidInput, "message type "+string(msg.Type))
		tracer.RecordError(span, err)
		return domain.Envelope{}, err
	}
	if msg.To != "" && msg.To != domain.BroadcastTarget && msg.To == msg.From {
		err := domain.NewDomainError("Router.Publish", domain.ErrInvalidInput, "sender and target are both "+msg.From)
		tracer.RecordError(span, err)
		return domain.Envelope{}, err
	}

	now := r.now()
	env := msg.Clone()
	env.ID = r.newID(now)
	env.Timestamp = now
	if env.ConversationID == "" {
		env.ConversationID = env.MetaString(domain.MetaConversationID)
	}

	if env.To == "" && r.mentions {
		if target, ok := r.resolveMention(env.From, env.Content); ok {
			env.To = target.ID()
			r.logger.Debug("mention matched agent", "message_id", env.ID, "agent_id", env.To)
		}
	}

	r.metrics.MessagePublished(string(env.Type))

	if env.To == domain.BroadcastTarget {
		n := r.broadcast(ctx, env)
		r.logger.Debug("message broadcast", "message_id", env.ID, "from", env.From, "recipients", n)
		r.emit(ctx, domain.EventMessagePublished, env)
		tracer.SetOK(span)
		return env, nil
	}

	target, err := r.dir.Lookup(env.To)
	if err != nil {
		r.metrics.MessageUnresolved()
		r.logger.Warn("delivery target not found",
			"message_id", env.ID, "from", env.From, "to", env.To, "type", string(env.Type))
		r.emit(ctx, domain.EventMessageUnresolved, env)
		if r.strict {
			derr := domain.NewDomainError("Router.Publish", domain.ErrDeliveryUnresolved, "target "+env.To)
			tracer.RecordError(span, derr)
			return env, derr
		}
		tracer.SetOK(span)
		return env, nil
	}

	if target.ID() == env.From {
		err := domain.NewDomainError("Router.Publish", domain.ErrInvalidInput, env.To+" resolves to sender "+env.From)
		tracer.RecordError(span, err)
		return domain.Envelope{}, err
	}

	env.To = target.ID()
	target.ReceiveMessage(ctx, env.Clone())
	r.metrics.MessageDelivered(env.To)
	r.logger.Debug("message delivered",
		"message_id", env.ID, "from", env.From, "to", env.To, "type", string(env.Type))
	r.emit(ctx, domain.EventMessagePublished, env)
	tracer.SetOK(span)
	return env, nil
}

func (r *Router) broadcast(ctx context.Context, env domain.Envelope) int {
	n := 0
	for _, a := range r.dir.List() {
		if a.ID() == env.From {
			continue
		}
		a.ReceiveMessage(ctx, env.Clone())
		r.metrics.MessageDelivered(a.ID())
		n++
	}
	return n
}

// resolveMention returns the first @token in content naming a live agent
// other than the sender.
func (r *Router) resolveMention(from, content string) (domain.Recipient, bool) {
	for _, tok := range strings.Fields(content) {
		if !strings.HasPrefix(tok, "@") || len(tok) < 2 {
			continue
		}
		name := strings.TrimRight(tok[1:], ".,;:!?)\"'")
		a, err := r.dir.Lookup(name)
		if err != nil || a.ID() == from {
			continue
		}
		return a, true
	}
	return nil, false
}

// RegisterTopicAlias makes agentID addressable as alias and as its compact
// whitespace-free form.
func (r *Router) RegisterTopicAlias(agentID, alias string) error {
	if err := r.dir.AddAlias(agentID, alias); err != nil {
		return domain.WrapOp("Router.RegisterTopicAlias", err)
	}
	r.logger.Debug("topic alias registered", "agent_id", agentID, "alias", alias)
	return nil
}

// UnregisterTopicAlias removes alias and its compact form.
func (r *Router) UnregisterTopicAlias(alias string) {
	r.dir.RemoveAlias(alias)
}

// EmitStateChange forwards an observer notification. Best-effort.
func (r *Router) EmitStateChange(ctx context.Context, sc domain.StateChange) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, domain.Event{Type: domain.EventStateChanged, Timestamp: r.now(), State: sc})
}

func (r *Router) emit(ctx context.Context, t domain.EventType, env domain.Envelope) {
	if r.bus == nil {
		return
	}
	cp := env.Clone()
	r.bus.Publish(ctx, domain.Event{
		Type:      t,
		Timestamp: env.Timestamp,
		State:     domain.StateChange{AgentID: env.From, Message: &cp, Direction: domain.DirectionOut},
	})
}
