// Package agent implements the agent unit: an ordered inbox consumed by one
// processing loop, a rolling memory ring, an autonomy timer and follow-up
// escalation bookkeeping.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
	"agenthub/internal/infra/metrics"
	"agenthub/internal/infra/tracer"
)

// Sender submits outbound messages through authorization and governance.
// *authz.Orchestrator implements it.
type Sender interface {
	Broadcast(ctx context.Context, msg domain.Message) (domain.Envelope, error)
}

// Behavior is the kind-specific message handler of a unit.
type Behavior interface {
	HandleMessage(ctx context.Context, u *Unit, env domain.Envelope) error
}

// Thinker is implemented by behaviors that act on the autonomy timer.
type Thinker interface {
	Think(ctx context.Context, u *Unit) error
}

// Config holds unit runtime settings.
type Config struct {
	MemoryLimit int
	// AutonomyInterval is the autonomy timer period; 0 disables the timer.
	AutonomyInterval time.Duration
	TalkingPulse     time.Duration
}

const (
	defaultMemoryLimit  = 200
	defaultTalkingPulse = 250 * time.Millisecond
	summaryMaxRunes     = 280
)

// ConfigFrom builds a Config from the agents section.
func ConfigFrom(c config.AgentsConfig) Config {
	cfg := Config{MemoryLimit: c.MemoryLimit, TalkingPulse: c.TalkingPulse}
	if c.AutonomyEnabled {
		cfg.AutonomyInterval = c.AutonomyInterval
	}
	return cfg
}

// Unit is one live agent instance.
type Unit struct {
	desc     domain.AgentDescriptor
	behavior Behavior
	sender   Sender
	cfg      Config
	bus      domain.EventBus
	sink     domain.MemorySink
	querier  domain.MemoryQuerier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	inbox       *Inbox[domain.Envelope]
	loopStarted atomic.Bool
	loopDone    chan struct{}
	flushing    atomic.Bool
	disposed    atomic.Bool

	lifetime context.Context
	cancel   context.CancelFunc
	cron     *cron.Cron

	mu          sync.Mutex
	state       domain.AgentState
	connections map[string]struct{}
	memory      []domain.AgentMemoryEntry
	followUps   []domain.Message
	timers      map[*time.Timer]struct{}
	teardown    []func()
}

// Option configures a Unit.
type Option func(*Unit)

// WithEventBus publishes talking and link-activity state changes.
func WithEventBus(bus domain.EventBus) Option { return func(u *Unit) { u.bus = bus } }

// WithMemorySink forwards memory summaries to a durable sink. The sink is
// called inline, so it should not block (see memory.AsyncSink).
func WithMemorySink(s domain.MemorySink) Option { return func(u *Unit) { u.sink = s } }

// WithMemoryQuerier sets where Recall looks up memories. Without it Recall
// uses the memory sink when that sink can rank records.
func WithMemoryQuerier(q domain.MemoryQuerier) Option { return func(u *Unit) { u.querier = q } }

// WithMetrics records handler latency, failures and inbox depth.
func WithMetrics(m *metrics.Metrics) Option { return func(u *Unit) { u.metrics = m } }

// WithClock overrides the clock used for memory timestamps.
func WithClock(now func() time.Time) Option { return func(u *Unit) { u.now = now } }

// New creates a unit in the created state. Call Start to arm the autonomy
// timer; the processing loop starts on the first inbound message.
func New(desc domain.AgentDescriptor, behavior Behavior, sender Sender, cfg Config, logger *slog.Logger, opts ...Option) *Unit {
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = defaultMemoryLimit
	}
	if cfg.TalkingPulse <= 0 {
		cfg.TalkingPulse = defaultTalkingPulse
	}
	u := &Unit{
		desc:        desc,
		behavior:    behavior,
		sender:      sender,
		cfg:         cfg,
		logger:      logger.With("agent_id", desc.ID),
		now:         time.Now,
		inbox:       NewInbox[domain.Envelope](),
		loopDone:    make(chan struct{}),
		state:       domain.AgentCreated,
		connections: make(map[string]struct{}),
		timers:      make(map[*time.Timer]struct{}),
	}
	u.lifetime, u.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ID returns the agent id.
func (u *Unit) ID() string { return u.desc.ID }

// Descriptor returns the registration descriptor.
func (u *Unit) Descriptor() domain.AgentDescriptor { return u.desc }

// Behavior returns the kind-specific handler.
func (u *Unit) Behavior() Behavior { return u.behavior }

// Start moves the unit to idle and arms the autonomy timer.
func (u *Unit) Start(ctx context.Context) error {
	if u.disposed.Load() {
		return domain.NewDomainError("Unit.Start", domain.ErrDisposed, u.ID())
	}
	u.mu.Lock()
	if u.state != domain.AgentCreated {
		u.mu.Unlock()
		return nil
	}
	u.state = domain.AgentIdle
	u.mu.Unlock()

	if u.cfg.AutonomyInterval > 0 {
		u.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		u.cron.Schedule(every(u.cfg.AutonomyInterval), cron.FuncJob(func() {
			u.Tick(u.lifetime)
		}))
		u.cron.Start()
		u.logger.Debug("autonomy timer armed", "interval", u.cfg.AutonomyInterval)
	}
	return nil
}

// ReceiveMessage is called by the router. It records the sender as a
// connection, appends the message to memory, enqueues it, collects
// escalation hints and ensures the processing loop is running.
func (u *Unit) ReceiveMessage(ctx context.Context, env domain.Envelope) {
	if u.disposed.Load() {
		u.logger.Debug("message dropped by disposed agent", "message_id", env.ID)
		return
	}
	u.addConnection(env.From)
	u.remember(ctx, domain.DirectionIn, env)

	if !u.inbox.Push(env) {
		u.logger.Debug("message dropped by closed inbox", "message_id", env.ID)
		return
	}
	u.metrics.SetInboxDepth(u.ID(), u.inbox.Len())
	u.collectFollowUps(env)
	u.ensureLoop(ctx)
}

func (u *Unit) ensureLoop(ctx context.Context) {
	if !u.loopStarted.CompareAndSwap(false, true) {
		return
	}
	go u.run(context.WithoutCancel(ctx))
}

// run is the single consumer of the inbox. It exits once the inbox is closed.
func (u *Unit) run(ctx context.Context) {
	defer close(u.loopDone)
	for {
		if u.inbox.Len() == 0 {
			u.setState(domain.AgentParked)
		}
		env, ok := u.inbox.Next(ctx)
		if !ok {
			return
		}
		u.setState(domain.AgentRunning)
		u.metrics.SetInboxDepth(u.ID(), u.inbox.Len())
		u.process(ctx, env)

		if u.pendingFollowUps() > 0 {
			u.FlushFollowUps(ctx)
		}
	}
}

func (u *Unit) process(ctx context.Context, env domain.Envelope) {
	link := &domain.LinkActivity{Peer: env.From, Active: true}
	u.emit(ctx, domain.StateChange{
		AgentID: u.ID(), Message: &env, Direction: domain.DirectionIn,
		IsTalking: domain.Talking(true), LinkActivity: link,
	})

	start := time.Now()
	err := u.invoke(ctx, env)
	u.metrics.ObserveHandler(u.desc.Kind, time.Since(start))

	u.emit(ctx, domain.StateChange{
		AgentID: u.ID(), Message: &env, Direction: domain.DirectionIn,
		IsTalking: domain.Talking(false), LinkActivity: &domain.LinkActivity{Peer: env.From, Active: false},
	})

	if err != nil {
		u.metrics.HandlerFailed(u.ID())
		u.logger.Error("message handler failed", "message_id", env.ID, "from", env.From, "error", err)
		if u.bus != nil {
			u.bus.Publish(ctx, domain.Event{
				Type:  domain.EventHandlerFailed,
				State: domain.StateChange{AgentID: u.ID(), Message: &env, Direction: domain.DirectionIn, Reason: err.Error()},
			})
		}
	}
}

// invoke runs the behavior for one message. Panics become ErrProcessing.
func (u *Unit) invoke(ctx context.Context, env domain.Envelope) (err error) {
	ctx, span := tracer.StartSpan(ctx, "agent.handle_message", tracer.MessageAttrs(env))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = domain.NewDomainError("Unit.process", domain.ErrProcessing, fmt.Sprintf("panic in handler for %s: %v", env.ID, r))
		}
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			tracer.SetOK(span)
		}
	}()

	if herr := u.behavior.HandleMessage(ctx, u, env); herr != nil {
		if errors.Is(herr, domain.ErrProcessing) {
			return herr
		}
		return fmt.Errorf("Unit.process %s: %w: %w", env.ID, domain.ErrProcessing, herr)
	}
	return nil
}

// SendMessage builds a message from this agent and sends it through the
// orchestrator.
func (u *Unit) SendMessage(ctx context.Context, to string, t domain.MessageType, content string, metadata map[string]any) (domain.Envelope, error) {
	return u.Send(ctx, domain.Message{To: to, Type: t, Content: content, Metadata: metadata})
}

// Send submits msg with From set to this agent. A governance block is
// returned as ErrGovernanceBlocked and leaves no trace in memory.
func (u *Unit) Send(ctx context.Context, msg domain.Message) (domain.Envelope, error) {
	if u.disposed.Load() {
		return domain.Envelope{}, domain.NewDomainError("Unit.Send", domain.ErrDisposed, u.ID())
	}
	msg.From = u.ID()
	if msg.ConversationID == "" {
		msg.ConversationID = msg.MetaString(domain.MetaConversationID)
	}

	env, err := u.sender.Broadcast(ctx, msg)
	if err != nil {
		if errors.Is(err, domain.ErrGovernanceBlocked) {
			u.logger.Info("send blocked by governance", "to", msg.To, "type", string(msg.Type), "error", err)
		}
		return domain.Envelope{}, domain.WrapOp("Unit.Send", err)
	}

	if env.To != domain.BroadcastTarget {
		u.addConnection(env.To)
	}
	u.remember(ctx, domain.DirectionOut, env)
	u.pulse(ctx, env)
	return env, nil
}

// pulse emits talking=true now and talking=false after the pulse duration
// on a timer that Dispose cancels.
func (u *Unit) pulse(ctx context.Context, env domain.Envelope) {
	if u.bus == nil {
		return
	}
	u.emit(ctx, domain.StateChange{
		AgentID: u.ID(), Message: &env, Direction: domain.DirectionOut,
		IsTalking: domain.Talking(true), LinkActivity: &domain.LinkActivity{Peer: env.To, Active: true},
	})

	ctx = context.WithoutCancel(ctx)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == domain.AgentDisposed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(u.cfg.TalkingPulse, func() {
		u.mu.Lock()
		_, live := u.timers[t]
		delete(u.timers, t)
		u.mu.Unlock()
		if !live {
			return
		}
		u.emit(ctx, domain.StateChange{
			AgentID: u.ID(), Direction: domain.DirectionOut,
			IsTalking: domain.Talking(false), LinkActivity: &domain.LinkActivity{Peer: env.To, Active: false},
		})
	})
	u.timers[t] = struct{}{}
}

// Tick runs one autonomy step: the behavior's Think when it has one,
// otherwise a follow-up flush.
func (u *Unit) Tick(ctx context.Context) {
	if u.disposed.Load() {
		return
	}
	if th, ok := u.behavior.(Thinker); ok {
		if err := th.Think(ctx, u); err != nil {
			u.logger.Warn("autonomy step failed", "error", err)
		}
		return
	}
	u.FlushFollowUps(ctx)
}

// OnDispose registers fn to run once when the unit is disposed. If the unit
// is already disposed fn runs immediately.
func (u *Unit) OnDispose(fn func()) {
	u.mu.Lock()
	if u.state != domain.AgentDisposed {
		u.teardown = append(u.teardown, fn)
		u.mu.Unlock()
		return
	}
	u.mu.Unlock()
	fn()
}

// Dispose stops the autonomy timer, closes the inbox, cancels pending
// timers and runs teardown callbacks. An in-flight handler finishes; no
// further message is dequeued. Dispose is idempotent.
func (u *Unit) Dispose() {
	if !u.disposed.CompareAndSwap(false, true) {
		return
	}
	if u.cron != nil {
		u.cron.Stop()
	}
	u.cancel()
	u.inbox.Close()
	// A loop that never started will never close loopDone.
	if u.loopStarted.CompareAndSwap(false, true) {
		close(u.loopDone)
	}

	u.mu.Lock()
	u.state = domain.AgentDisposed
	for t := range u.timers {
		t.Stop()
	}
	clear(u.timers)
	teardown := u.teardown
	u.teardown = nil
	u.followUps = nil
	u.mu.Unlock()

	for _, fn := range teardown {
		fn()
	}
	u.metrics.ForgetAgent(u.ID())
	u.logger.Debug("agent disposed")
}

// Done is closed when the processing loop has exited.
func (u *Unit) Done() <-chan struct{} { return u.loopDone }

// State returns the lifecycle state.
func (u *Unit) State() domain.AgentState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Unit) setState(s domain.AgentState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != domain.AgentDisposed {
		u.state = s
	}
}

// InboxDepth returns the number of queued messages.
func (u *Unit) InboxDepth() int { return u.inbox.Len() }

// Connections returns the sorted set of peers this agent has exchanged
// messages with.
func (u *Unit) Connections() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.connections))
	for id := range u.connections {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (u *Unit) addConnection(peer string) {
	if peer == "" || peer == u.ID() {
		return
	}
	u.mu.Lock()
	u.connections[peer] = struct{}{}
	u.mu.Unlock()
}

// Memory returns a copy of the memory ring, oldest first.
func (u *Unit) Memory() []domain.AgentMemoryEntry {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]domain.AgentMemoryEntry(nil), u.memory...)
}

// Status returns a snapshot for observers.
func (u *Unit) Status() domain.AgentStatus {
	depth := u.inbox.Len()
	conns := u.Connections()
	u.mu.Lock()
	defer u.mu.Unlock()
	return domain.AgentStatus{
		ID:          u.ID(),
		Kind:        u.desc.Kind,
		State:       u.state,
		InboxDepth:  depth,
		Connections: conns,
		MemoryLen:   len(u.memory),
		FollowUps:   len(u.followUps),
	}
}

func (u *Unit) emit(ctx context.Context, sc domain.StateChange) {
	if u.bus == nil {
		return
	}
	u.bus.Publish(ctx, domain.Event{Type: domain.EventStateChanged, State: sc})
}

// every is a fixed-interval cron schedule that, unlike cron.Every, keeps
// sub-second periods.
type every time.Duration

func (d every) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }
