// Package hub is the composition root of the agent core. A Hub owns the
// registry, router, governance engine, orchestrator, memory store and every
// live agent unit; nothing in the core is a package-level singleton.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"agenthub/internal/adapter/memory"
	"agenthub/internal/adapter/profile"
	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
	"agenthub/internal/infra/metrics"
	"agenthub/internal/usecase/agent"
	"agenthub/internal/usecase/authz"
	"agenthub/internal/usecase/eventbus"
	"agenthub/internal/usecase/governance"
	"agenthub/internal/usecase/multiagent"
	"agenthub/internal/usecase/router"
)

// Deps are the optional collaborators of a Hub. Zero fields get defaults.
type Deps struct {
	Metrics  *metrics.Metrics
	Bus      *eventbus.Bus
	Profiles domain.ProfileLookup
	Catalog  *agent.Catalog
	// Durable is the backend memory sink. It is wrapped in a circuit breaker
	// and an async worker pool; nil keeps memory in process only.
	Durable     domain.MemorySink
	DurableName string
}

// Hub wires the core components together.
type Hub struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	bus          *eventbus.Bus
	registry     *multiagent.Registry
	router       *router.Router
	governor     *governance.Engine
	orchestrator *authz.Orchestrator
	catalog      *agent.Catalog
	store        *memory.Store
	sink         domain.MemorySink
	async        *memory.AsyncSink
	durable      domain.MemoryQuerier

	mu     sync.Mutex
	units  map[string]*agent.Unit
	closed bool
}

// New builds a Hub from cfg.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Hub, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	h := &Hub{
		cfg:     cfg,
		logger:  logger,
		metrics: deps.Metrics,
		units:   make(map[string]*agent.Unit),
	}

	h.bus = deps.Bus
	if h.bus == nil {
		h.bus = eventbus.New(logger.With("component", "eventbus"))
	}

	profiles := deps.Profiles
	if profiles == nil {
		static, err := profile.FromConfig(cfg.Authorization)
		if err != nil {
			return nil, domain.NewDomainError("hub.New", domain.ErrConfiguration, err.Error())
		}
		profiles = static
	}

	h.catalog = deps.Catalog
	if h.catalog == nil {
		h.catalog = agent.DefaultCatalog(logger)
	}

	h.registry = multiagent.NewRegistry(logger.With("component", "registry"))
	h.router = router.New(h.registry, h.bus, logger.With("component", "router"),
		router.WithStrictDelivery(cfg.Router.StrictDelivery),
		router.WithMentionRouting(cfg.Router.MentionRouting),
		router.WithMetrics(h.metrics),
	)
	h.governor = governance.NewEngine(governance.PolicyFromConfig(cfg.Governance), logger.With("component", "governance"),
		governance.WithMetrics(h.metrics),
	)
	h.orchestrator = authz.New(h.router, h.registry, h.governor, profiles,
		authz.ConfigFrom(cfg.Authorization, cfg.Governance), logger.With("component", "authz"),
		authz.WithEventBus(h.bus),
		authz.WithMetrics(h.metrics),
	)

	h.store = memory.NewStore(cfg.Memory.ShortTermLimit, cfg.Memory.SharedLogLimit)
	h.sink = h.store
	if deps.Durable != nil {
		name := deps.DurableName
		if name == "" {
			name = cfg.Memory.Backend
		}
		breaker := memory.NewBreakerSink(deps.Durable, name, cfg.Memory.Breaker, logger)
		h.async = memory.NewAsyncSink(breaker, name, cfg.Memory.Workers, cfg.Memory.QueueSize, logger,
			memory.WithAsyncMetrics(h.metrics))
		h.sink = memory.NewMultiSink(h.store, h.async)
		if _, ok := deps.Durable.(domain.MemoryQuerier); ok {
			h.durable = h.async
		}
	}
	return h, nil
}

// Spawn builds the behavior for desc.Kind from the catalog and starts a unit.
func (h *Hub) Spawn(ctx context.Context, desc domain.AgentDescriptor) (*agent.Unit, error) {
	behavior, err := h.catalog.Build(desc)
	if err != nil {
		return nil, domain.WrapOp("Hub.Spawn", err)
	}
	return h.SpawnWith(ctx, desc, behavior)
}

// SpawnWith starts a unit running behavior. The unit is registered with the
// router under its id and aliases and with the orchestrator under its type.
func (h *Hub) SpawnWith(ctx context.Context, desc domain.AgentDescriptor, behavior agent.Behavior) (*agent.Unit, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, domain.NewDomainError("Hub.Spawn", domain.ErrDisposed, "hub is shut down")
	}
	if _, err := h.registry.Get(desc.ID); err == nil {
		return nil, domain.NewSubSystemError("registry", "Hub.Spawn", domain.ErrDuplicate, desc.ID)
	}

	unit := agent.New(desc, behavior, h.orchestrator, agent.ConfigFrom(h.cfg.Agents), h.logger,
		agent.WithEventBus(h.bus),
		agent.WithMemorySink(h.sink),
		agent.WithMemoryQuerier(h),
		agent.WithMetrics(h.metrics),
	)
	if err := h.registry.Register(unit, desc.Aliases...); err != nil {
		// Alias conflicts are reported after the id itself was registered.
		if r, gerr := h.registry.Get(desc.ID); gerr == nil && r == domain.Recipient(unit) {
			_, _ = h.registry.Unregister(desc.ID)
		}
		unit.Dispose()
		return nil, domain.WrapOp("Hub.Spawn", err)
	}
	h.orchestrator.RegisterAgent(desc.ID, desc)

	id := desc.ID
	unit.OnDispose(func() {
		if _, err := h.registry.Unregister(id); err != nil {
			h.logger.Debug("unregister on dispose", "agent_id", id, "error", err)
		}
		h.orchestrator.UnregisterAgent(id)
		h.store.Forget(id)
	})

	if err := unit.Start(ctx); err != nil {
		unit.Dispose()
		return nil, domain.WrapOp("Hub.Spawn", err)
	}

	h.mu.Lock()
	h.units[id] = unit
	live := len(h.units)
	h.mu.Unlock()

	h.metrics.SetAgentsLive(live)
	h.bus.Publish(ctx, domain.Event{
		Type:  domain.EventAgentRegistered,
		State: domain.StateChange{AgentID: id, Reason: desc.Kind},
	})
	h.logger.Info("agent spawned", "agent_id", id, "kind", desc.Kind, "type", desc.Type)
	return unit, nil
}

// Remove disposes the unit with id and forgets it.
func (h *Hub) Remove(ctx context.Context, id string) error {
	h.mu.Lock()
	unit, ok := h.units[id]
	delete(h.units, id)
	live := len(h.units)
	h.mu.Unlock()

	if !ok {
		return domain.NewSubSystemError("agent", "Hub.Remove", domain.ErrNotFound, id)
	}
	unit.Dispose()
	h.metrics.SetAgentsLive(live)
	h.bus.Publish(ctx, domain.Event{
		Type:  domain.EventAgentUnregistered,
		State: domain.StateChange{AgentID: id},
	})
	h.logger.Info("agent removed", "agent_id", id)
	return nil
}

// Unit returns the live unit with id.
func (h *Hub) Unit(id string) (*agent.Unit, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.units[id]
	return u, ok
}

// Statuses returns a snapshot of every live unit, sorted by id.
func (h *Hub) Statuses() []domain.AgentStatus {
	h.mu.Lock()
	units := make([]*agent.Unit, 0, len(h.units))
	for _, u := range h.units {
		units = append(units, u)
	}
	h.mu.Unlock()

	out := make([]domain.AgentStatus, 0, len(units))
	for _, u := range units {
		out = append(out, u.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Query ranks the stored memories of agentID against text, or of every
// agent when agentID is empty. A durable sink that can rank records answers
// first; the in-process store answers otherwise or when the durable read
// fails. Recent writes may still be queued for the durable sink.
func (h *Hub) Query(ctx context.Context, agentID, text string, limit int) ([]domain.MemoryRecord, error) {
	if h.durable != nil {
		recs, err := h.durable.Query(ctx, agentID, text, limit)
		if err == nil {
			return recs, nil
		}
		h.logger.Warn("durable memory query failed, using in-process store", "agent_id", agentID, "error", err)
	}
	return h.store.Query(ctx, agentID, text, limit)
}

// Send submits msg through the orchestrator on behalf of a registered agent.
func (h *Hub) Send(ctx context.Context, msg domain.Message) (domain.Envelope, error) {
	return h.orchestrator.Broadcast(ctx, msg)
}

// Accessors for the wired components.
func (h *Hub) Bus() *eventbus.Bus { return h.bus }
func (h *Hub) Registry() *multiagent.Registry { return h.registry }
func (h *Hub) Router() *router.Router { return h.router }
func (h *Hub) Governor() *governance.Engine { return h.governor }
func (h *Hub) Orchestrator() *authz.Orchestrator { return h.orchestrator }
func (h *Hub) Memory() *memory.Store { return h.store }
func (h *Hub) Catalog() *agent.Catalog { return h.catalog }

// Shutdown disposes every unit, waits for their loops to exit, drains the
// durable memory queue and closes the event bus. In-flight handlers finish
// unless ctx expires first.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	units := make([]*agent.Unit, 0, len(h.units))
	for _, u := range h.units {
		units = append(units, u)
	}
	clear(h.units)
	h.mu.Unlock()

	for _, u := range units {
		u.Dispose()
	}
	h.metrics.SetAgentsLive(0)

	var errs []error
	for _, u := range units {
		select {
		case <-u.Done():
		case <-ctx.Done():
			errs = append(errs, domain.WrapOp("Hub.Shutdown", ctx.Err()))
		}
		if ctx.Err() != nil {
			break
		}
	}
	if h.async != nil {
		if err := h.async.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.bus.Close()
	h.logger.Info("hub shut down", "agents", len(units))
	return errors.Join(errs...)
}
