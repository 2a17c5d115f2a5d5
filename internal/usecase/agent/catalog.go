package agent

import (
	"log/slog"
	"sort"
	"sync"

	"agenthub/internal/domain"
)

// Built-in behavior kinds.
const (
	KindResponder = "responder"
	KindObserver  = "observer"
)

// Factory builds the behavior for one agent instance.
type Factory func(desc domain.AgentDescriptor) (Behavior, error)

// Catalog maps agent kinds to behavior factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// DefaultCatalog returns a catalog holding the built-in kinds.
func DefaultCatalog(logger *slog.Logger) *Catalog {
	c := NewCatalog()
	_ = c.Register(KindResponder, func(domain.AgentDescriptor) (Behavior, error) {
		return NewResponder(nil), nil
	})
	_ = c.Register(KindObserver, func(desc domain.AgentDescriptor) (Behavior, error) {
		return NewObserver(logger.With("agent_id", desc.ID)), nil
	})
	return c
}

// Register adds a factory. Returns an error if kind is already registered.
func (c *Catalog) Register(kind string, f Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == "" || f == nil {
		return domain.NewSubSystemError("catalog", "Catalog.Register", domain.ErrInvalidInput, "kind and factory are required")
	}
	if _, exists := c.factories[kind]; exists {
		return domain.NewSubSystemError("catalog", "Catalog.Register", domain.ErrDuplicate, kind)
	}
	c.factories[kind] = f
	return nil
}

// Build creates the behavior for desc.Kind.
func (c *Catalog) Build(desc domain.AgentDescriptor) (Behavior, error) {
	c.mu.RLock()
	f, ok := c.factories[desc.Kind]
	c.mu.RUnlock()

	if !ok {
		return nil, domain.NewSubSystemError("catalog", "Catalog.Build", domain.ErrNotFound, "unknown agent kind "+desc.Kind)
	}
	b, err := f(desc)
	if err != nil {
		return nil, domain.WrapOp("Catalog.Build", err)
	}
	return b, nil
}

// Kinds returns the registered kinds in sorted order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
