package multiagent

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"agenthub/internal/domain"
)

// Registry is the single owner of live agent instances. Agents are indexed by
// id and by any number of aliases; every alias also gets a compact variant
// with whitespace removed.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]domain.Recipient
	aliases map[string]string // alias -> agent id
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents:  make(map[string]domain.Recipient),
		aliases: make(map[string]string),
		logger:  logger,
	}
}

// Compact strips all whitespace from alias.
func Compact(alias string) string {
	return strings.Join(strings.Fields(alias), "")
}

// Register adds an agent and its aliases. Returns ErrDuplicate if the id is
// already live or collides with an existing alias. Alias conflicts are
// reported after the agent itself has been registered.
func (r *Registry) Register(agent domain.Recipient, aliases ...string) error {
	id := agent.ID()
	if id == "" || id == domain.BroadcastTarget {
		return domain.NewSubSystemError("registry", "Registry.Register", domain.ErrInvalidInput, "id "+id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; exists {
		return domain.NewSubSystemError("registry", "Registry.Register", domain.ErrDuplicate, id)
	}
	if owner, taken := r.aliases[id]; taken && owner != id {
		return domain.NewSubSystemError("alias", "Registry.Register", domain.ErrDuplicate, id+" is an alias of "+owner)
	}
	r.agents[id] = agent
	r.logger.Info("agent registered", "agent_id", id, "aliases", len(aliases))

	for _, a := range aliases {
		if err := r.addAliasLocked(id, a); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes an agent and every alias that points at it.
func (r *Registry) Unregister(id string) (domain.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, domain.NewSubSystemError("registry", "Registry.Unregister", domain.ErrNotFound, id)
	}
	delete(r.agents, id)
	for alias, owner := range r.aliases {
		if owner == id {
			delete(r.aliases, alias)
		}
	}
	r.logger.Info("agent unregistered", "agent_id", id)
	return agent, nil
}

// Get returns the agent registered under exactly id.
func (r *Registry) Get(id string) (domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, domain.NewSubSystemError("registry", "Registry.Get", domain.ErrNotFound, id)
	}
	return agent, nil
}

// Lookup resolves an id, an alias or a compact alias to a live agent.
func (r *Registry) Lookup(idOrAlias string) (domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.resolveLocked(idOrAlias); ok {
		return r.agents[id], nil
	}
	return nil, domain.NewSubSystemError("registry", "Registry.Lookup", domain.ErrNotFound, idOrAlias)
}

// Resolve returns the agent id that idOrAlias refers to.
func (r *Registry) Resolve(idOrAlias string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(idOrAlias)
}

func (r *Registry) resolveLocked(name string) (string, bool) {
	if _, ok := r.agents[name]; ok {
		return name, true
	}
	if id, ok := r.aliases[name]; ok {
		if _, live := r.agents[id]; live {
			return id, true
		}
	}
	if c := Compact(name); c != name {
		if id, ok := r.aliases[c]; ok {
			if _, live := r.agents[id]; live {
				return id, true
			}
		}
	}
	return "", false
}

// AddAlias points alias (and its compact variant) at a live agent.
func (r *Registry) AddAlias(id, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return domain.NewSubSystemError("registry", "Registry.AddAlias", domain.ErrNotFound, id)
	}
	return r.addAliasLocked(id, alias)
}

func (r *Registry) addAliasLocked(id, alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" || alias == id {
		return nil
	}
	if err := r.claimLocked(id, alias); err != nil {
		return err
	}
	if c := Compact(alias); c != alias && c != id {
		// The compact form is derived, so a clash there does not fail the call.
		if err := r.claimLocked(id, c); err != nil {
			r.logger.Debug("compact alias skipped", "agent_id", id, "alias", c, "error", err)
		}
	}
	return nil
}

func (r *Registry) claimLocked(id, alias string) error {
	if _, isAgent := r.agents[alias]; isAgent {
		return domain.NewSubSystemError("alias", "Registry.AddAlias", domain.ErrDuplicate, alias+" is an agent id")
	}
	if owner, ok := r.aliases[alias]; ok && owner != id {
		return domain.NewSubSystemError("alias", "Registry.AddAlias", domain.ErrDuplicate, alias+" belongs to "+owner)
	}
	r.aliases[alias] = id
	return nil
}

// RemoveAlias drops alias and its compact variant when both name the same agent.
func (r *Registry) RemoveAlias(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alias = strings.TrimSpace(alias)
	id, ok := r.aliases[alias]
	if !ok {
		return
	}
	delete(r.aliases, alias)
	if c := Compact(alias); c != alias && r.aliases[c] == id {
		delete(r.aliases, c)
	}
}

// Aliases returns the sorted aliases of id, compact variants included.
func (r *Registry) Aliases(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for alias, owner := range r.aliases {
		if owner == id {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// List returns every live agent, sorted by id.
func (r *Registry) List() []domain.Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Recipient, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out
}

// IDs returns the sorted ids of all live agents.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of live agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
