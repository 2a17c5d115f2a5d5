package authz

import (
	"slices"
	"sort"

	"agenthub/internal/domain"
)

// intentRingSize is the depth of the local intent mirror.
const intentRingSize = 6

// AgentContext is a read-only snapshot of an agent's authorization state.
type AgentContext struct {
	AgentID               string
	AgentType             string
	PrivilegeLevel        domain.PrivilegeLevel
	Capabilities          []string
	SafeActions           []domain.ActionType
	CommandScope          []string
	Bindings              []string
	IntentHistory         []string
	SuccessfulDelegations int
}

// Can reports whether the context holds capability c.
func (c AgentContext) Can(capability string) bool {
	return slices.Contains(c.Capabilities, capability)
}

// MaySend reports whether action is among the safe actions.
func (c AgentContext) MaySend(action domain.ActionType) bool {
	return slices.Contains(c.SafeActions, action)
}

type set[T comparable] map[T]struct{}

func (s set[T]) add(vs ...T) {
	for _, v := range vs {
		s[v] = struct{}{}
	}
}

func (s set[T]) has(v T) bool {
	_, ok := s[v]
	return ok
}

type agentContext struct {
	agentID               string
	agentType             string
	level                 domain.PrivilegeLevel
	capabilities          set[string]
	safeActions           set[domain.ActionType]
	commandScope          set[string]
	bindings              set[string]
	intents               []string
	terminated            bool
	successfulDelegations int
}

func newAgentContext(id, agentType string) *agentContext {
	return &agentContext{
		agentID:      id,
		agentType:    agentType,
		capabilities: set[string]{},
		safeActions:  set[domain.ActionType]{},
		commandScope: set[string]{},
		bindings:     set[string]{},
	}
}

func (c *agentContext) pushIntent(intent string) {
	c.intents = append(c.intents, intent)
	if len(c.intents) > intentRingSize {
		c.intents = append(c.intents[:0:0], c.intents[len(c.intents)-intentRingSize:]...)
	}
}

func (c *agentContext) snapshot() AgentContext {
	safe := make([]domain.ActionType, 0, len(c.safeActions))
	for a := range c.safeActions {
		safe = append(safe, a)
	}
	sort.Slice(safe, func(i, j int) bool { return safe[i] < safe[j] })

	return AgentContext{
		AgentID:               c.agentID,
		AgentType:             c.agentType,
		PrivilegeLevel:        c.level,
		Capabilities:          sortedKeys(c.capabilities),
		SafeActions:           safe,
		CommandScope:          sortedKeys(c.commandScope),
		Bindings:              sortedKeys(c.bindings),
		IntentHistory:         slices.Clone(c.intents),
		SuccessfulDelegations: c.successfulDelegations,
	}
}

func sortedKeys(s set[string]) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
