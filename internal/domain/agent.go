package domain

import (
	"context"
	"fmt"
	"strings"
)

// PrivilegeLevel is a totally ordered trust tier.
type PrivilegeLevel int

const (
	PrivilegeTool PrivilegeLevel = iota
	PrivilegeOrchestratorLite
	PrivilegeOrchestrator
	PrivilegeCommander
	PrivilegeSystem
)

var privilegeNames = [...]string{
	PrivilegeTool:             "tool",
	PrivilegeOrchestratorLite: "orchestrator-lite",
	PrivilegeOrchestrator:     "orchestrator",
	PrivilegeCommander:        "commander",
	PrivilegeSystem:           "system",
}

func (p PrivilegeLevel) String() string {
	if p < PrivilegeTool || p > PrivilegeSystem {
		return fmt.Sprintf("privilege(%d)", int(p))
	}
	return privilegeNames[p]
}

// Outranks reports whether p is strictly above other.
func (p PrivilegeLevel) Outranks(other PrivilegeLevel) bool { return p > other }

// ParsePrivilegeLevel converts a level name to a PrivilegeLevel.
func ParsePrivilegeLevel(s string) (PrivilegeLevel, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for i, name := range privilegeNames {
		if name == norm {
			return PrivilegeLevel(i), nil
		}
	}
	return PrivilegeTool, fmt.Errorf("privilege level %q: %w", s, ErrInvalidInput)
}

// Capability names.
const (
	CapRespond    = "respond"
	CapDelegate   = "delegate"
	CapCommand    = "command"
	CapCoordinate = "coordinate"
	CapExecute    = "execute"
	CapSummarize  = "summarize"
)

// BroadCapabilities is the grant every agent receives in open mode.
var BroadCapabilities = []string{
	CapRespond, CapDelegate, CapCommand, CapCoordinate, CapExecute, CapSummarize,
}

// AgentDescriptor is what an agent declares about itself at registration.
type AgentDescriptor struct {
	ID             string       `json:"id"              yaml:"id"`
	Type           string       `json:"type"            yaml:"type"`
	Kind           string       `json:"kind"            yaml:"kind"`
	Aliases        []string     `json:"aliases,omitempty"        yaml:"aliases,omitempty"`
	PrivilegeLevel string       `json:"privilege_level,omitempty" yaml:"privilege_level,omitempty"`
	Capabilities   []string     `json:"capabilities,omitempty"   yaml:"capabilities,omitempty"`
	SafeActions    []ActionType `json:"safe_actions,omitempty"   yaml:"safe_actions,omitempty"`
	CommandScope   []string     `json:"command_scope,omitempty"  yaml:"command_scope,omitempty"`
	Bindings       []string     `json:"bindings,omitempty"       yaml:"bindings,omitempty"`
}

// CapabilityProfile is the externally configured baseline for an agent type.
type CapabilityProfile struct {
	Capabilities   []string
	SafeActions    []ActionType
	CommandScope   []string
	PrivilegeLevel PrivilegeLevel
}

// ProfileLookup resolves the capability profile of an agent type.
type ProfileLookup interface {
	Profile(agentType string) (CapabilityProfile, bool)
}

// Recipient is a live agent instance that the router can deliver to.
type Recipient interface {
	ID() string
	ReceiveMessage(ctx context.Context, env Envelope)
}

// AgentState is the lifecycle state of an agent unit.
type AgentState string

const (
	AgentCreated  AgentState = "created"
	AgentIdle     AgentState = "idle"
	AgentRunning  AgentState = "running"
	AgentParked   AgentState = "parked"
	AgentDisposed AgentState = "disposed"
)

// AgentStatus is a read-only snapshot of a running agent unit.
type AgentStatus struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	State       AgentState `json:"state"`
	InboxDepth  int        `json:"inbox_depth"`
	Connections []string   `json:"connections"`
	MemoryLen   int        `json:"memory_len"`
	FollowUps   int        `json:"follow_ups"`
}
