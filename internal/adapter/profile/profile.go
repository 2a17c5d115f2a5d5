// Package profile resolves capability profiles for agent types from built-in
// defaults overlaid with the authorization.profiles config section.
package profile

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
)

// Builtin returns the default profiles keyed by agent type.
func Builtin() map[string]domain.CapabilityProfile {
	return map[string]domain.CapabilityProfile{
		"system": {
			PrivilegeLevel: domain.PrivilegeSystem,
			Capabilities:   domain.BroadCapabilities,
			SafeActions:    domain.AllActions,
		},
		"commander": {
			PrivilegeLevel: domain.PrivilegeCommander,
			Capabilities:   []string{domain.CapRespond, domain.CapDelegate, domain.CapCommand, domain.CapCoordinate, domain.CapSummarize},
			SafeActions:    domain.AllActions,
		},
		"orchestrator": {
			PrivilegeLevel: domain.PrivilegeOrchestrator,
			Capabilities:   []string{domain.CapRespond, domain.CapDelegate, domain.CapCoordinate, domain.CapSummarize},
			SafeActions: []domain.ActionType{
				domain.ActionInfo, domain.ActionTask, domain.ActionResult,
				domain.ActionConfirmation, domain.ActionEnd, domain.ActionBroadcast,
			},
		},
		"tool": {
			PrivilegeLevel: domain.PrivilegeTool,
			Capabilities:   []string{domain.CapRespond, domain.CapExecute},
			SafeActions:    []domain.ActionType{domain.ActionInfo, domain.ActionResult, domain.ActionConfirmation},
		},
	}
}

// Static is an in-memory domain.ProfileLookup. Type names are matched
// case-insensitively.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]domain.CapabilityProfile
}

// NewStatic creates a lookup holding the built-in profiles.
func NewStatic() *Static {
	s := &Static{profiles: make(map[string]domain.CapabilityProfile)}
	for name, p := range Builtin() {
		s.profiles[name] = p
	}
	return s
}

// FromConfig creates a lookup from the built-in profiles overlaid with the
// configured ones. A configured type replaces the built-in entry entirely.
func FromConfig(cfg config.AuthorizationConfig) (*Static, error) {
	s := NewStatic()
	for name, pc := range cfg.Profiles {
		p, err := convert(pc)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		s.Set(name, p)
	}
	return s, nil
}

func convert(pc config.ProfileConfig) (domain.CapabilityProfile, error) {
	level := domain.PrivilegeTool
	if pc.PrivilegeLevel != "" {
		l, err := domain.ParsePrivilegeLevel(pc.PrivilegeLevel)
		if err != nil {
			return domain.CapabilityProfile{}, err
		}
		level = l
	}
	actions := make([]domain.ActionType, 0, len(pc.SafeActions))
	for _, a := range pc.SafeActions {
		actions = append(actions, domain.ActionType(strings.ToUpper(strings.TrimSpace(a))))
	}
	return domain.CapabilityProfile{
		PrivilegeLevel: level,
		Capabilities:   append([]string(nil), pc.Capabilities...),
		SafeActions:    actions,
		CommandScope:   append([]string(nil), pc.CommandScope...),
	}, nil
}

// Set adds or replaces the profile of agentType.
func (s *Static) Set(agentType string, p domain.CapabilityProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[strings.ToLower(agentType)] = p
}

// Profile implements domain.ProfileLookup.
func (s *Static) Profile(agentType string) (domain.CapabilityProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[strings.ToLower(agentType)]
	return p, ok
}

// Types returns the known agent types in sorted order.
func (s *Static) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var _ domain.ProfileLookup = (*Static)(nil)
