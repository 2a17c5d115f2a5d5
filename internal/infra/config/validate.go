package config

import (
	"fmt"
	"net"
	"strings"

	"agenthub/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Unwrap lets callers match validation failures against domain.ErrConfiguration.
func (v *ValidationError) Unwrap() error { return domain.ErrConfiguration }

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMetrics(cfg, ve)
	validateGateway(cfg, ve)
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		ve.Add("audit.path must not be empty when audit is enabled")
	}
	validateGovernance(cfg, ve)
	validateAuthorization(cfg, ve)
	validateAgents(cfg, ve)
	validateMemory(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want debug, info, warn or error)", cfg.Logger.Level)
	}
	if f := cfg.Logger.Format; f != "text" && f != "json" {
		ve.Add("logger.format %q is invalid (want text or json)", f)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop":
	default:
		ve.Add("tracer.exporter %q is invalid (want stdout or noop)", cfg.Tracer.Exporter)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if !cfg.Metrics.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q is invalid: %v", cfg.Metrics.Addr, err)
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path must start with /")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if !g.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(g.Addr); err != nil {
		ve.Add("gateway.addr %q is invalid: %v", g.Addr, err)
	}
	if cfg.Metrics.Enabled && g.Addr == cfg.Metrics.Addr {
		ve.Add("gateway.addr must differ from metrics.addr")
	}
	if len(g.Tokens) == 0 {
		ve.Add("gateway.tokens must not be empty when the gateway is enabled")
	}
	for i, tok := range g.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.tokens[%d].token must not be empty", i)
		}
	}
	if g.RequestsPerMin <= 0 {
		ve.Add("gateway.requests_per_min must be > 0")
	}
	if g.Burst <= 0 {
		ve.Add("gateway.burst must be > 0")
	}
}

var validPlans = map[string]bool{"free": true, "pro": true, "enterprise": true}

func validateGovernance(cfg *Config, ve *ValidationError) {
	g := cfg.Governance
	if !validPlans[g.Plan] {
		ve.Add("governance.plan %q is invalid (want free, pro or enterprise)", g.Plan)
	}
	if g.Cooldown < 0 {
		ve.Add("governance.cooldown must be >= 0")
	}
	if g.MaxTokensPerCycle <= 0 {
		ve.Add("governance.max_tokens_per_cycle must be > 0")
	}
	if g.CycleDuration <= 0 {
		ve.Add("governance.cycle_duration must be > 0")
	}
	if g.MaxTurns <= 0 {
		ve.Add("governance.max_turns must be > 0")
	}
	if g.SimilarityThreshold <= 0 || g.SimilarityThreshold > 1 {
		ve.Add("governance.similarity_threshold must be in (0, 1]")
	}
	if g.LoopDetectionWindow < 2 {
		ve.Add("governance.loop_detection_window must be >= 2")
	}
	if g.DecayFactor <= 0 || g.DecayFactor >= 1 {
		ve.Add("governance.decay_factor must be in (0, 1)")
	}
	if g.MaxTrackedAgents <= 0 {
		ve.Add("governance.max_tracked_agents must be > 0")
	}
	if g.MaxTrackedConversations <= 0 {
		ve.Add("governance.max_tracked_conversations must be > 0")
	}
}

func validateAuthorization(cfg *Config, ve *ValidationError) {
	a := cfg.Authorization
	if a.PromotionThreshold <= 0 {
		ve.Add("authorization.promotion_threshold must be > 0")
	}
	if a.SendRate < 0 {
		ve.Add("authorization.send_rate must be >= 0")
	}
	if a.SendRate > 0 && a.SendBurst <= 0 {
		ve.Add("authorization.send_burst must be > 0 when send_rate is set")
	}
	for name, p := range a.Profiles {
		if _, err := domain.ParsePrivilegeLevel(p.PrivilegeLevel); err != nil {
			ve.Add("authorization.profiles[%s].privilege_level %q is invalid", name, p.PrivilegeLevel)
		}
		for _, act := range p.SafeActions {
			if !validAction(act) {
				ve.Add("authorization.profiles[%s].safe_actions: unknown action %q", name, act)
			}
		}
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	a := cfg.Agents
	if a.MemoryLimit <= 0 {
		ve.Add("agents.memory_limit must be > 0")
	}
	if a.AutonomyEnabled && a.AutonomyInterval <= 0 {
		ve.Add("agents.autonomy_interval must be > 0 when autonomy is enabled")
	}
	if a.TalkingPulse <= 0 {
		ve.Add("agents.talking_pulse must be > 0")
	}

	seen := make(map[string]bool, len(a.Instances))
	for i, inst := range a.Instances {
		if inst.ID == "" {
			ve.Add("agents.instances[%d].id must not be empty", i)
			continue
		}
		if seen[inst.ID] {
			ve.Add("agents.instances[%d].id %q is duplicated", i, inst.ID)
		}
		seen[inst.ID] = true
		if inst.ID == domain.BroadcastTarget || inst.ID == domain.GovernorID {
			ve.Add("agents.instances[%d].id %q is reserved", i, inst.ID)
		}
		if inst.Kind == "" {
			ve.Add("agents.instances[%d].kind must not be empty", i)
		}
		if inst.PrivilegeLevel != "" {
			if _, err := domain.ParsePrivilegeLevel(inst.PrivilegeLevel); err != nil {
				ve.Add("agents.instances[%d].privilege_level %q is invalid", i, inst.PrivilegeLevel)
			}
		}
		for _, act := range inst.SafeActions {
			if !validAction(string(act)) {
				ve.Add("agents.instances[%d].safe_actions: unknown action %q", i, act)
			}
		}
	}
}

func validateMemory(cfg *Config, ve *ValidationError) {
	m := cfg.Memory
	if m.ShortTermLimit <= 0 {
		ve.Add("memory.short_term_limit must be > 0")
	}
	if m.SharedLogLimit <= 0 {
		ve.Add("memory.shared_log_limit must be > 0")
	}
	switch m.Backend {
	case "none":
		return
	case "sqlite":
		if m.SQLitePath == "" {
			ve.Add("memory.sqlite_path must not be empty when backend is sqlite")
		}
	case "redis":
		if m.Redis.Addr == "" {
			ve.Add("memory.redis.addr must not be empty when backend is redis")
		}
		if m.Redis.KeyPrefix == "" {
			ve.Add("memory.redis.key_prefix must not be empty when backend is redis")
		}
		if m.Redis.MaxLen <= 0 {
			ve.Add("memory.redis.max_len must be > 0")
		}
	default:
		ve.Add("memory.backend %q is invalid (want none, sqlite or redis)", m.Backend)
		return
	}
	if m.Workers <= 0 {
		ve.Add("memory.workers must be > 0")
	}
	if m.QueueSize <= 0 {
		ve.Add("memory.queue_size must be > 0")
	}
	if m.Breaker.MaxFailures == 0 {
		ve.Add("memory.breaker.max_failures must be > 0")
	}
	if m.Breaker.Timeout <= 0 {
		ve.Add("memory.breaker.timeout must be > 0")
	}
}

func validAction(s string) bool {
	for _, a := range domain.AllActions {
		if string(a) == strings.ToUpper(s) {
			return true
		}
	}
	return false
}
