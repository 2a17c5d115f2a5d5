// Package governance implements admission control for inter-agent traffic:
// redundancy, loop, cooldown, token budget and turn limits.
package governance

import (
	"time"

	"agenthub/internal/infra/config"
)

// Plan is a subscription tier that tightens the configured policy.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

const (
	defaultLoopWindow     = 4
	defaultCycleDuration  = 5 * time.Minute
	defaultSimilarity     = 0.85
	defaultDecayFactor    = 0.2
	defaultTrackedAgents  = 1024
	defaultTrackedConvs   = 4096
	defaultMaxTokens      = 50000
	defaultMaxTurns       = 100
	noiseRemovalThreshold = 0.1
	minPenalty            = 0.5
)

// Policy is the evaluated rule set.
type Policy struct {
	// Enforce turns violations into blocks. When false every message is
	// allowed and violations are only reported.
	Enforce                 bool
	Plan                    Plan
	Cooldown                time.Duration
	MaxTokensPerCycle       int
	CycleDuration           time.Duration
	MaxTurns                int
	SimilarityThreshold     float64
	LoopDetectionWindow     int
	DecayFactor             float64
	MaxTrackedAgents        int
	MaxTrackedConversations int
}

// DefaultPolicy returns the open-mode enterprise policy.
func DefaultPolicy() Policy {
	return ApplyPlanAdjustments(Policy{Plan: PlanEnterprise})
}

// PolicyFromConfig converts the governance config section.
func PolicyFromConfig(cfg config.GovernanceConfig) Policy {
	return ApplyPlanAdjustments(Policy{
		Enforce:                 cfg.Enforce,
		Plan:                    Plan(cfg.Plan),
		Cooldown:                cfg.Cooldown,
		MaxTokensPerCycle:       cfg.MaxTokensPerCycle,
		CycleDuration:           cfg.CycleDuration,
		MaxTurns:                cfg.MaxTurns,
		SimilarityThreshold:     cfg.SimilarityThreshold,
		LoopDetectionWindow:     cfg.LoopDetectionWindow,
		DecayFactor:             cfg.DecayFactor,
		MaxTrackedAgents:        cfg.MaxTrackedAgents,
		MaxTrackedConversations: cfg.MaxTrackedConversations,
	})
}

type planLimits struct {
	minCooldown time.Duration
	maxTokens   int
	maxTurns    int
}

var planTable = map[Plan]planLimits{
	PlanFree: {minCooldown: 3 * time.Second, maxTokens: 2000, maxTurns: 10},
	PlanPro:  {minCooldown: time.Second, maxTokens: 10000, maxTurns: 30},
}

// ApplyPlanAdjustments clamps p to its plan tier and fills unset fields.
// Free tightens hardest; enterprise (or an unknown plan) keeps the values.
func ApplyPlanAdjustments(p Policy) Policy {
	if p.Plan == "" {
		p.Plan = PlanEnterprise
	}
	if p.MaxTokensPerCycle <= 0 {
		p.MaxTokensPerCycle = defaultMaxTokens
	}
	if p.MaxTurns <= 0 {
		p.MaxTurns = defaultMaxTurns
	}
	if p.Cooldown < 0 {
		p.Cooldown = 0
	}

	if lim, ok := planTable[p.Plan]; ok {
		p.Cooldown = max(p.Cooldown, lim.minCooldown)
		p.MaxTokensPerCycle = min(p.MaxTokensPerCycle, lim.maxTokens)
		p.MaxTurns = min(p.MaxTurns, lim.maxTurns)
	}

	switch {
	case p.LoopDetectionWindow <= 0:
		p.LoopDetectionWindow = defaultLoopWindow
	case p.LoopDetectionWindow < 2:
		p.LoopDetectionWindow = 2
	}
	if p.CycleDuration <= 0 {
		p.CycleDuration = defaultCycleDuration
	}
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		p.SimilarityThreshold = defaultSimilarity
	}
	if p.DecayFactor <= 0 || p.DecayFactor >= 1 {
		p.DecayFactor = defaultDecayFactor
	}
	if p.MaxTrackedAgents <= 0 {
		p.MaxTrackedAgents = defaultTrackedAgents
	}
	if p.MaxTrackedConversations <= 0 {
		p.MaxTrackedConversations = defaultTrackedConvs
	}
	return p
}
