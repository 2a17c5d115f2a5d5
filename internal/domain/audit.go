package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditAgentRegistered   AuditEventType = "agent_registered"
	AuditAgentUnregistered AuditEventType = "agent_unregistered"
	AuditGovernanceBlocked AuditEventType = "governance_blocked"
	AuditGovernanceNotice  AuditEventType = "governance_notice"
	AuditPromotion         AuditEventType = "promotion"
	AuditHandlerFailed     AuditEventType = "handler_failed"
)

// AuditEvent is one governance-relevant outcome.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      AuditEventType    `json:"type"`
	Actor     string            `json:"actor"`
	Target    string            `json:"target,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// AuditLogger writes audit events to a persistent log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}
