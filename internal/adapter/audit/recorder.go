package audit

import (
	"context"
	"log/slog"

	"agenthub/internal/domain"
)

// Subscriber is the part of the event bus the recorder listens on.
type Subscriber interface {
	Subscribe(eventType domain.EventType, handler domain.EventHandler) func()
}

var auditedEvents = map[domain.EventType]domain.AuditEventType{
	domain.EventAgentRegistered:    domain.AuditAgentRegistered,
	domain.EventAgentUnregistered:  domain.AuditAgentUnregistered,
	domain.EventGovernanceBlocked:  domain.AuditGovernanceBlocked,
	domain.EventGovernanceNotified: domain.AuditGovernanceNotice,
	domain.EventAgentPromoted:      domain.AuditPromotion,
	domain.EventHandlerFailed:      domain.AuditHandlerFailed,
}

// FromEvent converts a bus event into an audit record. ok is false for event
// types that are not audited.
func FromEvent(e domain.Event) (rec domain.AuditEvent, ok bool) {
	t, ok := auditedEvents[e.Type]
	if !ok {
		return domain.AuditEvent{}, false
	}
	rec = domain.AuditEvent{
		Timestamp: e.Timestamp,
		Type:      t,
		Actor:     e.State.AgentID,
		Reason:    e.State.Reason,
	}
	if m := e.State.Message; m != nil {
		rec.Target = m.To
		rec.MessageID = m.ID
		rec.Detail = map[string]string{"message_type": string(m.Type)}
		if intent := m.EffectiveIntent(); intent != "" {
			rec.Detail["intent"] = intent
		}
	}
	return rec, true
}

// Attach subscribes sink to every audited event type on bus. The returned
// function unsubscribes.
func Attach(bus Subscriber, sink domain.AuditLogger, logger *slog.Logger) func() {
	handler := func(ctx context.Context, e domain.Event) {
		rec, ok := FromEvent(e)
		if !ok {
			return
		}
		if err := sink.Log(ctx, rec); err != nil {
			logger.Warn("audit write failed", "type", string(rec.Type), "actor", rec.Actor, "error", err)
		}
	}
	unsubs := make([]func(), 0, len(auditedEvents))
	for t := range auditedEvents {
		unsubs = append(unsubs, bus.Subscribe(t, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
