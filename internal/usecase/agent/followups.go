package agent

import (
	"context"

	"agenthub/internal/domain"
)

// Follow-up intents derived from inbound escalation hints.
const (
	IntentAsk            = "ask"
	IntentEscalate       = "escalate"
	IntentContextRequest = "context_request"
)

// MetaInReplyTo links a follow-up to the message that caused it.
const MetaInReplyTo = "inReplyTo"

// collectFollowUps queues one message per target named in the askAgents,
// escalateTo and needsContextFrom metadata of env.
func (u *Unit) collectFollowUps(env domain.Envelope) {
	hints := []struct {
		key    string
		typ    domain.MessageType
		intent string
	}{
		{domain.MetaAskAgents, domain.MessageInfo, IntentAsk},
		{domain.MetaEscalateTo, domain.MessageTask, IntentEscalate},
		{domain.MetaNeedsContextFrom, domain.MessageInfo, IntentContextRequest},
	}

	var queued []domain.Message
	for _, h := range hints {
		for _, target := range env.MetaStrings(h.key) {
			if target == u.ID() {
				continue
			}
			md := map[string]any{MetaInReplyTo: env.ID}
			if env.ConversationID != "" {
				md[domain.MetaConversationID] = env.ConversationID
			}
			queued = append(queued, domain.Message{
				To:             target,
				Type:           h.typ,
				Intent:         h.intent,
				Content:        env.Content,
				Metadata:       md,
				ConversationID: env.ConversationID,
			})
		}
	}
	if len(queued) == 0 {
		return
	}

	u.mu.Lock()
	u.followUps = append(u.followUps, queued...)
	u.mu.Unlock()
	u.logger.Debug("follow-ups queued", "message_id", env.ID, "count", len(queued))
}

// QueueFollowUp appends msg to the follow-up queue.
func (u *Unit) QueueFollowUp(msg domain.Message) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == domain.AgentDisposed {
		return
	}
	u.followUps = append(u.followUps, msg)
}

func (u *Unit) pendingFollowUps() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.followUps)
}

// FlushFollowUps sends every queued follow-up and returns how many were
// delivered. Concurrent flushes do not interleave: a flush that finds
// another in progress returns 0 immediately. Failed sends are logged and
// dropped.
func (u *Unit) FlushFollowUps(ctx context.Context) int {
	if !u.flushing.CompareAndSwap(false, true) {
		return 0
	}
	defer u.flushing.Store(false)

	u.mu.Lock()
	pending := u.followUps
	u.followUps = nil
	u.mu.Unlock()

	sent := 0
	for _, msg := range pending {
		if _, err := u.Send(ctx, msg); err != nil {
			u.logger.Warn("follow-up dropped", "to", msg.To, "intent", msg.Intent, "error", err)
			continue
		}
		sent++
	}
	return sent
}
