package agent

import (
	"context"
	"log/slog"
	"sync/atomic"

	"agenthub/internal/domain"
)

// ReplyFunc produces the content of a RESULT for an inbound TASK.
type ReplyFunc func(ctx context.Context, env domain.Envelope) (string, error)

// Responder answers every TASK addressed to it with a RESULT to the sender.
// Other message types are consumed silently.
type Responder struct {
	reply   ReplyFunc
	handled atomic.Int64
}

// NewResponder creates a Responder. A nil reply echoes the task content.
func NewResponder(reply ReplyFunc) *Responder {
	if reply == nil {
		reply = func(_ context.Context, env domain.Envelope) (string, error) {
			return "done: " + env.Content, nil
		}
	}
	return &Responder{reply: reply}
}

// HandleMessage implements Behavior.
func (r *Responder) HandleMessage(ctx context.Context, u *Unit, env domain.Envelope) error {
	r.handled.Add(1)
	if env.Type != domain.MessageTask || env.From == domain.GovernorID {
		return nil
	}
	content, err := r.reply(ctx, env)
	if err != nil {
		return err
	}
	md := map[string]any{MetaInReplyTo: env.ID}
	if env.ConversationID != "" {
		md[domain.MetaConversationID] = env.ConversationID
	}
	_, err = u.Send(ctx, domain.Message{
		To:             env.From,
		Type:           domain.MessageResult,
		Intent:         "result",
		Content:        content,
		Metadata:       md,
		ConversationID: env.ConversationID,
	})
	return err
}

// Handled returns the number of messages seen.
func (r *Responder) Handled() int64 { return r.handled.Load() }

// Observer only logs what it receives.
type Observer struct {
	logger *slog.Logger
	seen   atomic.Int64
}

// NewObserver creates an Observer.
func NewObserver(logger *slog.Logger) *Observer {
	return &Observer{logger: logger}
}

// HandleMessage implements Behavior.
func (o *Observer) HandleMessage(_ context.Context, _ *Unit, env domain.Envelope) error {
	o.seen.Add(1)
	o.logger.Debug("observed message", "message_id", env.ID, "from", env.From, "type", string(env.Type))
	return nil
}

// Seen returns the number of messages observed.
func (o *Observer) Seen() int64 { return o.seen.Load() }
