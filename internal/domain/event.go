package domain

import (
	"context"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventStateChanged       EventType = "agent.state_changed"
	EventMessagePublished   EventType = "message.published"
	EventMessageUnresolved  EventType = "message.unresolved"
	EventAgentRegistered    EventType = "agent.registered"
	EventAgentUnregistered  EventType = "agent.unregistered"
	EventAgentPromoted      EventType = "agent.promoted"
	EventGovernanceBlocked  EventType = "governance.blocked"
	EventGovernanceNotified EventType = "governance.notified"
	EventHandlerFailed      EventType = "agent.handler_failed"
)

// Direction of a message relative to the agent reporting it.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// LinkActivity describes traffic on the edge between an agent and a peer.
type LinkActivity struct {
	Peer   string `json:"peer"`
	Active bool   `json:"active"`
}

// StateChange is the observer payload. Only AgentID is always set.
type StateChange struct {
	AgentID      string        `json:"agent_id"`
	Message      *Envelope     `json:"message,omitempty"`
	Direction    Direction     `json:"direction,omitempty"`
	IsTalking    *bool         `json:"is_talking,omitempty"`
	LinkActivity *LinkActivity `json:"link_activity,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	State     StateChange `json:"state"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for observer events.
// Delivery is best-effort and never part of the message delivery contract.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// Talking returns a pointer to b for use in StateChange.IsTalking.
func Talking(b bool) *bool { return &b }
