package domain

import (
	"strings"
	"time"
)

// MessageType is the wire-level kind of an inter-agent message.
type MessageType string

const (
	MessageInfo         MessageType = "INFO"
	MessageTask         MessageType = "TASK"
	MessageResult       MessageType = "RESULT"
	MessageConfirmation MessageType = "CONFIRMATION"
	MessageEnd          MessageType = "END"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageInfo, MessageTask, MessageResult, MessageConfirmation, MessageEnd:
		return true
	}
	return false
}

// ActionType is the authorization view of a message. It is usually the
// message type itself, but metadata may name a finer action such as COMMAND.
type ActionType string

const (
	ActionInfo         ActionType = "INFO"
	ActionTask         ActionType = "TASK"
	ActionResult       ActionType = "RESULT"
	ActionConfirmation ActionType = "CONFIRMATION"
	ActionEnd          ActionType = "END"
	ActionCommand      ActionType = "COMMAND"
	ActionBroadcast    ActionType = "BROADCAST"
)

// AllActions lists every action type an agent may be allowed to send.
var AllActions = []ActionType{
	ActionInfo, ActionTask, ActionResult, ActionConfirmation,
	ActionEnd, ActionCommand, ActionBroadcast,
}

// BroadcastTarget addresses every live agent except the sender.
const BroadcastTarget = "*"

// GovernorID is the pseudo-sender of synthetic governance messages.
const GovernorID = "conversation-governor"

// Well-known metadata keys.
const (
	MetaActionType       = "actionType"
	MetaVerified         = "verified"
	MetaIntent           = "intent"
	MetaConversationID   = "conversationId"
	MetaAskAgents        = "askAgents"
	MetaEscalateTo       = "escalateTo"
	MetaNeedsContextFrom = "needsContextFrom"
	MetaRequiresBindings = "requiresBindings"
	MetaLongTerm         = "longTerm"
)

// Message is an inter-agent message before it is published.
type Message struct {
	ID             string         `json:"id,omitempty"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	Type           MessageType    `json:"type"`
	Intent         string         `json:"intent,omitempty"`
	Content        string         `json:"content"`
	Confidence     *float64       `json:"confidence,omitempty"`
	Tokens         *int           `json:"tokens,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Envelope is a message as stamped and published by the router.
type Envelope = Message

// Clone returns a copy of m whose metadata map can be mutated independently.
func (m Message) Clone() Message {
	if m.Metadata != nil {
		md := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		m.Metadata = md
	}
	return m
}

// EffectiveIntent returns the intent, falling back to metadata and finally to
// the lower-cased message type.
func (m Message) EffectiveIntent() string {
	if m.Intent != "" {
		return m.Intent
	}
	if s := m.MetaString(MetaIntent); s != "" {
		return s
	}
	return strings.ToLower(string(m.Type))
}

// MetaString returns a string metadata value or "".
func (m Message) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

// MetaStrings returns a metadata value as a string list. A single string is
// treated as a one-element list; empty entries are dropped.
func (m Message) MetaStrings(key string) []string {
	if m.Metadata == nil {
		return nil
	}
	var out []string
	switch v := m.Metadata[key].(type) {
	case string:
		if v != "" {
			out = append(out, v)
		}
	case []string:
		for _, s := range v {
			if s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// MetaBool returns a boolean metadata value or false.
func (m Message) MetaBool(key string) bool {
	if m.Metadata == nil {
		return false
	}
	b, _ := m.Metadata[key].(bool)
	return b
}

// TokenCount returns the declared token count or 0.
func (m Message) TokenCount() int {
	if m.Tokens == nil {
		return 0
	}
	return *m.Tokens
}
