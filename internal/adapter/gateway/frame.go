package gateway

import (
	"encoding/json"

	"agenthub/internal/domain"
)

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the envelope exchanged between client and server.
type Frame struct {
	Type    FrameType        `json:"type"`
	ID      uint64           `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Error   string           `json:"error,omitempty"`
	Code    domain.ErrorCode `json:"code,omitempty"`
}

// RPC method names served by default.
const (
	MethodAgentsList  = "agents.list"
	MethodMessageSend = "message.send"
	MethodMemoryQuery = "memory.query"
)

const (
	defaultQueryLimit = 5
	maxQueryLimit     = 50
)

// MemoryQueryRequest is the memory.query payload. An empty AgentID searches
// every agent.
type MemoryQueryRequest struct {
	AgentID string `json:"agent_id,omitempty"`
	Text    string `json:"text"`
	Limit   int    `json:"limit,omitempty"`
}
