package domain

import (
	"context"
	"time"
)

// MemoryRecord is one summary persisted for an agent.
type MemoryRecord struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agent_id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Score     float64           `json:"score,omitempty"`
}

// MemorySink accepts memory summaries. Implementations used by agent units
// are best-effort: callers log failures and never propagate them.
type MemorySink interface {
	AddMemory(ctx context.Context, agentID, summary string, metadata map[string]string) error
}

// MemoryQuerier is implemented by sinks that can rank stored memories.
type MemoryQuerier interface {
	Query(ctx context.Context, agentID, text string, limit int) ([]MemoryRecord, error)
}

// AgentMemoryEntry is one slot of an agent's rolling in-process memory.
type AgentMemoryEntry struct {
	Direction  Direction `json:"direction"`
	Message    Envelope  `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`
}
