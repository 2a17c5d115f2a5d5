package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agenthub/internal/domain"
)

// RedisClient is the subset of a redis client RedisSink needs. cmd/agenthub
// adapts go-redis to it.
type RedisClient interface {
	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

const (
	defaultRedisPrefix = "agenthub:memory"
	defaultRedisMaxLen = 1000
)

// RedisSink keeps a capped list of JSON memory records per agent.
type RedisSink struct {
	client RedisClient
	prefix string
	maxLen int
	now    func() time.Time
}

// NewRedisSink creates a RedisSink. Keys are "<prefix>:<agentID>".
func NewRedisSink(client RedisClient, prefix string, maxLen int) *RedisSink {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if maxLen <= 0 {
		maxLen = defaultRedisMaxLen
	}
	return &RedisSink{client: client, prefix: prefix, maxLen: maxLen, now: time.Now}
}

func (s *RedisSink) key(agentID string) string {
	return s.prefix + ":" + agentID
}

// AddMemory implements domain.MemorySink.
func (s *RedisSink) AddMemory(ctx context.Context, agentID, summary string, metadata map[string]string) error {
	rec := newRecord(agentID, summary, metadata, s.now())
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}
	key := s.key(agentID)
	if err := s.client.LPush(ctx, key, string(data)); err != nil {
		return domain.NewDomainError("RedisSink.AddMemory", domain.ErrMemoryPersist, err.Error())
	}
	if err := s.client.LTrim(ctx, key, 0, int64(s.maxLen-1)); err != nil {
		return domain.NewDomainError("RedisSink.AddMemory", domain.ErrMemoryPersist, err.Error())
	}
	return nil
}

// Recent returns up to limit of agentID's newest records, newest first.
// Undecodable entries are skipped.
func (s *RedisSink) Recent(ctx context.Context, agentID string, limit int) ([]domain.MemoryRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := s.client.LRange(ctx, s.key(agentID), 0, stop)
	if err != nil {
		return nil, fmt.Errorf("read memories: %w", err)
	}
	out := make([]domain.MemoryRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.MemoryRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Query implements domain.MemoryQuerier.
func (s *RedisSink) Query(ctx context.Context, agentID, text string, limit int) ([]domain.MemoryRecord, error) {
	recent, err := s.Recent(ctx, agentID, 0)
	if err != nil {
		return nil, err
	}
	return rank(recent, text, limit), nil
}

var (
	_ domain.MemorySink    = (*RedisSink)(nil)
	_ domain.MemoryQuerier = (*RedisSink)(nil)
)
