package memory

import (
	"context"
	"errors"

	"agenthub/internal/domain"
)

// MultiSink fans every record out to all of its sinks.
type MultiSink struct {
	sinks []domain.MemorySink
}

// NewMultiSink creates a MultiSink. Nil sinks are skipped.
func NewMultiSink(sinks ...domain.MemorySink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// AddMemory writes to every sink and joins their errors.
func (m *MultiSink) AddMemory(ctx context.Context, agentID, summary string, metadata map[string]string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.AddMemory(ctx, agentID, summary, metadata); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Query uses the first sink that can rank records.
func (m *MultiSink) Query(ctx context.Context, agentID, text string, limit int) ([]domain.MemoryRecord, error) {
	for _, s := range m.sinks {
		if q, ok := s.(domain.MemoryQuerier); ok {
			return q.Query(ctx, agentID, text, limit)
		}
	}
	return nil, nil
}

var (
	_ domain.MemorySink    = (*MultiSink)(nil)
	_ domain.MemoryQuerier = (*MultiSink)(nil)
)
