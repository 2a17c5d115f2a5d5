package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"agenthub/internal/domain"
)

const (
	defaultShortTermLimit = 50
	defaultSharedLogLimit = 500
)

// Store is the in-process memory: a short-term ring per agent, an unbounded
// long-term list of records flagged longTerm, and a shared log ring across
// all agents.
type Store struct {
	mu        sync.RWMutex
	shortTerm map[string][]domain.MemoryRecord
	longTerm  map[string][]domain.MemoryRecord
	shared    []domain.MemoryRecord

	shortLimit  int
	sharedLimit int
	now         func() time.Time
}

// NewStore creates a Store. Non-positive limits fall back to 50 and 500.
func NewStore(shortTermLimit, sharedLogLimit int) *Store {
	if shortTermLimit <= 0 {
		shortTermLimit = defaultShortTermLimit
	}
	if sharedLogLimit <= 0 {
		sharedLogLimit = defaultSharedLogLimit
	}
	return &Store{
		shortTerm:   make(map[string][]domain.MemoryRecord),
		longTerm:    make(map[string][]domain.MemoryRecord),
		shortLimit:  shortTermLimit,
		sharedLimit: sharedLogLimit,
		now:         time.Now,
	}
}

// AddMemory implements domain.MemorySink.
func (s *Store) AddMemory(_ context.Context, agentID, summary string, metadata map[string]string) error {
	if agentID == "" {
		return domain.NewDomainError("Store.AddMemory", domain.ErrInvalidInput, "agent id is required")
	}
	rec := newRecord(agentID, summary, metadata, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.shortTerm[agentID] = appendBounded(s.shortTerm[agentID], rec, s.shortLimit)
	if isLongTerm(metadata) {
		s.longTerm[agentID] = append(s.longTerm[agentID], rec)
	}
	s.shared = appendBounded(s.shared, rec, s.sharedLimit)
	return nil
}

func appendBounded(ring []domain.MemoryRecord, rec domain.MemoryRecord, limit int) []domain.MemoryRecord {
	ring = append(ring, rec)
	if over := len(ring) - limit; over > 0 {
		ring = slices.Delete(ring, 0, over)
	}
	return ring
}

// ShortTerm returns agentID's recent records, oldest first.
func (s *Store) ShortTerm(agentID string) []domain.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.shortTerm[agentID])
}

// LongTerm returns agentID's long-term records, oldest first.
func (s *Store) LongTerm(agentID string) []domain.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.longTerm[agentID])
}

// SharedLog returns the most recent records across all agents, oldest first.
func (s *Store) SharedLog() []domain.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.shared)
}

// Query implements domain.MemoryQuerier over the short- and long-term
// records of agentID, or over every agent when agentID is empty.
func (s *Store) Query(_ context.Context, agentID, text string, limit int) ([]domain.MemoryRecord, error) {
	s.mu.RLock()
	var candidates []domain.MemoryRecord
	seen := make(map[string]struct{})
	collect := func(recs []domain.MemoryRecord) {
		for _, r := range recs {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			candidates = append(candidates, r)
		}
	}
	if agentID != "" {
		collect(s.shortTerm[agentID])
		collect(s.longTerm[agentID])
	} else {
		for _, recs := range s.shortTerm {
			collect(recs)
		}
		for _, recs := range s.longTerm {
			collect(recs)
		}
	}
	s.mu.RUnlock()

	return rank(candidates, text, limit), nil
}

// Forget drops every record of agentID except its entries in the shared log.
func (s *Store) Forget(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shortTerm, agentID)
	delete(s.longTerm, agentID)
}

var (
	_ domain.MemorySink    = (*Store)(nil)
	_ domain.MemoryQuerier = (*Store)(nil)
)
