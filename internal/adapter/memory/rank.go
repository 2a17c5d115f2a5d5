// Package memory holds the in-process memory store and the durable
// best-effort sinks agents write their summaries to.
package memory

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"agenthub/internal/domain"
)

// tokens returns the lower-cased word set of s.
func tokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// rank scores records by the fraction of query words they contain and
// returns the best limit of them, newest first among equal scores. Records
// with no overlap are dropped.
func rank(records []domain.MemoryRecord, query string, limit int) []domain.MemoryRecord {
	q := tokens(query)
	if len(q) == 0 {
		return nil
	}
	var out []domain.MemoryRecord
	for _, r := range records {
		words := tokens(r.Text)
		hits := 0
		for w := range q {
			if _, ok := words[w]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		r.Score = float64(hits) / float64(len(q))
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func newRecord(agentID, summary string, metadata map[string]string, now time.Time) domain.MemoryRecord {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return domain.MemoryRecord{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Text:      summary,
		Metadata:  md,
		CreatedAt: now.UTC(),
	}
}

func isLongTerm(metadata map[string]string) bool {
	return metadata[domain.MetaLongTerm] == "true"
}
