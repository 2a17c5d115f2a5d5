package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteSink {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "memory.db")
	sink, err := NewSQLiteSink(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	sink := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	sink.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Millisecond) }

	require.NoError(t, sink.AddMemory(ctx, "a1", "first summary", map[string]string{"direction": "in"}))
	require.NoError(t, sink.AddMemory(ctx, "a1", "second summary", map[string]string{domain.MetaLongTerm: "true"}))
	require.NoError(t, sink.AddMemory(ctx, "a2", "other agent", nil))

	recent, err := sink.Recent(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second summary", recent[0].Text)
	assert.Equal(t, "in", recent[1].Metadata["direction"])
	assert.Equal(t, base.Add(time.Millisecond), recent[1].CreatedAt)
	assert.NotEqual(t, recent[0].ID, recent[1].ID)

	limited, err := sink.Recent(ctx, "a1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteSinkQuery(t *testing.T) {
	sink := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, sink.AddMemory(ctx, "a1", "rotate the api keys", nil))
	require.NoError(t, sink.AddMemory(ctx, "a1", "water the plants", nil))

	got, err := sink.Query(ctx, "a1", "api keys", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rotate the api keys", got[0].Text)
}

func TestSQLiteSinkClosed(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	err = sink.AddMemory(context.Background(), "a1", "x", nil)
	assert.True(t, errors.Is(err, domain.ErrMemoryPersist))
}
