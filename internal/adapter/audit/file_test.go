package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
)

func readLines(t *testing.T, path string) []domain.AuditEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []domain.AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev domain.AuditEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		out = append(out, ev)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	l, err := NewFileLogger(path, 0)
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ctx := context.Background()
	require.NoError(t, l.Log(ctx, domain.AuditEvent{Type: domain.AuditGovernanceBlocked, Actor: "alice", Reason: "redundant"}))
	require.NoError(t, l.Log(ctx, domain.AuditEvent{Type: domain.AuditPromotion, Actor: "hammer"}))
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, domain.AuditGovernanceBlocked, lines[0].Type)
	assert.Equal(t, "redundant", lines[0].Reason)
	assert.True(t, lines[0].Timestamp.Equal(fixed))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileLoggerReopenKeepsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewFileLogger(path, 0)
	require.NoError(t, err)
	require.NoError(t, l.Log(context.Background(), domain.AuditEvent{Type: domain.AuditAgentRegistered, Actor: "a"}))
	require.NoError(t, l.Close())

	l, err = NewFileLogger(path, 0)
	require.NoError(t, err)
	require.NoError(t, l.Log(context.Background(), domain.AuditEvent{Type: domain.AuditAgentRegistered, Actor: "b"}))
	require.NoError(t, l.Close())

	assert.Len(t, readLines(t, path), 2)
}

func TestFileLoggerRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewFileLogger(path, 200)
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 6; i++ {
		require.NoError(t, l.Log(context.Background(), domain.AuditEvent{
			Type: domain.AuditHandlerFailed, Actor: "worker", Reason: "handler returned an error",
		}))
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(200))
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "backup file should exist")
}

func TestFileLoggerClosed(t *testing.T) {
	l, err := NewFileLogger(filepath.Join(t.TempDir(), "audit.jsonl"), 0)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	err = l.Log(context.Background(), domain.AuditEvent{Type: domain.AuditPromotion})
	assert.ErrorIs(t, err, domain.ErrAuditWrite)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"100", 100},
		{"100B", 100},
		{"512kb", 512 << 10},
		{" 10MB ", 10 << 20},
		{"1GB", 1 << 30},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"lots", "-5MB", "MB"} {
		_, err := ParseSize(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, bad)
	}
}
