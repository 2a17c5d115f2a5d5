package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"agenthub/internal/domain"
)

const (
	// queryScanLimit caps how many recent rows Query ranks.
	queryScanLimit = 1000
	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLiteSink persists memory records in a SQLite database.
type SQLiteSink struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSink opens (or creates) the database at dbPath and runs the
// schema migration. ":memory:" is accepted for tests.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create memory db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrateMemory(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory db: %w", err)
	}
	return &SQLiteSink{db: db, now: time.Now}, nil
}

func migrateMemory(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			text       TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			long_term  INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories (agent_id, created_at)")
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// AddMemory implements domain.MemorySink.
func (s *SQLiteSink) AddMemory(ctx context.Context, agentID, summary string, metadata map[string]string) error {
	rec := newRecord(agentID, summary, metadata, s.now())
	mdJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal memory metadata: %w", err)
	}
	longTerm := 0
	if isLongTerm(metadata) {
		longTerm = 1
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO memories (id, agent_id, text, metadata, long_term, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, rec.AgentID, rec.Text, string(mdJSON), longTerm, rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return domain.NewDomainError("SQLiteSink.AddMemory", domain.ErrMemoryPersist, err.Error())
	}
	return nil
}

// Recent returns up to limit of agentID's newest records, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, agentID string, limit int) ([]domain.MemoryRecord, error) {
	if limit <= 0 {
		limit = queryScanLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, agent_id, text, metadata, created_at FROM memories WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?",
		agentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Query implements domain.MemoryQuerier by ranking agentID's most recent
// records.
func (s *SQLiteSink) Query(ctx context.Context, agentID, text string, limit int) ([]domain.MemoryRecord, error) {
	recent, err := s.Recent(ctx, agentID, queryScanLimit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	return rank(recent, text, limit), nil
}

func scanMemory(rows *sql.Rows) (domain.MemoryRecord, error) {
	var (
		rec     domain.MemoryRecord
		mdJSON  string
		created string
	)
	if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Text, &mdJSON, &created); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(mdJSON), &rec.Metadata); err != nil {
		return rec, fmt.Errorf("unmarshal memory metadata: %w", err)
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return rec, fmt.Errorf("parse memory timestamp: %w", err)
	}
	rec.CreatedAt = t
	return rec, nil
}

var (
	_ domain.MemorySink    = (*SQLiteSink)(nil)
	_ domain.MemoryQuerier = (*SQLiteSink)(nil)
)
