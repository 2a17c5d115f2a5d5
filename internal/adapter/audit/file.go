// Package audit keeps a JSONL trail of governance outcomes: blocked and
// notified messages, promotions, handler failures and agent lifecycle.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agenthub/internal/domain"
	"agenthub/internal/infra/tracer"
)

// FileLogger implements domain.AuditLogger by appending JSON lines to a file.
// When the file would grow past maxSize it is rotated to path+".1", replacing
// any previous backup.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
	now     func() time.Time
}

// NewFileLogger opens path for appending, creating it with 0600 permissions.
// maxSize <= 0 disables rotation.
func NewFileLogger(path string, maxSize int64) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	return &FileLogger{file: f, path: path, size: info.Size(), maxSize: maxSize, now: time.Now}, nil
}

// Log writes event as a single JSON line and mirrors it onto the active span.
func (a *FileLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return domain.NewDomainError("FileLogger.Log", domain.ErrAuditWrite, err.Error())
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return domain.NewDomainError("FileLogger.Log", domain.ErrAuditWrite, "logger closed")
	}
	if a.maxSize > 0 && a.size > 0 && a.size+int64(len(data)) > a.maxSize {
		if err := a.rotateLocked(); err != nil {
			return domain.NewDomainError("FileLogger.Log", domain.ErrAuditWrite, err.Error())
		}
	}
	n, err := a.file.Write(data)
	a.size += int64(n)
	if err != nil {
		return domain.NewDomainError("FileLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := []attribute.KeyValue{tracer.StringAttr("audit.actor", event.Actor)}
		if event.Reason != "" {
			attrs = append(attrs, tracer.StringAttr("audit.reason", event.Reason))
		}
		span.AddEvent("audit."+string(event.Type), trace.WithAttributes(attrs...))
	}
	return nil
}

func (a *FileLogger) rotateLocked() error {
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close for rotation: %w", err)
	}
	if err := os.Rename(a.path, a.path+".1"); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		a.file = nil
		return fmt.Errorf("reopen audit log: %w", err)
	}
	a.file = f
	a.size = 0
	return nil
}

// Close closes the log file. Further Log calls fail with ErrAuditWrite.
func (a *FileLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// ParseSize parses a human-readable size such as "512KB", "10MB" or "1GB".
// An empty string is 0.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if rest, ok := strings.CutSuffix(s, unit.suffix); ok {
			s, multiplier = rest, unit.mult
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("parse size %q: %w", s, domain.ErrInvalidInput)
	}
	return n * multiplier, nil
}

var _ domain.AuditLogger = (*FileLogger)(nil)
