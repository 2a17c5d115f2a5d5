package memory

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"agenthub/internal/domain"
	"agenthub/internal/infra/metrics"
)

const (
	defaultAsyncWorkers = 4
	defaultAsyncQueue   = 256
)

type writeJob struct {
	ctx      context.Context
	agentID  string
	summary  string
	metadata map[string]string
}

// AsyncSink makes a durable sink fire-and-forget. Records are queued and
// written by at most workers goroutines; a full queue drops the record.
// AddMemory never returns an error: failures are logged and counted.
type AsyncSink struct {
	inner   domain.MemorySink
	backend string
	queue   chan writeJob
	sem     *semaphore.Weighted
	workers int64
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	failed  atomic.Uint64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// AsyncOption configures an AsyncSink.
type AsyncOption func(*AsyncSink)

// WithAsyncMetrics records write outcomes under the backend label.
func WithAsyncMetrics(m *metrics.Metrics) AsyncOption {
	return func(a *AsyncSink) { a.metrics = m }
}

// NewAsyncSink starts the dispatcher for inner. Call Close to drain it.
func NewAsyncSink(inner domain.MemorySink, backend string, workers, queueSize int, logger *slog.Logger, opts ...AsyncOption) *AsyncSink {
	if workers <= 0 {
		workers = defaultAsyncWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultAsyncQueue
	}
	a := &AsyncSink{
		inner:   inner,
		backend: backend,
		queue:   make(chan writeJob, queueSize),
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: int64(workers),
		done:    make(chan struct{}),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.dispatch()
	return a
}

// AddMemory implements domain.MemorySink.
func (a *AsyncSink) AddMemory(ctx context.Context, agentID, summary string, metadata map[string]string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil
	}
	job := writeJob{
		ctx:      context.WithoutCancel(ctx),
		agentID:  agentID,
		summary:  summary,
		metadata: maps.Clone(metadata),
	}
	select {
	case a.queue <- job:
	default:
		a.dropped.Add(1)
		a.metrics.MemoryWrite(a.backend, "dropped")
		a.logger.Warn("memory write dropped, queue full", "backend", a.backend, "agent_id", agentID)
	}
	return nil
}

func (a *AsyncSink) dispatch() {
	defer close(a.done)
	for job := range a.queue {
		// Acquire only fails on a cancelled context.
		_ = a.sem.Acquire(context.Background(), 1)
		go func() {
			defer a.sem.Release(1)
			a.write(job)
		}()
	}
	_ = a.sem.Acquire(context.Background(), a.workers)
	a.sem.Release(a.workers)
}

func (a *AsyncSink) write(job writeJob) {
	if err := a.inner.AddMemory(job.ctx, job.agentID, job.summary, job.metadata); err != nil {
		a.failed.Add(1)
		a.metrics.MemoryWrite(a.backend, "failed")
		a.logger.Warn("memory write failed", "backend", a.backend, "agent_id", job.agentID, "error", err)
		return
	}
	a.metrics.MemoryWrite(a.backend, "ok")
}

// Query reads straight from the inner sink when it can rank records.
// Writes still queued are not visible.
func (a *AsyncSink) Query(ctx context.Context, agentID, text string, limit int) ([]domain.MemoryRecord, error) {
	q, ok := a.inner.(domain.MemoryQuerier)
	if !ok {
		return nil, nil
	}
	return q.Query(ctx, agentID, text, limit)
}

// Dropped returns how many records were discarded because the queue was full.
func (a *AsyncSink) Dropped() uint64 { return a.dropped.Load() }

// Failed returns how many writes the inner sink rejected.
func (a *AsyncSink) Failed() uint64 { return a.failed.Load() }

// Close stops accepting records and waits for queued writes to finish.
// Close is idempotent.
func (a *AsyncSink) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return nil
}

var (
	_ domain.MemorySink    = (*AsyncSink)(nil)
	_ domain.MemoryQuerier = (*AsyncSink)(nil)
)
