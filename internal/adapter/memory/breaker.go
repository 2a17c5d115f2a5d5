package memory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerSink wraps a durable sink with a circuit breaker so a failing
// backend is skipped fast instead of stalling every write.
type BreakerSink struct {
	inner   domain.MemorySink
	name    string
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerSink wraps inner. Zero config fields use defaults.
func NewBreakerSink(inner domain.MemorySink, name string, cfg config.BreakerConfig, logger *slog.Logger) *BreakerSink {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "memory:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &BreakerSink{inner: inner, name: name, breaker: cb}
}

// AddMemory implements domain.MemorySink.
func (b *BreakerSink) AddMemory(ctx context.Context, agentID, summary string, metadata map[string]string) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.AddMemory(ctx, agentID, summary, metadata)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewDomainError("BreakerSink.AddMemory", domain.ErrMemoryPersist, b.name+" circuit open: "+err.Error())
	}
	return err
}

// Query delegates to the wrapped sink when it can rank records.
func (b *BreakerSink) Query(ctx context.Context, agentID, text string, limit int) ([]domain.MemoryRecord, error) {
	q, ok := b.inner.(domain.MemoryQuerier)
	if !ok {
		return nil, nil
	}
	return q.Query(ctx, agentID, text, limit)
}

// State returns the breaker state for monitoring.
func (b *BreakerSink) State() gobreaker.State {
	return b.breaker.State()
}

var _ domain.MemorySink = (*BreakerSink)(nil)
