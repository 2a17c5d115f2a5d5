package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"agenthub/internal/domain"
)

// DefaultQueueSize bounds the events buffered for one subscriber.
const DefaultQueueSize = 1024

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns one FIFO queue drained by a single worker goroutine, so
// a subscriber sees events in publish order.
type subscription struct {
	id      uint64
	handler domain.EventHandler
	queue   chan delivery
}

// Bus is an in-process, goroutine-safe event bus for observer events.
// Each subscriber has its own bounded queue and worker; a full queue drops
// the event for that subscriber and counts it. Publish never blocks.
type Bus struct {
	mu        sync.RWMutex
	typed     map[domain.EventType][]*subscription
	allSubs   []*subscription
	nextID    atomic.Uint64
	logger    *slog.Logger
	queueSize int
	wg        sync.WaitGroup
	closed    bool
	dropped   atomic.Uint64
	now       func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		typed:     make(map[domain.EventType][]*subscription),
		logger:    logger,
		queueSize: DefaultQueueSize,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish fans out an event to matching typed subscribers and all-event
// subscribers. A zero Timestamp is stamped with the current time.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	d := delivery{ctx: context.WithoutCancel(ctx), event: event}

	// Queues are closed under the write lock, so sending under the read
	// lock never hits a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.typed[event.Type] {
		b.enqueue(sub, d)
	}
	for _, sub := range b.allSubs {
		b.enqueue(sub, d)
	}
}

// Emit publishes a StateChange wrapped in an event of the given type.
func (b *Bus) Emit(ctx context.Context, eventType domain.EventType, sc domain.StateChange) {
	b.Publish(ctx, domain.Event{Type: eventType, State: sc})
}

func (b *Bus) enqueue(sub *subscription, d delivery) {
	select {
	case sub.queue <- d:
	default:
		b.dropped.Add(1)
		b.logger.Debug("event dropped, subscriber queue full",
			"event", string(d.event.Type),
			"agent_id", d.event.State.AgentID,
		)
	}
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for d := range sub.queue {
		b.deliver(sub, d)
	}
}

func (b *Bus) deliver(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// add starts a worker for handler. It returns nil when the bus is closed.
func (b *Bus) add(handler domain.EventHandler, attach func(*subscription)) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		queue:   make(chan delivery, b.queueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	attach(sub)
	b.wg.Add(1)
	go b.run(sub)
	return sub
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.add(handler, func(s *subscription) {
		b.typed[eventType] = append(b.typed[eventType], s)
	})
	if sub == nil {
		return func() {}
	}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		var found bool
		b.typed[eventType], found = without(b.typed[eventType], sub.id)
		if found {
			close(sub.queue)
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.add(handler, func(s *subscription) {
		b.allSubs = append(b.allSubs, s)
	})
	if sub == nil {
		return func() {}
	}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		var found bool
		b.allSubs, found = without(b.allSubs, sub.id)
		if found {
			close(sub.queue)
		}
	}
}

// without returns subs minus id and whether id was present.
func without(subs []*subscription, id uint64) ([]*subscription, bool) {
	out := make([]*subscription, 0, len(subs))
	found := false
	for _, s := range subs {
		if s.id == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	return out, found
}

// Dropped reports how many deliveries were skipped because a subscriber
// queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close stops accepting events, lets every worker drain its queue and waits
// for them. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.typed {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	for _, sub := range b.allSubs {
		close(sub.queue)
	}
	b.typed = make(map[domain.EventType][]*subscription)
	b.allSubs = nil
	b.mu.Unlock()

	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
