package agent

import (
	"context"
	"slices"
	"sync"
)

// Inbox is an unbounded multi-producer, single-consumer FIFO queue. A Push
// that finds a parked consumer hands the item to it directly and never
// touches the queue. Close releases every parked consumer with the zero
// value and ok == false.
type Inbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	parked []chan T
	closed bool
}

// NewInbox creates an empty Inbox.
func NewInbox[T any]() *Inbox[T] {
	return &Inbox[T]{}
}

// Push enqueues item. It returns false when the inbox is closed and the item
// was discarded.
func (in *Inbox[T]) Push(item T) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return false
	}
	if len(in.parked) > 0 {
		ch := in.parked[0]
		in.parked = in.parked[1:]
		ch <- item // buffered, never blocks
		return true
	}
	in.queue = append(in.queue, item)
	return true
}

// Next dequeues the oldest item, parking until one arrives. It returns
// ok == false once the inbox is closed and drained, or when ctx is done
// before an item was handed over.
func (in *Inbox[T]) Next(ctx context.Context) (item T, ok bool) {
	in.mu.Lock()
	if len(in.queue) > 0 {
		item = in.queue[0]
		var zero T
		in.queue[0] = zero
		in.queue = in.queue[1:]
		in.mu.Unlock()
		return item, true
	}
	if in.closed {
		in.mu.Unlock()
		return item, false
	}
	ch := make(chan T, 1)
	in.parked = append(in.parked, ch)
	in.mu.Unlock()

	select {
	case item, ok = <-ch:
		return item, ok
	case <-ctx.Done():
	}

	in.mu.Lock()
	if i := slices.Index(in.parked, ch); i >= 0 {
		in.parked = slices.Delete(in.parked, i, i+1)
		in.mu.Unlock()
		return item, false
	}
	in.mu.Unlock()
	// A producer or Close already resolved this waiter.
	item, ok = <-ch
	return item, ok
}

// Close marks the inbox closed, releases parked consumers and drops queued
// items. It is safe to call more than once.
func (in *Inbox[T]) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return
	}
	in.closed = true
	for _, ch := range in.parked {
		close(ch)
	}
	in.parked = nil
	in.queue = nil
}

// Len returns the number of queued items.
func (in *Inbox[T]) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// Parked returns the number of consumers waiting in Next.
func (in *Inbox[T]) Parked() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.parked)
}

// Closed reports whether Close has been called.
func (in *Inbox[T]) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}
