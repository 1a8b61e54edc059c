// Package queue provides a thread-safe bounded FIFO used by the runtime
// dispatcher to decouple routing from callback delivery.
//
// The queue supports two overflow policies mirroring the congestion-control
// choices a publisher can make: Block applies backpressure to the producer,
// Drop discards the newest item and reports it through the drop callback.
// Drops are never silent; the dispatcher counts them and notifies the owner.
package queue

import (
	"sync"
	"sync/atomic"
)

// OverflowPolicy defines how Push behaves when the queue is full.
type OverflowPolicy int

const (
	// Block causes Push to wait until space is available.
	Block OverflowPolicy = iota

	// Drop discards the pushed item when the queue is full.
	Drop
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Stats holds queue counters. All fields are monotonically increasing.
type Stats struct {
	Pushed  uint64
	Popped  uint64
	Dropped uint64
}

// Queue is a fixed-capacity FIFO with blocking Pop and configurable
// overflow behavior. A closed queue rejects further pushes but drains
// remaining items before Pop reports exhaustion.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []T
	capacity int
	head     int
	tail     int
	size     int
	closed   bool

	policy OverflowPolicy
	onDrop func(T)

	pushed  atomic.Uint64
	popped  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a queue with the given capacity and overflow policy.
// onDrop may be nil; it is invoked outside the queue lock for every
// item discarded under the Drop policy.
func New[T any](capacity int, policy OverflowPolicy, onDrop func(T)) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   policy,
		onDrop:   onDrop,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push adds an item to the queue. Under the Block policy it waits for
// space; under Drop it discards the item when full and reports true for
// dropped. Returns ok=false if the queue is closed.
func (q *Queue[T]) Push(item T) (ok, droppedItem bool) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return false, false
	}

	if q.size == q.capacity {
		switch q.policy {
		case Drop:
			q.dropped.Add(1)
			q.mu.Unlock()
			if q.onDrop != nil {
				q.onDrop(item)
			}
			return true, true

		case Block:
			for q.size == q.capacity && !q.closed {
				q.notFull.Wait()
			}
			if q.closed {
				q.mu.Unlock()
				return false, false
			}
		}
	}

	q.items[q.head] = item
	q.head = (q.head + 1) % q.capacity
	q.size++
	q.pushed.Add(1)

	q.notEmpty.Signal()
	q.mu.Unlock()
	return true, false
}

// TryPush adds an item without ever blocking, regardless of the queue's
// configured policy. When the queue is full the item is discarded, counted,
// and reported through the drop callback. Returns ok=false if the queue is
// closed and dropped=true if the item was discarded.
func (q *Queue[T]) TryPush(item T) (ok, dropped bool) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return false, false
	}

	if q.size == q.capacity {
		q.dropped.Add(1)
		q.mu.Unlock()
		if q.onDrop != nil {
			q.onDrop(item)
		}
		return true, true
	}

	q.items[q.head] = item
	q.head = (q.head + 1) % q.capacity
	q.size++
	q.pushed.Add(1)

	q.notEmpty.Signal()
	q.mu.Unlock()
	return true, false
}

// Pop removes and returns the oldest item, waiting until one is
// available. It returns ok=false only when the queue is closed and
// fully drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.tail]
	q.items[q.tail] = zero
	q.tail = (q.tail + 1) % q.capacity
	q.size--
	q.popped.Add(1)

	q.notFull.Signal()
	return item, true
}

// TryPop removes and returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.tail]
	q.items[q.tail] = zero
	q.tail = (q.tail + 1) % q.capacity
	q.size--
	q.popped.Add(1)

	q.notFull.Signal()
	return item, true
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the maximum number of items the queue can hold.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Close marks the queue closed and wakes all waiters. Pending items
// remain readable; Push fails immediately. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Popped:  q.popped.Load(),
		Dropped: q.dropped.Load(),
	}
}
