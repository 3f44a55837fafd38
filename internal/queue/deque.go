package queue

import "sync"

// Deque is a concurrent double-ended queue with an associated wake signal.
//
// A single mutex guards both the items and the wake channel. Every insert
// performs a non-blocking send on the wake channel, so a consumer waiting on
// Wait() observes new items without polling.
//
// It implements the Queue interface.
type Deque[T any] struct {
	mu    sync.Mutex
	items []T
	wake  chan struct{}
}

var _ Queue[string] = (*Deque[string])(nil)

// NewDeque creates a new Deque with prealloc capacity.
func NewDeque[T any](prealloc int) *Deque[T] {
	return &Deque[T]{
		items: make([]T, 0, prealloc),
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue adds items to the tail of the queue.
func (q *Deque[T]) Enqueue(items ...T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, items...)
	q.notifyLocked()
}

// EnqueueFront adds items to the head of the queue. items[0] becomes the new head.
func (q *Deque[T]) EnqueueFront(items ...T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]T, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	q.items = append(merged, q.items...)
	q.notifyLocked()
}

// Dequeue removes and returns the item at the head of the queue.
func (q *Deque[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
func (q *Deque[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	return q.items[0], true
}

// Drain removes and returns all queued items.
func (q *Deque[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = make([]T, 0, cap(items))

	return items
}

// Reset resets the queue to an empty state.
func (q *Deque[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	clear(q.items)
	q.items = q.items[:0]
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *Deque[T]) IsEmpty() bool {
	return q.Length() == 0
}

// Length returns the number of items in the queue.
func (q *Deque[T]) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Wait returns the wake channel. It receives a value after an insert or a Signal call.
func (q *Deque[T]) Wait() <-chan struct{} {
	return q.wake
}

// Signal wakes a waiting consumer without inserting an item.
func (q *Deque[T]) Signal() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.notifyLocked()
}

func (q *Deque[T]) notifyLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
