package queue

// Queue defines the interface for a line queue.
type Queue[T any] interface {
	// Enqueue adds items to the tail of the queue.
	Enqueue(items ...T)
	// EnqueueFront adds items to the head of the queue, keeping their relative order.
	EnqueueFront(items ...T)
	// Dequeue removes and returns the item at the head of the queue.
	// ok is false if the queue is empty.
	Dequeue() (item T, ok bool)
	// Peek returns the item at the head of the queue without removing it.
	Peek() (item T, ok bool)
	// Reset to an empty queue
	Reset()
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
}
