package queue

// Queue is a generic FIFO queue that can hold any type.
// It is not safe for concurrent use.
type Queue[T any] struct {
	items []T
}

// New creates and returns a new Queue instance.
func New[T any]() *Queue[T] {
	return &Queue[T]{items: []T{}}
}

// Enqueue adds an element to the end of the queue.
func (q *Queue[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the front element of the queue.
// The boolean indicates whether an element was dequeued (false if the queue was empty).
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero // release the reference for GC
	q.items = q.items[1:]
	return item, true
}

// Drain removes and returns every queued element in order.
func (q *Queue[T]) Drain() []T {
	items := q.items
	q.items = []T{}
	return items
}

// Clear drops every queued element.
func (q *Queue[T]) Clear() {
	q.items = []T{}
}

// Len returns the number of elements in the queue.
func (q *Queue[T]) Len() int {
	return len(q.items)
}
