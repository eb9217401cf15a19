package pool

// Queue is a bounded FIFO queue. Pushing onto a full queue evicts the front
// element so the newest items survive.
type Queue[T any] struct {
	items []T
	limit int
}

// NewQueue creates a queue holding at most limit items.
func NewQueue[T any](limit int) *Queue[T] {
	return &Queue[T]{items: make([]T, 0, limit), limit: limit}
}

// PushBack appends item. When the queue was full the evicted front element is
// returned with true.
func (q *Queue[T]) PushBack(item T) (T, bool) {
	q.items = append(q.items, item)
	if len(q.items) <= q.limit {
		var zero T
		return zero, false
	}
	return q.PopFront()
}

// PushFront puts item back at the head of the queue, ignoring the limit.
func (q *Queue[T]) PushFront(item T) {
	q.items = append(q.items, item)
	copy(q.items[1:], q.items)
	q.items[0] = item
}

// PopFront removes and returns the front element.
// The boolean indicates whether an element was dequeued.
func (q *Queue[T]) PopFront() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Clear drops every element.
func (q *Queue[T]) Clear() {
	clear(q.items)
	q.items = q.items[:0]
}
