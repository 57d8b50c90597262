package ring

import (
	"container/list"
	"context"
	"sync"
)

// Queue is an unbounded FIFO safe for concurrent use. It is the only thing
// the application and the network worker share besides the stable table.
type Queue[T any] struct {
	mu    sync.Mutex
	items *list.List
	ready chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{items: list.New(), ready: make(chan struct{}, 1)}
}

func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items.PushBack(v)
	q.mu.Unlock()
	q.signal()
}

// TryPop never blocks.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	front := q.items.Front()
	if front == nil {
		return zero, false
	}
	q.items.Remove(front)
	if q.items.Len() > 0 {
		q.signal()
	}
	return front.Value.(T), true
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
