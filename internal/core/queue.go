package core

import (
	"context"
	"sync"
)

// DispatchQueue is an unbounded FIFO of job ids. Push never blocks and never
// drops; Pop blocks until an id is available, the context ends, or the queue
// is closed. Ids left at Close stay QUEUED in the store for the next Reload.
type DispatchQueue struct {
	mu     sync.Mutex
	items  []int64
	notify chan struct{}
	done   chan struct{}
	closed bool
}

func NewDispatchQueue() *DispatchQueue {
	return &DispatchQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *DispatchQueue) Push(id int64) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, id)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *DispatchQueue) Pop(ctx context.Context) (int64, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrQueueClosed
		}
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

func (q *DispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes blocked consumers. From then on Pop reports ErrQueueClosed
// even when ids remain.
func (q *DispatchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
