// Package asyncqueue implements a bounded single-producer/single-consumer
// queue with a close signal: Send blocks when full, Receive returns false
// once the queue has been closed and fully drained. It is the bounded
// inter-stage edge the pipeline scheduler plumbs between Decoder, Filter,
// and Encoder stages.
package asyncqueue

import (
	"context"
	"sync"
)

// Queue is a bounded SPSC queue of T with a close signal. Close never
// closes the underlying data channel directly — only the separate signal
// channel — so that Close may safely be called from a goroutine other than
// the producer without racing a concurrent blocked Send.
type Queue[T any] struct {
	ch       chan T
	closed   chan struct{}
	closeOne sync.Once
}

// New creates a Queue with the given capacity. Capacity 0 is a valid
// rendezvous queue (Send blocks until a Receive is ready).
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Send enqueues v, blocking while the queue is full. It returns false if
// the queue was closed (or ctx was canceled) before v could be enqueued;
// the caller still owns v in that case.
func (q *Queue[T]) Send(ctx context.Context, v T) bool {
	select {
	case <-q.closed:
		return false
	default:
	}

	select {
	case q.ch <- v:
		return true
	case <-q.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Receive returns the next value and true, or the zero value and false
// once the queue is closed and every already-buffered value has been
// drained (or ctx was canceled).
func (q *Queue[T]) Receive(ctx context.Context) (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
	}

	select {
	case v := <-q.ch:
		return v, true
	case <-q.closed:
		select {
		case v := <-q.ch:
			return v, true
		default:
			var zero T
			return zero, false
		}
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Close signals no further sends will succeed and, once any buffered
// values are drained via Receive, causes Receive to return false. Close is
// idempotent.
func (q *Queue[T]) Close() {
	q.closeOne.Do(func() { close(q.closed) })
}
