// Package fifo provides the bounded blocking queue used to decouple the
// stages of the encode pipeline.
package fifo

import (
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrClosed is returned to all blocked and future callers once the
	// queue has been closed.
	ErrClosed = errors.New("Queue closed")

	// ErrFull is returned when a push cannot complete within its timeout.
	ErrFull = errors.New("Queue full")

	// ErrEmpty is returned when a pop cannot complete within its timeout,
	// or when the popped item is unusable.
	ErrEmpty = errors.New("No item")
)

// Queue is a bounded multi-producer/multi-consumer FIFO. Push and Pop accept
// a timeout: negative blocks indefinitely, zero polls, positive bounds the
// wait. Close unblocks every waiter.
type Queue struct {
	items    chan interface{}
	abort    chan struct{}
	closer   sync.Once
	capacity int
}

func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, pkgerrors.Errorf("Invalid queue capacity %d", capacity)
	}
	return &Queue{
		items:    make(chan interface{}, capacity),
		abort:    make(chan struct{}),
		capacity: capacity,
	}, nil
}

func (q *Queue) Capacity() int {
	return q.capacity
}

// Len returns the number of items currently queued.
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) Push(item interface{}, timeout time.Duration) error {
	select {
	case <-q.abort:
		return ErrClosed
	default:
	}

	if timeout < 0 {
		select {
		case q.items <- item:
			return nil
		case <-q.abort:
			return ErrClosed
		}
	}

	if timeout == 0 {
		select {
		case q.items <- item:
			return nil
		case <-q.abort:
			return ErrClosed
		default:
			return ErrFull
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case q.items <- item:
		return nil
	case <-q.abort:
		return ErrClosed
	case <-t.C:
		return ErrFull
	}
}

func (q *Queue) Pop(timeout time.Duration) (interface{}, error) {
	select {
	case <-q.abort:
		return nil, ErrClosed
	default:
	}

	var item interface{}
	if timeout < 0 {
		select {
		case item = <-q.items:
		case <-q.abort:
			return nil, ErrClosed
		}
	} else if timeout == 0 {
		select {
		case item = <-q.items:
		case <-q.abort:
			return nil, ErrClosed
		default:
			return nil, ErrEmpty
		}
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case item = <-q.items:
		case <-q.abort:
			return nil, ErrClosed
		case <-t.C:
			return nil, ErrEmpty
		}
	}

	// A queued nil is garbage, not data. Surface it as "no item" rather
	// than hand it to the caller.
	if item == nil {
		return nil, ErrEmpty
	}
	return item, nil
}

// Close aborts the queue. All blocked pushers and poppers unblock with
// ErrClosed, as does every later call. Pending items are discarded.
func (q *Queue) Close() error {
	q.closer.Do(func() { close(q.abort) })
	return nil
}
