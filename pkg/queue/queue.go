// Package queue implements an unbounded blocking FIFO used to connect
// transport pumps to stream processing loops.
//
// A Queue has a write side and a read side. CloseWrite shuts the write
// side gracefully: readers keep draining buffered elements and then
// observe iterator.Done. CloseWithError tears down both sides at once
// and surfaces the error to every blocked or future caller.
package queue

import (
	"fmt"
	"io"
	"sync"

	"google.golang.org/api/iterator"
)

// Queue is a thread-safe unbounded FIFO of T.
//
// Put never blocks. Next blocks until an element is available or the
// queue is closed. A Queue must not be copied after first use.
type Queue[T any] struct {
	writeNotify chan struct{}

	mu         sync.Mutex
	closeWrite bool
	closeErr   error
	head       int
	buf        []T
}

// New creates an empty queue with the given initial capacity hint.
func New[T any](n int) *Queue[T] {
	return &Queue[T]{
		writeNotify: make(chan struct{}, 1),
		buf:         make([]T, 0, n),
	}
}

// Put appends an element to the tail of the queue and wakes a blocked
// reader. It fails once either close method has been called.
func (q *Queue[T]) Put(t T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeErr != nil {
		return fmt.Errorf("queue: put to closed queue: %w", q.closeErr)
	}
	if q.closeWrite {
		return fmt.Errorf("queue: put to closed queue: %w", io.ErrClosedPipe)
	}
	q.buf = append(q.buf, t)
	select {
	case q.writeNotify <- struct{}{}:
	default:
	}
	return nil
}

// Next removes and returns the element at the head of the queue,
// blocking while the queue is empty. After CloseWrite it keeps
// returning buffered elements in order and then iterator.Done forever.
// After CloseWithError it returns the close error.
func (q *Queue[T]) Next() (t T, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == len(q.buf) {
		if q.closeErr != nil {
			err = fmt.Errorf("queue: read from closed queue: %w", q.closeErr)
			return
		}
		if q.closeWrite {
			err = iterator.Done
			return
		}
		q.mu.Unlock()
		<-q.writeNotify
		q.mu.Lock()
	}
	t = q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head++
	if q.head == len(q.buf) {
		q.head = 0
		q.buf = q.buf[:0]
	}
	return t, nil
}

// CloseWrite closes the write side. Buffered elements remain readable;
// once drained, Next returns iterator.Done. Safe to call more than once.
func (q *Queue[T]) CloseWrite() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeWrite {
		return
	}
	q.closeWrite = true
	close(q.writeNotify)
}

// CloseWithError closes both sides immediately, discarding buffered
// elements. Blocked and future readers receive err. A nil err is
// replaced with io.ErrClosedPipe. Only the first close takes effect.
func (q *Queue[T]) CloseWithError(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeErr != nil {
		return
	}
	q.closeErr = err
	q.head = 0
	q.buf = nil
	if !q.closeWrite {
		q.closeWrite = true
		close(q.writeNotify)
	}
}

// Len returns the number of buffered elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) - q.head
}
