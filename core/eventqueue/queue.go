// Package eventqueue buffers decoded chain events between the watcher that
// produces them and the task system that consumes them. Producers never
// block; consumers block until an event arrives or their context ends.
package eventqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/gridmind/gridnode/core/chainio"
)

var ErrQueueClosed = errors.New("event queue is closed")

// EventQueue is the producer/consumer boundary between the watcher and the
// task system.
type EventQueue interface {
	// Put appends an event. It never blocks on consumers.
	Put(ctx context.Context, ev *chainio.Event) error
	// Get removes and returns the oldest event, blocking until one is
	// available, ctx is done, or the queue is closed.
	Get(ctx context.Context) (*chainio.Event, error)
	Close() error
}

// MemoryEventQueue is an unbounded in-process FIFO queue. Events are lost on
// restart; the watcher's block cursor makes them reappear on the next poll.
type MemoryEventQueue struct {
	mu     sync.Mutex
	events []*chainio.Event
	notify chan struct{}
	closed bool
}

func NewMemoryEventQueue() *MemoryEventQueue {
	return &MemoryEventQueue{
		notify: make(chan struct{}, 1),
	}
}

func (q *MemoryEventQueue) Put(ctx context.Context, ev *chainio.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.events = append(q.events, ev)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryEventQueue) Get(ctx context.Context) (*chainio.Event, error) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events = q.events[1:]
			// keep the wakeup token alive for other waiters
			if len(q.events) > 0 && !q.closed {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return ev, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MemoryEventQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.notify)
	return nil
}

// Len reports the number of buffered events.
func (q *MemoryEventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
