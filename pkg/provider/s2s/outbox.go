package s2s

import (
	"context"
	"sync"
)

// DefaultOutboxSize is the outbound queue depth used by the built-in
// transports.
const DefaultOutboxSize = 64

// Outbox is the outbound queue of one session, drained by exactly one writer
// goroutine. It has two lanes: a bounded data lane for streaming payloads
// that drops when full, and an unbounded control lane that never drops.
// Within a lane wire order equals push order; queued control messages are
// written before queued data.
type Outbox[T any] struct {
	ch chan T

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	control []T
	wake    chan struct{}
}

// NewOutbox creates an outbox whose data lane holds at most size messages.
func NewOutbox[T any](size int) *Outbox[T] {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox[T]{
		ch:   make(chan T, size),
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
	}
}

// Push queues v on the data lane. It returns [ErrSessionClosed] after Close
// and [ErrBackpressure] when the lane is full.
func (o *Outbox[T]) Push(v T) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrSessionClosed
	}
	select {
	case o.ch <- v:
		return nil
	default:
		return ErrBackpressure
	}
}

// PushControl queues v on the control lane. It never blocks and only fails
// with [ErrSessionClosed] after Close.
func (o *Outbox[T]) PushControl(v T) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrSessionClosed
	}
	o.control = append(o.control, v)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

func (o *Outbox[T]) popControl() (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.control) == 0 {
		var zero T
		return zero, false
	}
	v := o.control[0]
	o.control = o.control[1:]
	return v, true
}

// Run hands queued messages to write until ctx is done, the outbox is
// closed, or write fails. Messages still queued on exit are discarded.
func (o *Outbox[T]) Run(ctx context.Context, write func(context.Context, T) error) error {
	for {
		if v, ok := o.popControl(); ok {
			if err := write(ctx, v); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-o.done:
			return nil
		case <-o.wake:
		case v := <-o.ch:
			if err := write(ctx, v); err != nil {
				return err
			}
		}
	}
}

// Close rejects further pushes and stops Run. Close is idempotent.
func (o *Outbox[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		o.control = nil
		close(o.done)
	}
}
