package engine

import (
	"context"
	"time"
)

// MemoryQueue is the single-process queue: a buffered channel of typed
// events. There is no wire format and no ack protocol; Delete is a no-op.
type MemoryQueue struct {
	ch chan InboundEvent
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan InboundEvent, buffer)}
}

// Send enqueues an event or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, event InboundEvent) error {
	select {
	case q.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until an event is available, ctx is done, or waitSeconds
// elapses, then drains whatever else is already buffered up to maxEvents.
func (q *MemoryQueue) Receive(ctx context.Context, maxEvents int, waitSeconds int) ([]queuedEvent, error) {
	if maxEvents <= 0 {
		maxEvents = 1
	}

	var wait <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		wait = timer.C
	}

	var first InboundEvent
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wait:
		return nil, nil
	case first = <-q.ch:
	}

	events := make([]queuedEvent, 0, maxEvents)
	events = append(events, queuedEvent{Event: first})
	for len(events) < maxEvents {
		select {
		case ev := <-q.ch:
			events = append(events, queuedEvent{Event: ev})
		default:
			return events, nil
		}
	}
	return events, nil
}

// Delete is a no-op for the in-memory queue.
func (q *MemoryQueue) Delete(_ context.Context, _ string) error {
	return nil
}
