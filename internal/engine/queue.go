package engine

import (
	"sync"

	"github.com/roach88/shopsync/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeUpsert inserts or replaces one entity.
	EventTypeUpsert EventType = iota + 1
	// EventTypeDelete removes one entity by id.
	EventTypeDelete
	// EventTypeLoad upserts a batch of entities fetched from the remote.
	EventTypeLoad
)

func (t EventType) String() string {
	switch t {
	case EventTypeUpsert:
		return "upsert"
	case EventTypeDelete:
		return "delete"
	case EventTypeLoad:
		return "load"
	default:
		return "unknown"
	}
}

// Source identifies which component produced a write. Only the three
// declared sources may write the authoritative store.
type Source string

const (
	SourceMutation Source = "mutation"
	SourceRealtime Source = "realtime"
	SourceLoad     Source = "load"
)

// Valid reports whether s is an allowed writer.
func (s Source) Valid() bool {
	switch s {
	case SourceMutation, SourceRealtime, SourceLoad:
		return true
	}
	return false
}

// Event is one write request for the Run loop.
type Event struct {
	Type   EventType
	Source Source

	// Entity is the record for EventTypeUpsert.
	Entity ir.Entity

	// EntityType and ID address the record for EventTypeDelete.
	EntityType ir.EntityType
	ID         string

	// Entities is the batch for EventTypeLoad.
	Entities []ir.Entity

	reply chan result
}

type result struct {
	applied Applied
	err     error
}

// eventQueue is a thread-safe unbounded FIFO queue for events.
//
// Submitters enqueue from any goroutine; only the Run loop dequeues.
// The signal channel enables context-aware waiting in Run.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not retain entity payloads.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued and returns the
// events still pending so their submitters can be released.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.events
	q.events = nil

	if q.closed {
		return pending
	}

	q.closed = true
	close(q.signal)
	return pending
}
