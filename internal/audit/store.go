package audit

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned when the async queue cannot take another event.
var ErrQueueFull = errors.New("audit queue full")

// InMemoryStore keeps events in process. Used in development and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns a copy of every event appended so far, oldest first.
func (s *InMemoryStore) List(_ context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...), nil
}

// Queue is a Store that hands events to a Worker without blocking the writer.
type Queue struct {
	ch chan Event
}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Event, size)}
}

// Append enqueues event, or fails with ErrQueueFull rather than wait.
func (q *Queue) Append(_ context.Context, event Event) error {
	select {
	case q.ch <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Events is the channel a Worker drains.
func (q *Queue) Events() <-chan Event {
	return q.ch
}
