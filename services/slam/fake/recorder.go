package fake

import (
	"context"
	"sync"
)

// Recorder is a publisher that keeps every message it is given.
type Recorder[T any] struct {
	mu       sync.Mutex
	messages []T
	// Err, when set, is returned from every Publish after recording the message.
	Err error
}

// Publish records msg.
func (r *Recorder[T]) Publish(ctx context.Context, msg T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.Err
}

// Messages returns a copy of the recorded messages.
func (r *Recorder[T]) Messages() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.messages...)
}

// Len returns the number of recorded messages.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
