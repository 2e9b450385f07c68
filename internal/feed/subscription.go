// Package feed carries change notifications from a store to its observers.
// A Subscription is a bounded channel with an explicit, idempotent Close.
package feed

import (
	"context"
	"sync"
)

type Mode int

const (
	// KeepLatest replaces the oldest buffered value when the buffer is full,
	// so a slow reader always ends up with the newest snapshot.
	KeepLatest Mode = iota
	// DropNewest discards the incoming value when the buffer is full.
	DropNewest
)

type Subscription[T any] struct {
	mu      sync.Mutex
	ch      chan T
	done    chan struct{}
	closed  bool
	mode    Mode
	onClose []func()
}

func NewSubscription[T any](buffer int, mode Mode) *Subscription[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscription[T]{
		ch:   make(chan T, buffer),
		done: make(chan struct{}),
		mode: mode,
	}
}

func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Done is closed once the subscription is closed.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Send enqueues v without blocking. It reports false when the subscription
// is closed or v was dropped.
func (s *Subscription[T]) Send(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- v:
		return true
	default:
	}

	if s.mode == DropNewest {
		return false
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// OnClose registers fn to run once after Close. If the subscription is
// already closed fn runs immediately.
func (s *Subscription[T]) OnClose(fn func()) {
	s.mu.Lock()
	if !s.closed {
		s.onClose = append(s.onClose, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Close stops delivery. Buffered values are discarded and the events
// channel is closed. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for {
		select {
		case <-s.ch:
			continue
		default:
		}
		break
	}
	close(s.ch)
	close(s.done)
	hooks := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (s *Subscription[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Bind closes the subscription when ctx is cancelled.
func (s *Subscription[T]) Bind(ctx context.Context) *Subscription[T] {
	if ctx.Done() == nil {
		return s
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s
}

// Relay consumes src, maps every value through fn and forwards the accepted
// results to the returned subscription. Closing either side closes both.
func Relay[In, Out any](src *Subscription[In], buffer int, mode Mode, fn func(In) (Out, bool)) *Subscription[Out] {
	out := NewSubscription[Out](buffer, mode)
	out.OnClose(src.Close)

	go func() {
		defer out.Close()
		for v := range src.Events() {
			mapped, ok := fn(v)
			if !ok {
				continue
			}
			out.Send(mapped)
		}
	}()

	return out
}
