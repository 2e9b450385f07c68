// Package ratelimit implements a per-key sliding window throttle.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindChat Kind = "chat"
	KindNote Kind = "note"
)

// Budget is how many actions fit in a rolling window.
type Budget struct {
	Max    int
	Window time.Duration
}

var (
	ChatBudget = Budget{Max: 30, Window: time.Minute}
	NoteBudget = Budget{Max: 100, Window: 10 * time.Second}
)

const DefaultIdleTTL = 5 * time.Minute

type key struct {
	kind Kind
	id   uuid.UUID
}

type Limiter struct {
	mu      sync.Mutex
	history map[key][]time.Time
	idleTTL time.Duration
	now     func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithIdleTTL(ttl time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = ttl }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		history: make(map[key][]time.Time),
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow prunes the history of (kind, id) to the window and records the
// current attempt only when fewer than max remain.
func (l *Limiter) Allow(kind Kind, id uuid.UUID, max int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-window)
	k := key{kind: kind, id: id}

	attempts := l.history[k]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= max {
		l.history[k] = fresh
		return false
	}

	l.history[k] = append(fresh, now)
	return true
}

func (l *Limiter) AllowBudget(kind Kind, id uuid.UUID, b Budget) bool {
	return l.Allow(kind, id, b.Max, b.Window)
}

// Sweep drops keys whose newest attempt is older than the idle TTL and
// returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for k, attempts := range l.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(cutoff) {
			delete(l.history, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}
