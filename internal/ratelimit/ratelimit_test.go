package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestLimiter_ChatBudget(t *testing.T) {
	clock := newClock()
	l := New(WithClock(clock.Now))
	user := uuid.New()

	for i := 0; i < ChatBudget.Max; i++ {
		require.True(t, l.AllowBudget(KindChat, user, ChatBudget), "send %d", i+1)
		clock.Advance(time.Second)
	}
	assert.False(t, l.AllowBudget(KindChat, user, ChatBudget), "31st send within the window")

	// The first send was at t=0; the window slides past it at t>60s.
	clock.Advance(31 * time.Second)
	assert.True(t, l.AllowBudget(KindChat, user, ChatBudget))
}

func TestLimiter_DeniedAttemptsAreNotRecorded(t *testing.T) {
	clock := newClock()
	l := New(WithClock(clock.Now))
	user := uuid.New()

	require.True(t, l.Allow(KindChat, user, 1, 10*time.Second))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Allow(KindChat, user, 1, 10*time.Second))
	}

	clock.Advance(10*time.Second + time.Millisecond)
	assert.True(t, l.Allow(KindChat, user, 1, 10*time.Second))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(WithClock(newClock().Now))
	a, b := uuid.New(), uuid.New()

	require.True(t, l.Allow(KindNote, a, 1, time.Minute))
	assert.False(t, l.Allow(KindNote, a, 1, time.Minute))
	assert.True(t, l.Allow(KindNote, b, 1, time.Minute))
	assert.True(t, l.Allow(KindChat, a, 1, time.Minute))
	assert.Equal(t, 3, l.Len())
}

func TestLimiter_Sweep(t *testing.T) {
	clock := newClock()
	l := New(WithClock(clock.Now))
	idle, busy := uuid.New(), uuid.New()

	l.Allow(KindChat, idle, 10, time.Minute)
	clock.Advance(4 * time.Minute)
	l.Allow(KindChat, busy, 10, time.Minute)
	clock.Advance(90 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_RunStopsOnCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
