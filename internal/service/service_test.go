package service

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
	"github.com/immxrtalbeast/jamroom/internal/repository"
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

type harness struct {
	svc   *RoomService
	store *repository.InMemoryStore
	users *repository.InMemoryUserRepository
	clock *fakeClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, tweaks ...func(*Options)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)}
	opts := Options{Now: clock.Now, WatchdogInterval: 10 * time.Millisecond}
	for _, fn := range tweaks {
		fn(&opts)
	}

	store := repository.NewInMemoryStore()
	users := repository.NewInMemoryUserRepository()
	return &harness{
		svc:   NewRoomService(store, users, nil, discardLogger(), opts),
		store: store,
		users: users,
		clock: clock,
	}
}

func person(name string) *domain.User {
	return &domain.User{ID: uuid.New(), Name: name}
}

func (h *harness) createRoom(t *testing.T, spec domain.RoomSpec, host *domain.User) *domain.Room {
	t.Helper()
	if spec.Name == "" {
		spec.Name = "evening jam"
	}
	room, err := h.svc.CreateRoom(context.Background(), spec, host)
	require.NoError(t, err)
	return room
}

// join admits user into a public room and advances the clock so join times
// are distinct.
func (h *harness) join(t *testing.T, roomID uuid.UUID, user *domain.User) {
	t.Helper()
	h.clock.Advance(time.Second)
	res, err := h.svc.Join(context.Background(), roomID, user, "")
	require.NoError(t, err)
	require.Equal(t, JoinJoined, res)
}

func (h *harness) room(t *testing.T, roomID uuid.UUID) *domain.Room {
	t.Helper()
	room, err := h.store.GetByID(context.Background(), roomID)
	require.NoError(t, err)
	return room
}

func assertRoomInvariants(t *testing.T, room *domain.Room) {
	t.Helper()
	hosts := 0
	ids := make([]uuid.UUID, 0, len(room.Participants))
	for _, p := range room.Participants {
		if p.IsHost {
			hosts++
			assert.Equal(t, room.HostID, p.UserID, "host flag and host id disagree")
		}
		ids = append(ids, p.UserID)
	}
	if len(room.Participants) > 0 {
		assert.Equal(t, 1, hosts, "exactly one host")
	}
	assert.ElementsMatch(t, ids, room.ParticipantIDs)
	for _, id := range room.PendingIDs {
		assert.False(t, slices.Contains(ids, id), "pending id is also a participant")
	}
}

func recv[T any](t *testing.T, sub *feed.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func expectSilence[T any](t *testing.T, sub *feed.Subscription[T], wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event %+v", v)
		}
	case <-time.After(wait):
	}
}
