package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)

func newTestRoom(t *testing.T) *domain.Room {
	t.Helper()
	host := domain.NewParticipant(&domain.User{ID: uuid.New(), Name: "host"}, base)
	room, err := domain.NewRoom(domain.RoomSpec{Name: "jam"}, host, base)
	require.NoError(t, err)
	return room
}

func next[T any](t *testing.T, sub *feed.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.Events():
		require.True(t, ok, "feed closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed event")
	}
	var zero T
	return zero
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create get update with version check", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		room := newTestRoom(t)

		require.NoError(t, store.Create(ctx, room))
		assert.Equal(t, int64(1), room.Version)
		assert.ErrorIs(t, store.Create(ctx, room), ErrRoomExists)

		got, err := store.GetByID(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, room.Name, got.Name)
		assert.Equal(t, room.HostID, got.HostID)
		assert.Len(t, got.Participants, 1)

		stale := got.Clone()

		got.Name = "renamed"
		require.NoError(t, store.Update(ctx, got))
		assert.Equal(t, int64(2), got.Version)

		stale.Name = "lost update"
		assert.ErrorIs(t, store.Update(ctx, stale), ErrVersionConflict)

		again, err := store.GetByID(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", again.Name)
	})

	t.Run("missing room", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		_, err := store.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrRoomNotFound)

		assert.ErrorIs(t, store.Delete(ctx, uuid.New()), ErrRoomNotFound)

		ghost := newTestRoom(t)
		ghost.Version = 1
		assert.ErrorIs(t, store.Update(ctx, ghost), ErrRoomNotFound)
	})

	t.Run("watch delivers snapshot changes and deletion", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store := newStore(t)
		room := newTestRoom(t)
		require.NoError(t, store.Create(ctx, room))

		sub, err := store.Watch(ctx, room.ID)
		require.NoError(t, err)
		defer sub.Close()

		first := next(t, sub)
		require.NotNil(t, first.Room)
		assert.Equal(t, room.Version, first.Room.Version)

		room.ChatDisabled = true
		require.NoError(t, store.Update(ctx, room))
		changed := next(t, sub)
		require.NotNil(t, changed.Room)
		assert.True(t, changed.Room.ChatDisabled)

		require.NoError(t, store.Delete(ctx, room.ID))
		gone := next(t, sub)
		assert.True(t, gone.Deleted)
	})

	t.Run("messages ordered and counted after marker", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		room := newTestRoom(t)
		require.NoError(t, store.Create(ctx, room))
		host := room.Participants[0]

		var ids []string
		for i := 0; i < 5; i++ {
			msg := domain.NewChatMessage(room.ID, host, "hi", base.Add(time.Duration(i)*time.Millisecond))
			require.NoError(t, store.AppendMessage(ctx, msg))
			ids = append(ids, msg.ID)
		}

		last3, err := store.ListMessages(ctx, room.ID, 3)
		require.NoError(t, err)
		require.Len(t, last3, 3)
		assert.Equal(t, ids[2], last3[0].ID)
		assert.Equal(t, ids[4], last3[2].ID)

		n, err := store.CountMessagesAfter(ctx, room.ID, "")
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		n, err = store.CountMessagesAfter(ctx, room.ID, ids[1])
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("private messages read once", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		room := newTestRoom(t)
		require.NoError(t, store.Create(ctx, room))
		sender := room.Participants[0]
		receiver := uuid.New()
		outsider := uuid.New()

		msg := domain.NewPrivateMessage(room.ID, sender, receiver, "psst", base)
		require.NoError(t, store.AppendPrivate(ctx, msg))

		inbox, err := store.ListPrivate(ctx, room.ID, receiver)
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.False(t, inbox[0].Read)

		none, err := store.ListPrivate(ctx, room.ID, outsider)
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = store.MarkPrivateRead(ctx, room.ID, msg.ID, sender.UserID)
		assert.ErrorIs(t, err, ErrMessageNotFound)

		changed, err := store.MarkPrivateRead(ctx, room.ID, msg.ID, receiver)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = store.MarkPrivateRead(ctx, room.ID, msg.ID, receiver)
		require.NoError(t, err)
		assert.False(t, changed)

		inbox, err = store.ListPrivate(ctx, room.ID, receiver)
		require.NoError(t, err)
		assert.True(t, inbox[0].Read)
	})

	t.Run("notes stream new events and prune", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store := newStore(t)
		room := newTestRoom(t)
		require.NoError(t, store.Create(ctx, room))

		early := &domain.NoteEvent{ID: domain.NewID(base), RoomID: room.ID, Note: "A3", Instrument: "piano", PublishedAt: base}
		require.NoError(t, store.AppendNote(ctx, early))

		sub, err := store.WatchNotes(ctx, room.ID)
		require.NoError(t, err)
		defer sub.Close()

		for i := 0; i < 10; i++ {
			at := base.Add(time.Duration(i+1) * time.Millisecond)
			ev := &domain.NoteEvent{ID: domain.NewID(at), RoomID: room.ID, Note: "C4", Instrument: "piano", PublishedAt: at}
			require.NoError(t, store.AppendNote(ctx, ev))
		}

		got := next(t, sub)
		assert.Equal(t, "C4", got.Note, "no backfill of events appended before subscribing")

		removed, err := store.PruneNotes(ctx, room.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, 7, removed)

		removed, err = store.PruneNotes(ctx, room.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})

	t.Run("delete cascades sub-collections", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		room := newTestRoom(t)
		require.NoError(t, store.Create(ctx, room))
		host := room.Participants[0]

		require.NoError(t, store.AppendMessage(ctx, domain.NewChatMessage(room.ID, host, "bye", base)))
		require.NoError(t, store.AppendPrivate(ctx, domain.NewPrivateMessage(room.ID, host, host.UserID, "note to self", base)))
		require.NoError(t, store.AppendNote(ctx, &domain.NoteEvent{ID: domain.NewID(base), RoomID: room.ID, Note: "E2", Instrument: "bass", PublishedAt: base}))

		require.NoError(t, store.Delete(ctx, room.ID))

		msgs, err := store.ListMessages(ctx, room.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		private, err := store.ListPrivate(ctx, room.ID, host.UserID)
		require.NoError(t, err)
		assert.Empty(t, private)

		removed, err := store.PruneNotes(ctx, room.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)

		rooms, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, rooms)

		assert.ErrorIs(t, store.AppendMessage(ctx, domain.NewChatMessage(room.ID, host, "late", base)), ErrRoomNotFound)
	})

	t.Run("appends to a deleted room leave nothing behind", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		room := newTestRoom(t)
		require.NoError(t, store.Create(ctx, room))
		host := room.Participants[0]
		require.NoError(t, store.Delete(ctx, room.ID))

		assert.ErrorIs(t, store.AppendMessage(ctx, domain.NewChatMessage(room.ID, host, "late", base)), ErrRoomNotFound)
		assert.ErrorIs(t, store.AppendPrivate(ctx, domain.NewPrivateMessage(room.ID, host, uuid.New(), "late", base)), ErrRoomNotFound)
		assert.ErrorIs(t, store.AppendNote(ctx, &domain.NoteEvent{ID: domain.NewID(base), RoomID: room.ID, Note: "C4", Instrument: "piano", PublishedAt: base}), ErrRoomNotFound)

		msgs, err := store.ListMessages(ctx, room.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		n, err := store.CountMessagesAfter(ctx, room.ID, "")
		require.NoError(t, err)
		assert.Zero(t, n)

		private, err := store.ListPrivate(ctx, room.ID, host.UserID)
		require.NoError(t, err)
		assert.Empty(t, private)

		removed, err := store.PruneNotes(ctx, room.ID, 0)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestInMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewInMemoryStore()
	})
}

func TestInMemoryUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryUserRepository()

	user := domain.NewUser("dana", "dana@example.com")
	require.NoError(t, repo.Create(ctx, user))
	assert.ErrorIs(t, repo.Create(ctx, domain.NewUser("other", "dana@example.com")), ErrUserEmailExists)

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "dana", got.Name)

	got.Name = "Dana"
	require.NoError(t, repo.Update(ctx, got))

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, repo.Update(ctx, domain.NewGuestUser("ghost")), ErrUserNotFound)
}
