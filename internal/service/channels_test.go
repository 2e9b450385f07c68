package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(name string) domain.NoteEvent {
	return domain.NoteEvent{Note: name, Instrument: "piano", Volume: 0.8}
}

func TestChat_RateLimitsThirtyFirstSend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana := person("ana")
	room := h.createRoom(t, domain.RoomSpec{}, ana)

	for i := range 30 {
		_, err := h.svc.SendMessage(ctx, room.ID, ana.ID, fmt.Sprintf("take %d", i))
		require.NoError(t, err, "send %d", i+1)
		h.clock.Advance(time.Second)
	}

	_, err := h.svc.SendMessage(ctx, room.ID, ana.ID, "one more")
	assert.ErrorIs(t, err, ErrRateLimited)

	h.clock.Advance(31 * time.Second)
	_, err = h.svc.SendMessage(ctx, room.ID, ana.ID, "window moved")
	assert.NoError(t, err)
}

func TestChat_SendRoomMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{}, ana)
	h.join(t, room.ID, ben)
	before := h.room(t, room.ID).LastActivity

	h.clock.Advance(time.Minute)
	msg, err := h.svc.SendMessage(ctx, room.ID, ben.ID, "  hello there  ")
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, "ben", msg.SenderName)
	assert.NotEmpty(t, msg.ID)
	assert.True(t, h.room(t, room.ID).LastActivity.After(before), "chat stamps activity")

	_, err = h.svc.SendMessage(ctx, room.ID, uuid.New(), "who am i")
	assert.ErrorIs(t, err, ErrNotParticipant)

	for _, text := range []string{"", "   ", "aaaaaaaaaaaa", "visit https://spam.example"} {
		_, err = h.svc.SendMessage(ctx, room.ID, ben.ID, text)
		assert.ErrorIs(t, err, ErrInvalidInput, "text %q", text)
	}

	history, err := h.svc.History(ctx, room.ID, ana.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)

	_, err = h.svc.History(ctx, room.ID, uuid.New(), 0)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestChat_DisabledChatOnlyHostPosts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{ChatDisabled: true}, ana)
	h.join(t, room.ID, ben)

	_, err := h.svc.SendMessage(ctx, room.ID, ben.ID, "can I talk")
	assert.ErrorIs(t, err, ErrChatDisabled)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.svc.SendMessage(ctx, room.ID, ana.ID, "host speaking")
	assert.NoError(t, err)
}

func TestChat_PrivateMessagesAndUnread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{}, ana)
	h.join(t, room.ID, ben)

	_, err := h.svc.SendPrivateMessage(ctx, room.ID, ana.ID, uuid.New(), "anyone?")
	assert.ErrorIs(t, err, ErrRecipientNotFound)
	_, err = h.svc.SendPrivateMessage(ctx, room.ID, ana.ID, ana.ID, "talking to myself")
	assert.ErrorIs(t, err, ErrInvalidInput)

	first, err := h.svc.SendPrivateMessage(ctx, room.ID, ana.ID, ben.ID, "tune up")
	require.NoError(t, err)
	assert.False(t, first.Read)
	_, err = h.svc.SendPrivateMessage(ctx, room.ID, ana.ID, ben.ID, "we start at nine")
	require.NoError(t, err)

	n, err := h.svc.UnreadPrivateCount(ctx, room.ID, ben.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.svc.UnreadPrivateCount(ctx, room.ID, ana.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "sent messages are not unread for the sender")

	assert.ErrorIs(t, h.svc.MarkRead(ctx, room.ID, ana.ID, first.ID), ErrMessageNotFound)
	assert.ErrorIs(t, h.svc.MarkRead(ctx, room.ID, ben.ID, "missing"), ErrMessageNotFound)

	require.NoError(t, h.svc.MarkRead(ctx, room.ID, ben.ID, first.ID))
	require.NoError(t, h.svc.MarkRead(ctx, room.ID, ben.ID, first.ID), "marking twice succeeds")

	n, err = h.svc.UnreadPrivateCount(ctx, room.ID, ben.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	history, err := h.svc.PrivateHistory(ctx, room.ID, ana.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChat_WatchUnreadPrivate(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{}, ana)
	h.join(t, room.ID, ben)

	sub, err := h.svc.WatchUnreadPrivate(ctx, room.ID, ben.ID)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, 0, recv(t, sub))

	msg, err := h.svc.SendPrivateMessage(ctx, room.ID, ana.ID, ben.ID, "psst")
	require.NoError(t, err)
	assert.Equal(t, 1, recv(t, sub))

	require.NoError(t, h.svc.MarkRead(ctx, room.ID, ben.ID, msg.ID))
	assert.Equal(t, 0, recv(t, sub))
}

func TestChat_RoomUnreadMarker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{}, ana)
	h.join(t, room.ID, ben)

	require.NoError(t, h.svc.MarkAllRead(ctx, room.ID, ben.ID), "nothing to read yet")

	for i := range 3 {
		_, err := h.svc.SendMessage(ctx, room.ID, ana.ID, fmt.Sprintf("verse %d", i))
		require.NoError(t, err)
	}

	n, err := h.svc.RoomUnreadCount(ctx, room.ID, ben.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, h.svc.MarkAllRead(ctx, room.ID, ben.ID))
	n, err = h.svc.RoomUnreadCount(ctx, room.ID, ben.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.svc.SendMessage(ctx, room.ID, ana.ID, "chorus")
	require.NoError(t, err)
	n, err = h.svc.RoomUnreadCount(ctx, room.ID, ben.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.svc.RoomUnreadCount(ctx, room.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "markers are per viewer")
}

func TestChat_MarkAllReadSeesMessagesFromOtherWriters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana := person("ana")
	room := h.createRoom(t, domain.RoomSpec{}, ana)

	_, err := h.svc.SendMessage(ctx, room.ID, ana.ID, "from here")
	require.NoError(t, err)
	h.clock.Advance(time.Millisecond)

	// another instance sharing the store appends behind this one's back
	host := h.room(t, room.ID).Participants[0]
	require.NoError(t, h.store.AppendMessage(ctx, domain.NewChatMessage(room.ID, host, "from elsewhere", h.clock.Now())))

	require.NoError(t, h.svc.MarkAllRead(ctx, room.ID, ana.ID))
	n, err := h.svc.RoomUnreadCount(ctx, room.ID, ana.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChat_RejectedSendsDoNotSpendBudget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{ChatDisabled: true}, ana)
	h.join(t, room.ID, ben)

	for range 30 {
		_, err := h.svc.SendMessage(ctx, room.ID, ana.ID, "   ")
		require.ErrorIs(t, err, ErrInvalidInput)
		_, err = h.svc.SendMessage(ctx, room.ID, ana.ID, "see https://example.com")
		require.ErrorIs(t, err, ErrInvalidInput)
		_, err = h.svc.SendMessage(ctx, room.ID, ben.ID, "let me talk")
		require.ErrorIs(t, err, ErrChatDisabled)
		_, err = h.svc.SendPrivateMessage(ctx, room.ID, ben.ID, uuid.New(), "psst")
		require.ErrorIs(t, err, ErrRecipientNotFound)
	}

	_, err := h.svc.SendMessage(ctx, room.ID, ana.ID, "still have my budget")
	assert.NoError(t, err)
	_, err = h.svc.SendPrivateMessage(ctx, room.ID, ben.ID, ana.ID, "me too")
	assert.NoError(t, err)
}

func TestChat_WatchMessages(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ana := person("ana")
	room := h.createRoom(t, domain.RoomSpec{}, ana)

	sub, err := h.svc.WatchMessages(ctx, room.ID)
	require.NoError(t, err)
	defer sub.Close()

	sent, err := h.svc.SendMessage(ctx, room.ID, ana.ID, "live")
	require.NoError(t, err)
	got := recv(t, sub)
	assert.Equal(t, sent.ID, got.ID)
}

func TestNotes_DeliveredToOthersOnly(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{}, ana)
	h.join(t, room.ID, ben)

	anaSub, err := h.svc.SubscribeNotes(ctx, room.ID, ana.ID)
	require.NoError(t, err)
	defer anaSub.Close()
	benSub, err := h.svc.SubscribeNotes(ctx, room.ID, ben.ID)
	require.NoError(t, err)
	defer benSub.Close()

	published, err := h.svc.PublishNote(ctx, room.ID, ana.ID, note("C4"))
	require.NoError(t, err)
	assert.NotEmpty(t, published.ID)
	assert.Equal(t, h.clock.Now(), published.PublishedAt)
	assert.Equal(t, "ana", published.UserName)

	got := recv(t, benSub)
	assert.Equal(t, published.ID, got.ID)
	assert.Equal(t, "C4", got.Note)

	_, err = h.svc.PublishNote(ctx, room.ID, ben.ID, note("E4"))
	require.NoError(t, err)
	echo := recv(t, anaSub)
	assert.Equal(t, "E4", echo.Note, "ana never sees her own C4")
	expectSilence(t, benSub, 50*time.Millisecond)
}

func TestNotes_StaleEventsDropped(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{}, ana)
	h.join(t, room.ID, ben)

	sub, err := h.svc.SubscribeNotes(ctx, room.ID, ben.ID)
	require.NoError(t, err)
	defer sub.Close()

	at := h.clock.Now().Add(-domain.NoteStaleness)
	stale := &domain.NoteEvent{ID: domain.NewID(at), RoomID: room.ID, UserID: ana.ID, Note: "A2", Instrument: "bass", PublishedAt: at}
	require.NoError(t, h.store.AppendNote(ctx, stale))

	fresh, err := h.svc.PublishNote(ctx, room.ID, ana.ID, note("G4"))
	require.NoError(t, err)

	got := recv(t, sub)
	assert.Equal(t, fresh.ID, got.ID, "event exactly at the staleness window is dropped")
}

func TestNotes_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{}, ana)
	h.join(t, room.ID, ben)

	_, err := h.svc.PublishNote(ctx, room.ID, ana.ID, domain.NoteEvent{Instrument: "piano"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	loud := note("C4")
	loud.Volume = 2
	_, err = h.svc.PublishNote(ctx, room.ID, ana.ID, loud)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.PublishNote(ctx, room.ID, uuid.New(), note("C4"))
	assert.ErrorIs(t, err, ErrNotParticipant)

	require.NoError(t, h.svc.MuteParticipant(ctx, room.ID, ana.ID, ben.ID, true))
	_, err = h.svc.PublishNote(ctx, room.ID, ben.ID, note("C4"))
	assert.ErrorIs(t, err, ErrMuted)
}

func TestNotes_RateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana := person("ana")
	room := h.createRoom(t, domain.RoomSpec{}, ana)

	for i := range 100 {
		_, err := h.svc.PublishNote(ctx, room.ID, ana.ID, note("C4"))
		require.NoError(t, err, "note %d", i+1)
	}
	_, err := h.svc.PublishNote(ctx, room.ID, ana.ID, note("C4"))
	assert.ErrorIs(t, err, ErrRateLimited)

	h.clock.Advance(11 * time.Second)
	_, err = h.svc.PublishNote(ctx, room.ID, ana.ID, note("C4"))
	assert.NoError(t, err)
}

func TestNotes_RejectedEventsDoNotSpendBudget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, ben := person("ana"), person("ben")
	room := h.createRoom(t, domain.RoomSpec{}, ana)
	h.join(t, room.ID, ben)
	require.NoError(t, h.svc.MuteParticipant(ctx, room.ID, ana.ID, ben.ID, true))

	for range 100 {
		_, err := h.svc.PublishNote(ctx, room.ID, ben.ID, domain.NoteEvent{Instrument: "piano"})
		require.ErrorIs(t, err, ErrInvalidInput)
		_, err = h.svc.PublishNote(ctx, room.ID, ben.ID, note("C4"))
		require.ErrorIs(t, err, ErrMuted)
	}

	require.NoError(t, h.svc.MuteParticipant(ctx, room.ID, ana.ID, ben.ID, false))
	_, err := h.svc.PublishNote(ctx, room.ID, ben.ID, note("C4"))
	assert.NoError(t, err)
}

func TestNotes_CompactPrunesDirtyRooms(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.NoteRetention = 5 })
	ctx := context.Background()
	ana := person("ana")
	room := h.createRoom(t, domain.RoomSpec{}, ana)
	quiet := h.createRoom(t, domain.RoomSpec{Name: "quiet"}, person("ben"))

	for range 12 {
		_, err := h.svc.PublishNote(ctx, room.ID, ana.ID, note("D4"))
		require.NoError(t, err)
	}

	assert.Equal(t, 7, h.svc.notes.Compact(ctx))
	assert.Equal(t, 5, h.store.NoteCount(room.ID))
	assert.Zero(t, h.store.NoteCount(quiet.ID))

	assert.Zero(t, h.svc.notes.Compact(ctx), "nothing dirty on the second pass")
}
