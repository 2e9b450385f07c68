package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
	"github.com/immxrtalbeast/jamroom/internal/metrics"
	"github.com/immxrtalbeast/jamroom/internal/ratelimit"
	"github.com/immxrtalbeast/jamroom/internal/repository"
	"github.com/immxrtalbeast/jamroom/internal/validation"
)

const (
	defaultHistoryLimit   = 100
	messageStreamBuffer   = 64
	unreadCountBufferSize = 1
)

type markerKey struct {
	room   uuid.UUID
	viewer uuid.UUID
}

// ChatChannel handles room chat, private messages and unread bookkeeping.
// Room-wide read state is a per-viewer last-seen marker kept in memory.
type ChatChannel struct {
	store   repository.Store
	limiter *ratelimit.Limiter
	budget  ratelimit.Budget
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	markers map[markerKey]string
}

func newChatChannel(store repository.Store, limiter *ratelimit.Limiter, opts Options, log *slog.Logger) *ChatChannel {
	return &ChatChannel{
		store:   store,
		limiter: limiter,
		budget:  opts.ChatBudget,
		log:     log,
		now:     opts.Now,
		markers: make(map[markerKey]string),
	}
}

func cleanText(text string) (string, error) {
	if err := invalid(ErrInvalidInput, validation.ChatText(text)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// spend charges one message to the sender once it has passed every other
// check.
func (c *ChatChannel) spend(userID uuid.UUID) error {
	if !c.limiter.AllowBudget(ratelimit.KindChat, userID, c.budget) {
		metrics.RateLimitHits.WithLabelValues(string(ratelimit.KindChat)).Inc()
		return ErrRateLimited
	}
	return nil
}

// SendRoomMessage appends text to the room chat. When chat is disabled only
// the host may post.
func (c *ChatChannel) SendRoomMessage(ctx context.Context, roomID, senderID uuid.UUID, text string) (*domain.ChatMessage, error) {
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}

	room, err := c.store.GetByID(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}
	sender := room.Participant(senderID)
	if sender == nil {
		return nil, ErrNotParticipant
	}
	if room.ChatDisabled && !room.IsHost(senderID) {
		return nil, ErrChatDisabled
	}
	if err := c.spend(senderID); err != nil {
		return nil, err
	}

	msg := domain.NewChatMessage(roomID, sender, text, c.now())
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		return nil, storeErr(err)
	}
	metrics.MessagesSent.WithLabelValues("room").Inc()
	return msg, nil
}

func (c *ChatChannel) SendPrivateMessage(ctx context.Context, roomID, senderID, receiverID uuid.UUID, text string) (*domain.PrivateMessage, error) {
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}
	if senderID == receiverID {
		return nil, invalidf("cannot send a private message to yourself")
	}

	room, err := c.store.GetByID(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}
	sender := room.Participant(senderID)
	if sender == nil {
		return nil, ErrNotParticipant
	}
	if !room.HasParticipant(receiverID) {
		return nil, ErrRecipientNotFound
	}
	if err := c.spend(senderID); err != nil {
		return nil, err
	}

	msg := domain.NewPrivateMessage(roomID, sender, receiverID, text, c.now())
	if err := c.store.AppendPrivate(ctx, msg); err != nil {
		return nil, storeErr(err)
	}

	metrics.MessagesSent.WithLabelValues("private").Inc()
	return msg, nil
}

// MarkRead flips the read flag of a private message addressed to viewerID.
// Marking an already read message succeeds.
func (c *ChatChannel) MarkRead(ctx context.Context, roomID, viewerID uuid.UUID, messageID string) error {
	if messageID == "" {
		return invalidf("message id is required")
	}
	_, err := c.store.MarkPrivateRead(ctx, roomID, messageID, viewerID)
	return storeErr(err)
}

// UnreadPrivateCount counts private messages addressed to viewerID that are
// still unread. It is recomputed from the log on every call.
func (c *ChatChannel) UnreadPrivateCount(ctx context.Context, roomID, viewerID uuid.UUID) (int, error) {
	msgs, err := c.store.ListPrivate(ctx, roomID, viewerID)
	if err != nil {
		return 0, storeErr(err)
	}

	unread := 0
	for _, m := range msgs {
		if m.ReceiverID == viewerID && !m.Read {
			unread++
		}
	}
	return unread, nil
}

// WatchUnreadPrivate emits the current unread count, then a fresh count
// after every change to the viewer's private messages.
func (c *ChatChannel) WatchUnreadPrivate(ctx context.Context, roomID, viewerID uuid.UUID) (*feed.Subscription[int], error) {
	src, err := c.store.WatchPrivate(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}

	out := feed.Relay(src, unreadCountBufferSize, feed.KeepLatest, func(m *domain.PrivateMessage) (int, bool) {
		if !m.Involves(viewerID) {
			return 0, false
		}
		n, err := c.UnreadPrivateCount(ctx, roomID, viewerID)
		if err != nil {
			return 0, false
		}
		return n, true
	})

	// Prime the relay so the first count is computed on the same path as
	// every later one.
	src.Send(&domain.PrivateMessage{RoomID: roomID, ReceiverID: viewerID})
	return out, nil
}

func (c *ChatChannel) History(ctx context.Context, roomID, viewerID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	if err := c.requireMember(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	msgs, err := c.store.ListMessages(ctx, roomID, limit)
	return msgs, storeErr(err)
}

func (c *ChatChannel) PrivateHistory(ctx context.Context, roomID, viewerID uuid.UUID) ([]*domain.PrivateMessage, error) {
	if err := c.requireMember(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := c.store.ListPrivate(ctx, roomID, viewerID)
	return msgs, storeErr(err)
}

// WatchMessages streams room chat messages appended from now on.
func (c *ChatChannel) WatchMessages(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.ChatMessage], error) {
	src, err := c.store.WatchMessages(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}
	return feed.Relay(src, messageStreamBuffer, feed.DropNewest, func(m *domain.ChatMessage) (*domain.ChatMessage, bool) {
		return m, true
	}), nil
}

// RoomUnreadCount counts room messages newer than the viewer's marker.
func (c *ChatChannel) RoomUnreadCount(ctx context.Context, roomID, viewerID uuid.UUID) (int, error) {
	c.mu.Lock()
	marker := c.markers[markerKey{room: roomID, viewer: viewerID}]
	c.mu.Unlock()

	n, err := c.store.CountMessagesAfter(ctx, roomID, marker)
	return n, storeErr(err)
}

// MarkAllRead advances the viewer's marker to the newest stored message.
// The store is read every time since other instances append to it too.
// Nothing is written.
func (c *ChatChannel) MarkAllRead(ctx context.Context, roomID, viewerID uuid.UUID) error {
	msgs, err := c.store.ListMessages(ctx, roomID, 1)
	if err != nil {
		return storeErr(err)
	}
	if len(msgs) == 0 {
		return nil
	}
	newest := msgs[len(msgs)-1].ID

	c.mu.Lock()
	key := markerKey{room: roomID, viewer: viewerID}
	if newest > c.markers[key] {
		c.markers[key] = newest
	}
	c.mu.Unlock()
	return nil
}

// Forget drops markers for a deleted room.
func (c *ChatChannel) Forget(roomID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.markers {
		if k.room == roomID {
			delete(c.markers, k)
		}
	}
}

func (c *ChatChannel) requireMember(ctx context.Context, roomID, userID uuid.UUID) error {
	room, err := c.store.GetByID(ctx, roomID)
	if err != nil {
		return storeErr(err)
	}
	if !room.HasParticipant(userID) {
		return ErrNotParticipant
	}
	return nil
}
