package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomExists      = errors.New("room already exists")
	ErrVersionConflict = errors.New("room was modified concurrently")
	ErrMessageNotFound = errors.New("message not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserEmailExists = errors.New("user with email already exists")
)

// RoomRepository stores room documents. Update is a compare-and-swap on
// Room.Version: it fails with ErrVersionConflict when the stored version
// differs from the one passed in and bumps the version on success.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	// Delete removes the room together with its messages, private messages
	// and note events.
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*domain.Room, error)
	// Watch delivers the latest snapshot of the room after every change and
	// a deletion marker when it goes away.
	Watch(ctx context.Context, id uuid.UUID) (*feed.Subscription[domain.RoomEvent], error)
}

type MessageRepository interface {
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error
	// ListMessages returns up to limit most recent messages, oldest first.
	ListMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.ChatMessage, error)
	CountMessagesAfter(ctx context.Context, roomID uuid.UUID, afterID string) (int, error)
	WatchMessages(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.ChatMessage], error)

	AppendPrivate(ctx context.Context, msg *domain.PrivateMessage) error
	// ListPrivate returns every private message userID sent or received.
	ListPrivate(ctx context.Context, roomID uuid.UUID, userID uuid.UUID) ([]*domain.PrivateMessage, error)
	// MarkPrivateRead flips the read flag of a message addressed to
	// receiverID. It reports whether the flag changed.
	MarkPrivateRead(ctx context.Context, roomID uuid.UUID, messageID string, receiverID uuid.UUID) (bool, error)
	WatchPrivate(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.PrivateMessage], error)
}

type NoteRepository interface {
	AppendNote(ctx context.Context, ev *domain.NoteEvent) error
	// PruneNotes keeps the keep most recent events and returns how many
	// were removed.
	PruneNotes(ctx context.Context, roomID uuid.UUID, keep int) (int, error)
	// WatchNotes delivers only events appended after the call.
	WatchNotes(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.NoteEvent], error)
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

// Store is everything the room engine reads and writes.
type Store interface {
	RoomRepository
	MessageRepository
	NoteRepository
}

const (
	roomFeedBuffer    = 1
	messageFeedBuffer = 64
	noteFeedBuffer    = 256
)
