package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
)

type RoomInteractor interface {
	CreateRoom(ctx context.Context, spec domain.RoomSpec, host *domain.User) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID, viewerID uuid.UUID) (domain.RoomView, error)
	ListRooms(ctx context.Context, viewerID uuid.UUID) ([]domain.RoomView, error)
	Observe(ctx context.Context, roomID, viewerID uuid.UUID) (*feed.Subscription[domain.RoomView], error)

	Join(ctx context.Context, roomID uuid.UUID, user *domain.User, code string) (JoinResult, error)
	ApproveJoin(ctx context.Context, roomID, hostID, userID uuid.UUID) error
	DenyJoin(ctx context.Context, roomID, hostID, userID uuid.UUID) error
	Leave(ctx context.Context, roomID, userID uuid.UUID) (LeaveResult, error)
	RemoveParticipant(ctx context.Context, roomID, hostID, targetID uuid.UUID) (LeaveResult, error)
	Close(ctx context.Context, roomID, requesterID uuid.UUID) error

	SwitchInstrument(ctx context.Context, roomID, userID uuid.UUID, instrument string) error
	SetStatus(ctx context.Context, roomID, userID uuid.UUID, status domain.ParticipantStatus) error
	MuteParticipant(ctx context.Context, roomID, hostID, targetID uuid.UUID, muted bool) error
	TransferHost(ctx context.Context, roomID, hostID, targetID uuid.UUID) error
	UpdateSettings(ctx context.Context, roomID, hostID uuid.UUID, settings RoomSettings) (*domain.Room, error)

	SendMessage(ctx context.Context, roomID, senderID uuid.UUID, text string) (*domain.ChatMessage, error)
	SendPrivateMessage(ctx context.Context, roomID, senderID, receiverID uuid.UUID, text string) (*domain.PrivateMessage, error)
	MarkRead(ctx context.Context, roomID, viewerID uuid.UUID, messageID string) error
	MarkAllRead(ctx context.Context, roomID, viewerID uuid.UUID) error
	UnreadPrivateCount(ctx context.Context, roomID, viewerID uuid.UUID) (int, error)
	RoomUnreadCount(ctx context.Context, roomID, viewerID uuid.UUID) (int, error)
	WatchUnreadPrivate(ctx context.Context, roomID, viewerID uuid.UUID) (*feed.Subscription[int], error)
	History(ctx context.Context, roomID, viewerID uuid.UUID, limit int) ([]*domain.ChatMessage, error)
	PrivateHistory(ctx context.Context, roomID, viewerID uuid.UUID) ([]*domain.PrivateMessage, error)
	WatchMessages(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.ChatMessage], error)

	PublishNote(ctx context.Context, roomID, userID uuid.UUID, ev domain.NoteEvent) (*domain.NoteEvent, error)
	SubscribeNotes(ctx context.Context, roomID, viewerID uuid.UUID) (*feed.Subscription[*domain.NoteEvent], error)

	RunCompactor(ctx context.Context, every time.Duration) error
}

type UserInteractor interface {
	CreateUser(ctx context.Context, name string, email string) (*domain.User, error)
	CreateGuest(ctx context.Context, name string) (*domain.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
}

var (
	_ RoomInteractor = (*RoomService)(nil)
	_ UserInteractor = (*UserService)(nil)
)
