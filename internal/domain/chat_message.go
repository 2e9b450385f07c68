package domain

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID string; ids minted later sort after earlier ones.
func NewID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at.UTC()), entropy).String()
}

type ChatMessage struct {
	ID           string    `json:"id"`
	RoomID       uuid.UUID `json:"room_id"`
	SenderID     uuid.UUID `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	SenderAvatar string    `json:"sender_avatar,omitempty"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewChatMessage(roomID uuid.UUID, sender *Participant, text string, now time.Time) *ChatMessage {
	msg := &ChatMessage{
		ID:        NewID(now),
		RoomID:    roomID,
		Text:      text,
		CreatedAt: now,
	}
	if sender != nil {
		msg.SenderID = sender.UserID
		msg.SenderName = sender.DisplayName
		msg.SenderAvatar = sender.AvatarURL
	}
	return msg
}

// PrivateMessage is a direct message between two members of one room.
type PrivateMessage struct {
	ID         string    `json:"id"`
	RoomID     uuid.UUID `json:"room_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Text       string    `json:"text"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewPrivateMessage(roomID uuid.UUID, sender *Participant, receiverID uuid.UUID, text string, now time.Time) *PrivateMessage {
	msg := &PrivateMessage{
		ID:         NewID(now),
		RoomID:     roomID,
		ReceiverID: receiverID,
		Text:       text,
		CreatedAt:  now,
	}
	if sender != nil {
		msg.SenderID = sender.UserID
		msg.SenderName = sender.DisplayName
	}
	return msg
}

// Involves reports whether userID is either end of the conversation.
func (m *PrivateMessage) Involves(userID uuid.UUID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}
