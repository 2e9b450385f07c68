package model

import (
	"time"

	"github.com/google/uuid"
)

type Room struct {
	ID                 uuid.UUID     `gorm:"type:uuid;primaryKey"`
	Name               string        `gorm:"size:255;not null"`
	Description        string        `gorm:"size:1024"`
	Visibility         string        `gorm:"size:16;not null"`
	JoinCode           string        `gorm:"size:16"`
	Capacity           int           `gorm:"not null"`
	HostID             uuid.UUID     `gorm:"type:uuid;not null"`
	ChatDisabled       bool          `gorm:"not null"`
	AutoClose          bool          `gorm:"not null"`
	IdleTimeoutMinutes int           `gorm:"not null"`
	LastActivity       time.Time     `gorm:"not null"`
	CreatedAt          time.Time     `gorm:"not null;index"`
	Version            int64         `gorm:"not null"`
	Participants       []Participant `gorm:"constraint:OnDelete:CASCADE"`
	PendingRequests    []PendingJoin `gorm:"constraint:OnDelete:CASCADE"`

	// Sub-records reference the room so inserts racing a delete fail
	// instead of outliving it.
	Messages        []ChatMessage    `gorm:"constraint:OnDelete:CASCADE"`
	PrivateMessages []PrivateMessage `gorm:"constraint:OnDelete:CASCADE"`
	Notes           []NoteEvent      `gorm:"constraint:OnDelete:CASCADE"`
}

type Participant struct {
	RoomID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayName string    `gorm:"size:255;not null"`
	AvatarURL   string    `gorm:"size:1024"`
	Instrument  string    `gorm:"size:64;not null"`
	IsHost      bool      `gorm:"not null"`
	IsMuted     bool      `gorm:"not null"`
	Status      string    `gorm:"size:16;not null"`
	JoinedAt    time.Time `gorm:"not null"`
}

type PendingJoin struct {
	RoomID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Position  int       `gorm:"not null"`
	CreatedAt time.Time
}

type ChatMessage struct {
	ID           string    `gorm:"size:26;primaryKey"`
	RoomID       uuid.UUID `gorm:"type:uuid;index;not null"`
	SenderID     uuid.UUID `gorm:"type:uuid;not null"`
	SenderName   string    `gorm:"size:255;not null"`
	SenderAvatar string    `gorm:"size:1024"`
	Text         string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type PrivateMessage struct {
	ID         string    `gorm:"size:26;primaryKey"`
	RoomID     uuid.UUID `gorm:"type:uuid;index;not null"`
	SenderID   uuid.UUID `gorm:"type:uuid;index;not null"`
	SenderName string    `gorm:"size:255;not null"`
	ReceiverID uuid.UUID `gorm:"type:uuid;index;not null"`
	Text       string    `gorm:"type:text;not null"`
	Read       bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

type Effects struct {
	Reverb     float64
	Delay      float64
	Distortion float64
}

type NoteEvent struct {
	ID          string    `gorm:"size:26;primaryKey"`
	RoomID      uuid.UUID `gorm:"type:uuid;index;not null"`
	Note        string    `gorm:"size:16;not null"`
	Instrument  string    `gorm:"size:64;not null"`
	UserID      uuid.UUID `gorm:"type:uuid;not null"`
	UserName    string    `gorm:"size:255"`
	Volume      float64   `gorm:"not null"`
	Effects     Effects   `gorm:"embedded;embeddedPrefix:effect_"`
	PublishedAt time.Time `gorm:"not null"`
}

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"size:255;not null"`
	Email     *string   `gorm:"size:255;uniqueIndex:idx_users_email,where:email IS NOT NULL"`
	AvatarURL string    `gorm:"size:1024"`
	IsGuest   bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Room{},
		&Participant{},
		&PendingJoin{},
		&ChatMessage{},
		&PrivateMessage{},
		&NoteEvent{},
		&User{},
	}
}
