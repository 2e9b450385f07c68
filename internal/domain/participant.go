package domain

import (
	"time"

	"github.com/google/uuid"
)

const DefaultInstrument = "piano"

type ParticipantStatus string

const (
	StatusActive ParticipantStatus = "active"
	StatusIdle   ParticipantStatus = "idle"
)

// Participant is one admitted member of a room.
type Participant struct {
	UserID      uuid.UUID         `json:"id"`
	DisplayName string            `json:"name"`
	AvatarURL   string            `json:"avatar,omitempty"`
	Instrument  string            `json:"instrument"`
	IsHost      bool              `json:"is_host"`
	IsMuted     bool              `json:"is_muted"`
	Status      ParticipantStatus `json:"status"`
	JoinedAt    time.Time         `json:"joined_at"`
}

func NewParticipant(user *User, joinedAt time.Time) *Participant {
	return &Participant{
		UserID:      user.ID,
		DisplayName: user.Name,
		AvatarURL:   user.AvatarURL,
		Instrument:  DefaultInstrument,
		Status:      StatusActive,
		JoinedAt:    joinedAt,
	}
}
