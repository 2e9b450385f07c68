package domain

import (
	"time"

	"github.com/google/uuid"
)

const NoteStaleness = 5 * time.Second

type Effects struct {
	Reverb     float64 `json:"reverb" validate:"gte=0,lte=1"`
	Delay      float64 `json:"delay" validate:"gte=0,lte=1"`
	Distortion float64 `json:"distortion" validate:"gte=0,lte=1"`
}

// NoteEvent is one "note played" broadcast. It only matters while younger
// than the staleness window.
type NoteEvent struct {
	ID          string    `json:"id"`
	RoomID      uuid.UUID `json:"room_id"`
	Note        string    `json:"note" validate:"required,max=8"`
	Instrument  string    `json:"instrument" validate:"required,max=32"`
	UserID      uuid.UUID `json:"user_id"`
	UserName    string    `json:"user_name"`
	Volume      float64   `json:"volume" validate:"gte=0,lte=1"`
	Effects     Effects   `json:"effects"`
	PublishedAt time.Time `json:"published_at"`
}

func (e *NoteEvent) Age(now time.Time) time.Duration {
	return now.Sub(e.PublishedAt)
}

// IsStale reports whether the event reached the staleness window at now.
func (e *NoteEvent) IsStale(now time.Time, window time.Duration) bool {
	return e.Age(now) >= window
}
