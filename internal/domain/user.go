package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an authenticated profile. Participants copy the display name and
// avatar at join time.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatar,omitempty"`
	IsGuest   bool      `json:"is_guest"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newUser(name, email string, guest bool) *User {
	at := time.Now().UTC()
	return &User{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(name),
		Email:     email,
		IsGuest:   guest,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// NewGuestUser has no email and cannot be looked up by one.
func NewGuestUser(name string) *User {
	return newUser(name, "", true)
}

func NewUser(name string, email string) *User {
	return newUser(name, email, false)
}

// ProfileUpdate carries optional profile edits; nil fields are kept.
type ProfileUpdate struct {
	Name      *string
	AvatarURL *string
}

// Apply returns a copy of u with the update applied.
func (u User) Apply(p ProfileUpdate) *User {
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.AvatarURL != nil {
		u.AvatarURL = strings.TrimSpace(*p.AvatarURL)
	}
	return &u
}
