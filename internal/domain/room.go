package domain

import (
	"crypto/rand"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultCapacity    = 10
	DefaultIdleMinutes = 30
	JoinCodeLength     = 6
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Room is the shared record every client of a session converges on.
// Exactly one participant is host while the room exists, ParticipantIDs
// mirrors Participants and PendingIDs never overlaps it.
type Room struct {
	ID                 uuid.UUID      `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	Visibility         Visibility     `json:"visibility"`
	JoinCode           string         `json:"join_code,omitempty"`
	Capacity           int            `json:"max_participants"`
	HostID             uuid.UUID      `json:"host_id"`
	Participants       []*Participant `json:"participants"`
	ParticipantIDs     []uuid.UUID    `json:"participant_ids"`
	PendingIDs         []uuid.UUID    `json:"pending_requests"`
	ChatDisabled       bool           `json:"is_chat_disabled"`
	AutoClose          bool           `json:"auto_close_after_inactivity"`
	IdleTimeoutMinutes int            `json:"inactivity_timeout_minutes"`
	LastActivity       time.Time      `json:"last_activity"`
	CreatedAt          time.Time      `json:"created_at"`
	Version            int64          `json:"version"`
}

// RoomSpec holds the creator-supplied settings of a new room.
type RoomSpec struct {
	Name               string
	Description        string
	Visibility         Visibility
	Capacity           int
	ChatDisabled       bool
	AutoClose          bool
	IdleTimeoutMinutes int
}

// NewRoom builds a room whose only participant is the host.
func NewRoom(spec RoomSpec, host *Participant, now time.Time) (*Room, error) {
	visibility := spec.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	}
	capacity := spec.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	idle := spec.IdleTimeoutMinutes
	if idle <= 0 {
		idle = DefaultIdleMinutes
	}

	room := &Room{
		ID:                 uuid.New(),
		Name:               strings.TrimSpace(spec.Name),
		Description:        strings.TrimSpace(spec.Description),
		Visibility:         visibility,
		Capacity:           capacity,
		ChatDisabled:       spec.ChatDisabled,
		AutoClose:          spec.AutoClose,
		IdleTimeoutMinutes: idle,
		LastActivity:       now,
		CreatedAt:          now,
	}

	if visibility == VisibilityPrivate {
		code, err := GenerateJoinCode()
		if err != nil {
			return nil, err
		}
		room.JoinCode = code
	}

	host.IsHost = true
	if host.JoinedAt.IsZero() {
		host.JoinedAt = now
	}
	room.HostID = host.UserID
	room.Participants = []*Participant{host}
	room.reindex()

	return room, nil
}

// GenerateJoinCode returns JoinCodeLength random decimal digits.
func GenerateJoinCode() (string, error) {
	var b strings.Builder
	b.Grow(JoinCodeLength)
	for range JoinCodeLength {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func (r *Room) IsPublic() bool {
	return r.Visibility != VisibilityPrivate
}

func (r *Room) Participant(userID uuid.UUID) *Participant {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) HasParticipant(userID uuid.UUID) bool {
	return r.Participant(userID) != nil
}

// IsHost reports whether userID is the current host according to the record.
func (r *Room) IsHost(userID uuid.UUID) bool {
	p := r.Participant(userID)
	return p != nil && p.IsHost && r.HostID == userID
}

func (r *Room) Host() *Participant {
	for _, p := range r.Participants {
		if p.IsHost {
			return p
		}
	}
	return nil
}

func (r *Room) IsPending(userID uuid.UUID) bool {
	return slices.Contains(r.PendingIDs, userID)
}

func (r *Room) IsFull() bool {
	return len(r.Participants) >= r.Capacity
}

func (r *Room) IsEmpty() bool {
	return len(r.Participants) == 0
}

// AddParticipant appends p as a non-host member and drops any pending entry
// for the same user. It reports false when the user is already a member.
func (r *Room) AddParticipant(p *Participant) bool {
	r.RemovePending(p.UserID)
	if r.HasParticipant(p.UserID) {
		return false
	}
	p.IsHost = false
	r.Participants = append(r.Participants, p)
	r.reindex()
	return true
}

// RemoveParticipant drops the member and re-elects a host when needed.
// It reports false when the user was not a member.
func (r *Room) RemoveParticipant(userID uuid.UUID) bool {
	idx := slices.IndexFunc(r.Participants, func(p *Participant) bool {
		return p.UserID == userID
	})
	if idx < 0 {
		return false
	}
	r.Participants = slices.Delete(r.Participants, idx, idx+1)
	r.reindex()
	if r.HostID == userID || r.Host() == nil {
		r.ElectHost()
	}
	return true
}

func (r *Room) AddPending(userID uuid.UUID) bool {
	if r.IsPending(userID) || r.HasParticipant(userID) {
		return false
	}
	r.PendingIDs = append(r.PendingIDs, userID)
	return true
}

func (r *Room) RemovePending(userID uuid.UUID) bool {
	idx := slices.Index(r.PendingIDs, userID)
	if idx < 0 {
		return false
	}
	r.PendingIDs = slices.Delete(r.PendingIDs, idx, idx+1)
	return true
}

// ElectHost promotes the earliest-joined participant (ties broken by id)
// and clears the host flag on everybody else.
func (r *Room) ElectHost() *Participant {
	if len(r.Participants) == 0 {
		r.HostID = uuid.Nil
		return nil
	}
	next := slices.MinFunc(r.Participants, func(a, b *Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserID.String(), b.UserID.String())
	})
	r.setHost(next.UserID)
	return next
}

// TransferHost hands host authority to an existing member.
func (r *Room) TransferHost(userID uuid.UUID) bool {
	if !r.HasParticipant(userID) {
		return false
	}
	r.setHost(userID)
	return true
}

func (r *Room) setHost(userID uuid.UUID) {
	for _, p := range r.Participants {
		p.IsHost = p.UserID == userID
	}
	r.HostID = userID
}

// IdleFor returns how long the room has gone without a stamped activity.
func (r *Room) IdleFor(now time.Time) time.Duration {
	return now.Sub(r.LastActivity)
}

// ShouldAutoClose reports whether the inactivity rule deletes the room at now.
func (r *Room) ShouldAutoClose(now time.Time) bool {
	if !r.AutoClose {
		return false
	}
	if r.IsEmpty() {
		return true
	}
	timeout := time.Duration(r.IdleTimeoutMinutes) * time.Minute
	return r.IdleFor(now) > timeout
}

func (r *Room) Touch(now time.Time) {
	r.LastActivity = now
}

func (r *Room) reindex() {
	ids := make([]uuid.UUID, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.UserID)
	}
	r.ParticipantIDs = ids
}

// Clone returns a deep copy safe to mutate independently.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Participants = make([]*Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		pc := *p
		cp.Participants = append(cp.Participants, &pc)
	}
	cp.ParticipantIDs = slices.Clone(r.ParticipantIDs)
	cp.PendingIDs = slices.Clone(r.PendingIDs)
	return &cp
}

// SortedParticipants returns the members ordered by join time, then id.
func (r *Room) SortedParticipants() []*Participant {
	out := slices.Clone(r.Participants)
	slices.SortStableFunc(out, func(a, b *Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserID.String(), b.UserID.String())
	})
	return out
}
