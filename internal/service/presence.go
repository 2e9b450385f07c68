package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/metrics"
	"github.com/immxrtalbeast/jamroom/internal/repository"
	"github.com/immxrtalbeast/jamroom/internal/validation"
)

type JoinResult string

const (
	JoinJoined        JoinResult = "joined"
	JoinRequested     JoinResult = "requested"
	JoinAlreadyMember JoinResult = "already_member"
)

// LeaveResult describes what a departure did to the room.
type LeaveResult struct {
	Left        bool
	RoomDeleted bool
	NewHostID   uuid.UUID
}

// PresenceTracker owns the participant list, the pending join requests and
// host migration.
type PresenceTracker struct {
	m     *mutator
	users repository.UserRepository
	log   *slog.Logger
	now   func() time.Time
}

func newPresenceTracker(m *mutator, users repository.UserRepository, log *slog.Logger) *PresenceTracker {
	return &PresenceTracker{m: m, users: users, log: log, now: m.now}
}

// Join admits user to a public room, or to a private one when code matches
// the stored join code. Without a code a private room only records a
// pending request.
func (p *PresenceTracker) Join(ctx context.Context, roomID uuid.UUID, user *domain.User, code string) (JoinResult, error) {
	var result JoinResult

	_, err := p.m.mutate(ctx, roomID, func(room *domain.Room) (mutation, error) {
		if room.HasParticipant(user.ID) {
			result = JoinAlreadyMember
			if room.RemovePending(user.ID) {
				return mutationSave, nil
			}
			return mutationNone, nil
		}

		if !room.IsPublic() {
			if code == "" {
				result = JoinRequested
				if room.AddPending(user.ID) {
					return mutationSave, nil
				}
				return mutationNone, nil
			}
			if !validation.JoinCode(code).OK() || subtle.ConstantTimeCompare([]byte(code), []byte(room.JoinCode)) != 1 {
				return mutationNone, ErrInvalidCode
			}
		}

		if room.IsFull() {
			return mutationNone, ErrRoomFull
		}

		room.AddParticipant(domain.NewParticipant(user, p.now()))
		result = JoinJoined
		return mutationSave, nil
	})
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, ErrInvalidCode):
			outcome = "invalid_code"
		case errors.Is(err, ErrRoomFull):
			outcome = "full"
		}
		metrics.Joins.WithLabelValues(outcome).Inc()
		return "", err
	}

	metrics.Joins.WithLabelValues(string(result)).Inc()
	return result, nil
}

// Approve admits a pending user. Only the host may call it.
func (p *PresenceTracker) Approve(ctx context.Context, roomID, hostID, userID uuid.UUID) error {
	user, err := p.lookupUser(ctx, userID)
	if err != nil {
		return err
	}

	_, err = p.m.mutate(ctx, roomID, func(room *domain.Room) (mutation, error) {
		if !room.IsHost(hostID) {
			return mutationNone, ErrNotHost
		}
		if !room.IsPending(userID) {
			return mutationNone, ErrNotPending
		}
		if room.IsFull() {
			return mutationNone, ErrRoomFull
		}
		room.AddParticipant(domain.NewParticipant(user, p.now()))
		return mutationSave, nil
	})
	if err == nil {
		metrics.Joins.WithLabelValues("approved").Inc()
	}
	return err
}

// Deny drops a pending request without admitting the user.
func (p *PresenceTracker) Deny(ctx context.Context, roomID, hostID, userID uuid.UUID) error {
	_, err := p.m.mutate(ctx, roomID, func(room *domain.Room) (mutation, error) {
		if !room.IsHost(hostID) {
			return mutationNone, ErrNotHost
		}
		if !room.RemovePending(userID) {
			return mutationNone, ErrNotPending
		}
		return mutationSave, nil
	})
	return err
}

// Leave removes userID from the room. When the host leaves the earliest
// joined remaining participant takes over; when nobody remains the room is
// deleted with everything it owns.
func (p *PresenceTracker) Leave(ctx context.Context, roomID, userID uuid.UUID) (LeaveResult, error) {
	return p.remove(ctx, roomID, userID, func(*domain.Room) error { return nil })
}

// Remove is Leave initiated by the host on behalf of another participant.
func (p *PresenceTracker) Remove(ctx context.Context, roomID, hostID, targetID uuid.UUID) (LeaveResult, error) {
	return p.remove(ctx, roomID, targetID, func(room *domain.Room) error {
		if !room.IsHost(hostID) {
			return ErrNotHost
		}
		return nil
	})
}

func (p *PresenceTracker) remove(ctx context.Context, roomID, userID uuid.UUID, authorize func(*domain.Room) error) (LeaveResult, error) {
	var res LeaveResult

	stored, err := p.m.mutate(ctx, roomID, func(room *domain.Room) (mutation, error) {
		res = LeaveResult{}
		if err := authorize(room); err != nil {
			return mutationNone, err
		}

		dropped := room.RemovePending(userID)
		if !room.RemoveParticipant(userID) {
			if dropped {
				return mutationSave, nil
			}
			return mutationNone, nil
		}

		res.Left = true
		if room.IsEmpty() {
			res.RoomDeleted = true
			return mutationDelete, nil
		}
		res.NewHostID = room.HostID
		return mutationSave, nil
	})
	if err != nil {
		return LeaveResult{}, err
	}

	if res.RoomDeleted {
		metrics.RoomsClosed.WithLabelValues("empty").Inc()
	}
	if stored != nil && res.Left {
		p.log.Debug("participant left",
			slog.String("room_id", roomID.String()),
			slog.String("user_id", userID.String()),
			slog.String("host_id", stored.HostID.String()),
		)
	}
	return res, nil
}

func (p *PresenceTracker) lookupUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := p.users.GetByID(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, storeErr(err)
	}
	return &domain.User{ID: userID, Name: "guest", IsGuest: true}, nil
}
