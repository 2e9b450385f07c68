package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/metrics"
	"github.com/immxrtalbeast/jamroom/internal/repository"
	"github.com/immxrtalbeast/jamroom/lib/logger/sl"
)

const maxMutationAttempts = 5

type mutation int

const (
	mutationNone mutation = iota
	mutationSave
	mutationDelete
)

// mutator runs read-modify-write cycles against the room document. Each
// attempt re-reads the latest state, so fn must be safe to run repeatedly.
type mutator struct {
	rooms repository.RoomRepository
	log   *slog.Logger
	now   func() time.Time
}

// mutate applies fn and persists its outcome with a version check. It
// returns the stored room, or nil when the room was deleted.
func (m *mutator) mutate(ctx context.Context, roomID uuid.UUID, fn func(room *domain.Room) (mutation, error)) (*domain.Room, error) {
	for attempt := 1; attempt <= maxMutationAttempts; attempt++ {
		room, err := m.rooms.GetByID(ctx, roomID)
		if err != nil {
			return nil, storeErr(err)
		}

		outcome, err := fn(room)
		if err != nil {
			return nil, err
		}

		switch outcome {
		case mutationNone:
			return room, nil

		case mutationDelete:
			if err := m.rooms.Delete(ctx, roomID); err != nil && !errors.Is(err, repository.ErrRoomNotFound) {
				return nil, storeErr(err)
			}
			return nil, nil

		case mutationSave:
			room.Touch(m.now())
			err := m.rooms.Update(ctx, room)
			if err == nil {
				return room, nil
			}
			if !errors.Is(err, repository.ErrVersionConflict) {
				return nil, storeErr(err)
			}
			metrics.StoreConflicts.Inc()
			m.log.Debug("room changed concurrently, retrying",
				slog.String("room_id", roomID.String()),
				slog.Int("attempt", attempt),
				sl.Err(err),
			)
		}
	}

	return nil, storeErr(repository.ErrVersionConflict)
}
