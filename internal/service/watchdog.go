package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/metrics"
	"github.com/immxrtalbeast/jamroom/internal/repository"
	"github.com/immxrtalbeast/jamroom/lib/logger/sl"
)

type CheckResult int

const (
	CheckContinue CheckResult = iota
	CheckClosed
	CheckStop
)

// Watchdog deletes rooms that opted into auto-close once they have been idle
// past their timeout. It runs on behalf of the host's observer.
type Watchdog struct {
	rooms    repository.RoomRepository
	log      *slog.Logger
	now      func() time.Time
	interval time.Duration
}

func newWatchdog(rooms repository.RoomRepository, log *slog.Logger, now func() time.Time, interval time.Duration) *Watchdog {
	return &Watchdog{rooms: rooms, log: log, now: now, interval: interval}
}

// Check runs one inactivity pass for roomID as seen by hostID.
func (w *Watchdog) Check(ctx context.Context, roomID, hostID uuid.UUID) CheckResult {
	const op = "service.watchdog.check"
	log := w.log.With(slog.String("op", op), slog.String("room_id", roomID.String()))

	room, err := w.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return CheckStop
		}
		log.Warn("failed to load room", sl.Err(err))
		return CheckContinue
	}
	if !room.IsHost(hostID) {
		return CheckStop
	}
	if !room.ShouldAutoClose(w.now()) {
		return CheckContinue
	}

	if err := w.rooms.Delete(ctx, roomID); err != nil && !errors.Is(err, repository.ErrRoomNotFound) {
		log.Error("failed to close idle room", sl.Err(err))
		return CheckContinue
	}

	metrics.RoomsClosed.WithLabelValues("idle").Inc()
	log.Info("idle room closed", slog.Duration("idle", room.IdleFor(w.now())))
	return CheckClosed
}

// Arm checks roomID right away and then on every interval until the room is
// closed, hostID stops being host, ctx ends or disarm is called. done is
// closed once the loop has exited. onClose runs after the watchdog deleted
// the room.
func (w *Watchdog) Arm(ctx context.Context, roomID, hostID uuid.UUID, onClose func()) (disarm func(), done <-chan struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	disarm = func() { once.Do(cancel) }
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer disarm()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			switch w.Check(ctx, roomID, hostID) {
			case CheckClosed:
				if onClose != nil {
					onClose()
				}
				return
			case CheckStop:
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return disarm, exited
}
