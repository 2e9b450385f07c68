package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
	"github.com/immxrtalbeast/jamroom/internal/metrics"
	"github.com/immxrtalbeast/jamroom/internal/ratelimit"
	"github.com/immxrtalbeast/jamroom/internal/repository"
	"github.com/immxrtalbeast/jamroom/internal/validation"
	"github.com/immxrtalbeast/jamroom/lib/logger/sl"
)

const noteSubscriptionBuffer = 64

// NoteChannel broadcasts short-lived "note played" events inside a room.
// Delivery is at-most-once: a subscriber only sees events appended while it
// is subscribed and never its own.
type NoteChannel struct {
	store     repository.Store
	limiter   *ratelimit.Limiter
	budget    ratelimit.Budget
	staleness time.Duration
	retention int
	log       *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	dirty map[uuid.UUID]struct{}
}

func newNoteChannel(store repository.Store, limiter *ratelimit.Limiter, opts Options, log *slog.Logger) *NoteChannel {
	return &NoteChannel{
		store:     store,
		limiter:   limiter,
		budget:    opts.NoteBudget,
		staleness: opts.NoteStaleness,
		retention: opts.NoteRetention,
		log:       log,
		now:       opts.Now,
		dirty:     make(map[uuid.UUID]struct{}),
	}
}

// Publish stamps ev with a fresh id and the publisher clock and appends it
// to the room's note log.
func (c *NoteChannel) Publish(ctx context.Context, roomID, userID uuid.UUID, ev domain.NoteEvent) (*domain.NoteEvent, error) {
	if err := invalid(ErrInvalidInput, validation.NoteEvent(&ev)); err != nil {
		return nil, err
	}

	room, err := c.store.GetByID(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}
	sender := room.Participant(userID)
	if sender == nil {
		return nil, ErrNotParticipant
	}
	if sender.IsMuted {
		return nil, ErrMuted
	}
	// Only events that would be stored count against the budget.
	if !c.limiter.AllowBudget(ratelimit.KindNote, userID, c.budget) {
		metrics.RateLimitHits.WithLabelValues(string(ratelimit.KindNote)).Inc()
		return nil, ErrRateLimited
	}

	now := c.now()
	ev.ID = domain.NewID(now)
	ev.RoomID = roomID
	ev.UserID = userID
	ev.UserName = sender.DisplayName
	ev.PublishedAt = now

	if err := c.store.AppendNote(ctx, &ev); err != nil {
		return nil, storeErr(err)
	}

	c.mu.Lock()
	c.dirty[roomID] = struct{}{}
	c.mu.Unlock()

	metrics.NotesPublished.Inc()
	return &ev, nil
}

// Subscribe streams events appended from now on, minus the viewer's own and
// any that reach the staleness window before they are handed over.
func (c *NoteChannel) Subscribe(ctx context.Context, roomID, viewerID uuid.UUID) (*feed.Subscription[*domain.NoteEvent], error) {
	src, err := c.store.WatchNotes(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}

	return feed.Relay(src, noteSubscriptionBuffer, feed.DropNewest, func(ev *domain.NoteEvent) (*domain.NoteEvent, bool) {
		if ev.UserID == viewerID {
			return nil, false
		}
		if ev.IsStale(c.now(), c.staleness) {
			metrics.NotesDropped.WithLabelValues("stale").Inc()
			return nil, false
		}
		return ev, true
	}), nil
}

// Compact prunes the note log of every room that received events since the
// previous pass down to the retention size.
func (c *NoteChannel) Compact(ctx context.Context) int {
	const op = "service.notes.compact"
	log := c.log.With(slog.String("op", op))

	c.mu.Lock()
	rooms := c.dirty
	c.dirty = make(map[uuid.UUID]struct{})
	c.mu.Unlock()

	total := 0
	for roomID := range rooms {
		removed, err := c.store.PruneNotes(ctx, roomID, c.retention)
		if err != nil {
			log.Warn("failed to prune notes", slog.String("room_id", roomID.String()), sl.Err(err))
			c.mu.Lock()
			c.dirty[roomID] = struct{}{}
			c.mu.Unlock()
			continue
		}
		total += removed
	}

	if total > 0 {
		metrics.NotesPruned.Add(float64(total))
		log.Debug("notes pruned", slog.Int("removed", total), slog.Int("rooms", len(rooms)))
	}
	return total
}

// RunCompactor calls Compact every interval until ctx is done.
func (c *NoteChannel) RunCompactor(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Compact(ctx)
		}
	}
}

// Forget drops bookkeeping for a deleted room.
func (c *NoteChannel) Forget(roomID uuid.UUID) {
	c.mu.Lock()
	delete(c.dirty, roomID)
	c.mu.Unlock()
}
