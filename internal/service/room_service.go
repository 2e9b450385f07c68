package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
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

const (
	DefaultWatchdogInterval = 30 * time.Second
	DefaultNoteRetention    = 50
	DefaultCompactInterval  = 10 * time.Second

	viewBuffer = 1
)

// Options tunes a RoomService. Zero values fall back to the defaults.
type Options struct {
	DefaultCapacity  int
	WatchdogInterval time.Duration
	NoteStaleness    time.Duration
	NoteRetention    int
	ChatBudget       ratelimit.Budget
	NoteBudget       ratelimit.Budget
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.DefaultCapacity <= 0 {
		o.DefaultCapacity = domain.DefaultCapacity
	}
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = DefaultWatchdogInterval
	}
	if o.NoteStaleness <= 0 {
		o.NoteStaleness = domain.NoteStaleness
	}
	if o.NoteRetention <= 0 {
		o.NoteRetention = DefaultNoteRetention
	}
	if o.ChatBudget.Max <= 0 || o.ChatBudget.Window <= 0 {
		o.ChatBudget = ratelimit.ChatBudget
	}
	if o.NoteBudget.Max <= 0 || o.NoteBudget.Window <= 0 {
		o.NoteBudget = ratelimit.NoteBudget
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// RoomSettings is a partial update of host-controlled settings. Nil fields
// are left untouched.
type RoomSettings struct {
	Name               *string
	Description        *string
	Visibility         *domain.Visibility
	Capacity           *int
	ChatDisabled       *bool
	AutoClose          *bool
	IdleTimeoutMinutes *int
}

// RoomService is the single entry point for room state. Every write goes
// through a version-checked read-modify-write cycle on the stored document.
type RoomService struct {
	store    repository.Store
	users    repository.UserRepository
	log      *slog.Logger
	opts     Options
	mutator  *mutator
	presence *PresenceTracker
	chat     *ChatChannel
	notes    *NoteChannel
	watchdog *Watchdog
}

func NewRoomService(store repository.Store, users repository.UserRepository, limiter *ratelimit.Limiter, log *slog.Logger, opts Options) *RoomService {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.WithClock(opts.Now))
	}

	m := &mutator{rooms: store, log: log, now: opts.Now}
	return &RoomService{
		store:    store,
		users:    users,
		log:      log,
		opts:     opts,
		mutator:  m,
		presence: newPresenceTracker(m, users, log),
		chat:     newChatChannel(store, limiter, opts, log),
		notes:    newNoteChannel(store, limiter, opts, log),
		watchdog: newWatchdog(store, log, opts.Now, opts.WatchdogInterval),
	}
}

// CreateRoom stores a new room with host as its only participant.
func (s *RoomService) CreateRoom(ctx context.Context, spec domain.RoomSpec, host *domain.User) (*domain.Room, error) {
	const op = "service.room.create"
	log := s.log.With(slog.String("op", op))

	if host == nil || host.ID == uuid.Nil {
		return nil, invalidf("host is required")
	}
	res := validation.RoomSpec(spec)
	if r := validation.DisplayName(host.Name); !r.OK() {
		res.Reasons = append(res.Reasons, r.Reasons...)
	}
	if err := invalid(ErrInvalidSpec, res); err != nil {
		log.Info("rejected room spec", slog.Any("reasons", res.Reasons))
		return nil, err
	}
	if spec.Capacity == 0 {
		spec.Capacity = s.opts.DefaultCapacity
	}
	if err := s.ensureUser(ctx, host); err != nil {
		return nil, err
	}

	now := s.opts.Now()
	room, err := domain.NewRoom(spec, domain.NewParticipant(host, now), now)
	if err != nil {
		log.Error("failed to build room", sl.Err(err))
		return nil, err
	}
	if err := s.store.Create(ctx, room); err != nil {
		log.Error("failed to store room", sl.Err(err))
		return nil, storeErr(err)
	}

	metrics.RoomsCreated.Inc()
	log.Info("room created",
		slog.String("room_id", room.ID.String()),
		slog.String("host_id", host.ID.String()),
		slog.String("visibility", string(room.Visibility)),
	)
	return room, nil
}

// GetRoom returns a one-shot view of the room as seen by viewerID.
func (s *RoomService) GetRoom(ctx context.Context, roomID, viewerID uuid.UUID) (domain.RoomView, error) {
	room, err := s.store.GetByID(ctx, roomID)
	if err != nil {
		return domain.RoomView{}, storeErr(err)
	}
	return domain.NewRoomView(roomID, room, viewerID), nil
}

// ListRooms returns views of every public room, newest first.
func (s *RoomService) ListRooms(ctx context.Context, viewerID uuid.UUID) ([]domain.RoomView, error) {
	rooms, err := s.store.List(ctx)
	if err != nil {
		return nil, storeErr(err)
	}

	views := make([]domain.RoomView, 0, len(rooms))
	for _, room := range rooms {
		if !room.IsPublic() {
			continue
		}
		views = append(views, domain.NewRoomView(room.ID, room, viewerID))
	}
	return views, nil
}

// Observe streams views of roomID for viewerID, latest first. While the
// viewer is host the inactivity watchdog runs for the room; it stops when the
// subscription closes or host status moves elsewhere.
func (s *RoomService) Observe(ctx context.Context, roomID, viewerID uuid.UUID) (*feed.Subscription[domain.RoomView], error) {
	src, err := s.store.Watch(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}

	var (
		mu          sync.Mutex
		lastVersion int64
		disarm      func()
		armed       <-chan struct{}
		stopped     bool
	)
	stopWatchdog := func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if disarm != nil {
			disarm()
			disarm, armed = nil, nil
		}
	}

	out := feed.Relay(src, viewBuffer, feed.KeepLatest, func(ev domain.RoomEvent) (domain.RoomView, bool) {
		if ev.Deleted || ev.Room == nil {
			stopWatchdog()
			s.forget(roomID)
			return domain.NewRoomView(roomID, nil, viewerID), true
		}

		mu.Lock()
		defer mu.Unlock()

		// Redis can hand over a pub/sub update older than the snapshot read
		// at subscribe time.
		if ev.Room.Version <= lastVersion {
			return domain.RoomView{}, false
		}
		lastVersion = ev.Room.Version

		view := domain.NewRoomView(roomID, ev.Room, viewerID)
		switch {
		case stopped:
		case view.IsHost && (disarm == nil || isClosed(armed)):
			disarm, armed = s.watchdog.Arm(ctx, roomID, viewerID, nil)
		case !view.IsHost && disarm != nil:
			disarm()
			disarm, armed = nil, nil
		}
		return view, true
	})

	metrics.ActiveObservers.Inc()
	out.OnClose(func() {
		stopWatchdog()
		metrics.ActiveObservers.Dec()
	})
	return out, nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Join admits user into roomID, or files a join request for private rooms
// entered without a code.
func (s *RoomService) Join(ctx context.Context, roomID uuid.UUID, user *domain.User, code string) (JoinResult, error) {
	if user == nil || user.ID == uuid.Nil {
		return "", invalidf("user is required")
	}
	if err := invalid(ErrInvalidInput, validation.DisplayName(user.Name)); err != nil {
		return "", err
	}
	if err := s.ensureUser(ctx, user); err != nil {
		return "", err
	}

	result, err := s.presence.Join(ctx, roomID, user, code)
	if err != nil {
		return "", err
	}
	s.log.Debug("join handled",
		slog.String("room_id", roomID.String()),
		slog.String("user_id", user.ID.String()),
		slog.String("result", string(result)),
	)
	return result, nil
}

func (s *RoomService) ApproveJoin(ctx context.Context, roomID, hostID, userID uuid.UUID) error {
	return s.presence.Approve(ctx, roomID, hostID, userID)
}

func (s *RoomService) DenyJoin(ctx context.Context, roomID, hostID, userID uuid.UUID) error {
	return s.presence.Deny(ctx, roomID, hostID, userID)
}

// Leave removes userID from the room. Leaving a room that no longer exists
// succeeds.
func (s *RoomService) Leave(ctx context.Context, roomID, userID uuid.UUID) (LeaveResult, error) {
	res, err := s.presence.Leave(ctx, roomID, userID)
	if errors.Is(err, ErrRoomNotFound) {
		return LeaveResult{}, nil
	}
	if err != nil {
		return LeaveResult{}, err
	}
	if res.RoomDeleted {
		s.forget(roomID)
		s.log.Info("last participant left, room deleted", slog.String("room_id", roomID.String()))
	}
	return res, nil
}

func (s *RoomService) RemoveParticipant(ctx context.Context, roomID, hostID, targetID uuid.UUID) (LeaveResult, error) {
	res, err := s.presence.Remove(ctx, roomID, hostID, targetID)
	if err != nil {
		return LeaveResult{}, err
	}
	if res.RoomDeleted {
		s.forget(roomID)
	}
	return res, nil
}

// Close deletes the room on behalf of its host.
func (s *RoomService) Close(ctx context.Context, roomID, requesterID uuid.UUID) error {
	const op = "service.room.close"
	log := s.log.With(slog.String("op", op), slog.String("room_id", roomID.String()))

	room, err := s.store.GetByID(ctx, roomID)
	if err != nil {
		return storeErr(err)
	}
	if !room.IsHost(requesterID) {
		return ErrNotHost
	}

	if err := s.store.Delete(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil
		}
		log.Error("failed to delete room", sl.Err(err))
		return storeErr(err)
	}

	s.forget(roomID)
	metrics.RoomsClosed.WithLabelValues("host").Inc()
	log.Info("room closed by host")
	return nil
}

func (s *RoomService) SwitchInstrument(ctx context.Context, roomID, userID uuid.UUID, instrument string) error {
	if err := invalid(ErrInvalidInput, validation.Instrument(instrument)); err != nil {
		return err
	}

	_, err := s.mutator.mutate(ctx, roomID, func(room *domain.Room) (mutation, error) {
		p := room.Participant(userID)
		if p == nil {
			return mutationNone, ErrNotParticipant
		}
		if p.Instrument == instrument {
			return mutationNone, nil
		}
		p.Instrument = instrument
		return mutationSave, nil
	})
	return err
}

func (s *RoomService) SetStatus(ctx context.Context, roomID, userID uuid.UUID, status domain.ParticipantStatus) error {
	switch status {
	case domain.StatusActive, domain.StatusIdle:
	default:
		return invalidf("unknown status %q", status)
	}

	_, err := s.mutator.mutate(ctx, roomID, func(room *domain.Room) (mutation, error) {
		p := room.Participant(userID)
		if p == nil {
			return mutationNone, ErrNotParticipant
		}
		if p.Status == status {
			return mutationNone, nil
		}
		p.Status = status
		return mutationSave, nil
	})
	return err
}

func (s *RoomService) MuteParticipant(ctx context.Context, roomID, hostID, targetID uuid.UUID, muted bool) error {
	_, err := s.mutator.mutate(ctx, roomID, func(room *domain.Room) (mutation, error) {
		if !room.IsHost(hostID) {
			return mutationNone, ErrNotHost
		}
		p := room.Participant(targetID)
		if p == nil {
			return mutationNone, ErrNotParticipant
		}
		if p.IsMuted == muted {
			return mutationNone, nil
		}
		p.IsMuted = muted
		return mutationSave, nil
	})
	return err
}

// TransferHost hands host authority from hostID to another participant.
func (s *RoomService) TransferHost(ctx context.Context, roomID, hostID, targetID uuid.UUID) error {
	_, err := s.mutator.mutate(ctx, roomID, func(room *domain.Room) (mutation, error) {
		if room.IsHost(targetID) {
			return mutationNone, nil
		}
		if !room.IsHost(hostID) {
			return mutationNone, ErrNotHost
		}
		if !room.TransferHost(targetID) {
			return mutationNone, ErrNotParticipant
		}
		return mutationSave, nil
	})
	return err
}

// UpdateSettings applies a partial settings change. Capacity cannot drop
// below the current member count; switching to private issues a fresh join
// code and switching to public clears it.
func (s *RoomService) UpdateSettings(ctx context.Context, roomID, hostID uuid.UUID, settings RoomSettings) (*domain.Room, error) {
	var res validation.Result
	check := func(r validation.Result) { res.Reasons = append(res.Reasons, r.Reasons...) }
	if settings.Name != nil {
		check(validation.RoomName(*settings.Name))
	}
	if settings.Description != nil {
		check(validation.Description(*settings.Description))
	}
	if settings.Capacity != nil {
		check(validation.Capacity(*settings.Capacity))
	}
	if settings.IdleTimeoutMinutes != nil {
		check(validation.IdleTimeout(*settings.IdleTimeoutMinutes))
	}
	if settings.Visibility != nil {
		switch *settings.Visibility {
		case domain.VisibilityPublic, domain.VisibilityPrivate:
		default:
			check(validation.Result{Reasons: []string{"unknown visibility " + string(*settings.Visibility)}})
		}
	}
	if err := invalid(ErrInvalidSpec, res); err != nil {
		return nil, err
	}

	room, err := s.mutator.mutate(ctx, roomID, func(room *domain.Room) (mutation, error) {
		if !room.IsHost(hostID) {
			return mutationNone, ErrNotHost
		}

		changed := false
		if v := settings.Name; v != nil && strings.TrimSpace(*v) != room.Name {
			room.Name, changed = strings.TrimSpace(*v), true
		}
		if v := settings.Description; v != nil && strings.TrimSpace(*v) != room.Description {
			room.Description, changed = strings.TrimSpace(*v), true
		}
		if v := settings.Capacity; v != nil && *v != room.Capacity {
			if *v < len(room.Participants) {
				return mutationNone, invalidf("capacity %d is below the current %d participants", *v, len(room.Participants))
			}
			room.Capacity, changed = *v, true
		}
		if v := settings.ChatDisabled; v != nil && *v != room.ChatDisabled {
			room.ChatDisabled, changed = *v, true
		}
		if v := settings.AutoClose; v != nil && *v != room.AutoClose {
			room.AutoClose, changed = *v, true
		}
		if v := settings.IdleTimeoutMinutes; v != nil && *v != room.IdleTimeoutMinutes {
			room.IdleTimeoutMinutes, changed = *v, true
		}
		if v := settings.Visibility; v != nil && *v != room.Visibility {
			room.Visibility, changed = *v, true
			room.JoinCode = ""
			if *v == domain.VisibilityPrivate {
				code, err := domain.GenerateJoinCode()
				if err != nil {
					return mutationNone, err
				}
				room.JoinCode = code
			} else {
				room.PendingIDs = nil
			}
		}

		if !changed {
			return mutationNone, nil
		}
		return mutationSave, nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// SendMessage posts to the room chat and stamps room activity.
func (s *RoomService) SendMessage(ctx context.Context, roomID, senderID uuid.UUID, text string) (*domain.ChatMessage, error) {
	msg, err := s.chat.SendRoomMessage(ctx, roomID, senderID, text)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, roomID)
	return msg, nil
}

func (s *RoomService) SendPrivateMessage(ctx context.Context, roomID, senderID, receiverID uuid.UUID, text string) (*domain.PrivateMessage, error) {
	msg, err := s.chat.SendPrivateMessage(ctx, roomID, senderID, receiverID, text)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, roomID)
	return msg, nil
}

func (s *RoomService) MarkRead(ctx context.Context, roomID, viewerID uuid.UUID, messageID string) error {
	return s.chat.MarkRead(ctx, roomID, viewerID, messageID)
}

func (s *RoomService) MarkAllRead(ctx context.Context, roomID, viewerID uuid.UUID) error {
	return s.chat.MarkAllRead(ctx, roomID, viewerID)
}

func (s *RoomService) UnreadPrivateCount(ctx context.Context, roomID, viewerID uuid.UUID) (int, error) {
	return s.chat.UnreadPrivateCount(ctx, roomID, viewerID)
}

func (s *RoomService) RoomUnreadCount(ctx context.Context, roomID, viewerID uuid.UUID) (int, error) {
	return s.chat.RoomUnreadCount(ctx, roomID, viewerID)
}

func (s *RoomService) WatchUnreadPrivate(ctx context.Context, roomID, viewerID uuid.UUID) (*feed.Subscription[int], error) {
	return s.chat.WatchUnreadPrivate(ctx, roomID, viewerID)
}

func (s *RoomService) History(ctx context.Context, roomID, viewerID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	return s.chat.History(ctx, roomID, viewerID, limit)
}

func (s *RoomService) PrivateHistory(ctx context.Context, roomID, viewerID uuid.UUID) ([]*domain.PrivateMessage, error) {
	return s.chat.PrivateHistory(ctx, roomID, viewerID)
}

func (s *RoomService) WatchMessages(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.ChatMessage], error) {
	return s.chat.WatchMessages(ctx, roomID)
}

func (s *RoomService) PublishNote(ctx context.Context, roomID, userID uuid.UUID, ev domain.NoteEvent) (*domain.NoteEvent, error) {
	return s.notes.Publish(ctx, roomID, userID, ev)
}

func (s *RoomService) SubscribeNotes(ctx context.Context, roomID, viewerID uuid.UUID) (*feed.Subscription[*domain.NoteEvent], error) {
	return s.notes.Subscribe(ctx, roomID, viewerID)
}

// RunCompactor prunes note logs every interval until ctx is done.
func (s *RoomService) RunCompactor(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = DefaultCompactInterval
	}
	return s.notes.RunCompactor(ctx, every)
}

// touch stamps lastActivity. Failures are logged and otherwise ignored.
func (s *RoomService) touch(ctx context.Context, roomID uuid.UUID) {
	_, err := s.mutator.mutate(ctx, roomID, func(*domain.Room) (mutation, error) {
		return mutationSave, nil
	})
	if err != nil {
		s.log.Debug("failed to stamp room activity", slog.String("room_id", roomID.String()), sl.Err(err))
	}
}

func (s *RoomService) forget(roomID uuid.UUID) {
	s.chat.Forget(roomID)
	s.notes.Forget(roomID)
}

// ensureUser stores user the first time it shows up so later lookups, such
// as approving a join request, can resolve its profile.
func (s *RoomService) ensureUser(ctx context.Context, user *domain.User) error {
	_, err := s.users.GetByID(ctx, user.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return storeErr(err)
	}
	if err := s.users.Create(ctx, user); err != nil && !errors.Is(err, repository.ErrUserEmailExists) {
		return storeErr(err)
	}
	return nil
}
