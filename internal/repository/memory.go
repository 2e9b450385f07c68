package repository

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
)

// InMemoryStore keeps every collection in process memory. Change feeds are
// published while the write lock is held, so subscribers observe writes in
// commit order.
type InMemoryStore struct {
	mu       sync.RWMutex
	rooms    map[uuid.UUID]*domain.Room
	messages map[uuid.UUID][]*domain.ChatMessage
	private  map[uuid.UUID][]*domain.PrivateMessage
	notes    map[uuid.UUID][]*domain.NoteEvent

	roomFeed    *feed.Broker[domain.RoomEvent]
	messageFeed *feed.Broker[*domain.ChatMessage]
	privateFeed *feed.Broker[*domain.PrivateMessage]
	noteFeed    *feed.Broker[*domain.NoteEvent]
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rooms:       make(map[uuid.UUID]*domain.Room),
		messages:    make(map[uuid.UUID][]*domain.ChatMessage),
		private:     make(map[uuid.UUID][]*domain.PrivateMessage),
		notes:       make(map[uuid.UUID][]*domain.NoteEvent),
		roomFeed:    feed.NewBroker[domain.RoomEvent](roomFeedBuffer, feed.KeepLatest),
		messageFeed: feed.NewBroker[*domain.ChatMessage](messageFeedBuffer, feed.DropNewest),
		privateFeed: feed.NewBroker[*domain.PrivateMessage](messageFeedBuffer, feed.DropNewest),
		noteFeed:    feed.NewBroker[*domain.NoteEvent](noteFeedBuffer, feed.DropNewest),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return errors.New("room is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.ID]; ok {
		return ErrRoomExists
	}

	room.Version = 1
	stored := room.Clone()
	s.rooms[room.ID] = stored
	s.roomFeed.Publish(room.ID.String(), domain.RoomEvent{RoomID: room.ID, Room: stored.Clone()})
	return nil
}

func (s *InMemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}

	return room.Clone(), nil
}

func (s *InMemoryStore) Update(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return errors.New("room is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rooms[room.ID]
	if !ok {
		return ErrRoomNotFound
	}
	if current.Version != room.Version {
		return ErrVersionConflict
	}

	room.Version++
	stored := room.Clone()
	s.rooms[room.ID] = stored
	s.roomFeed.Publish(room.ID.String(), domain.RoomEvent{RoomID: room.ID, Room: stored.Clone()})
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return ErrRoomNotFound
	}

	delete(s.rooms, id)
	delete(s.messages, id)
	delete(s.private, id)
	delete(s.notes, id)

	topic := id.String()
	s.roomFeed.Publish(topic, domain.RoomEvent{RoomID: id, Deleted: true})
	s.messageFeed.CloseTopic(topic)
	s.privateFeed.CloseTopic(topic)
	s.noteFeed.CloseTopic(topic)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		result = append(result, room.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// Watch sends the current snapshot right away, then every later change.
func (s *InMemoryStore) Watch(ctx context.Context, id uuid.UUID) (*feed.Subscription[domain.RoomEvent], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}

	sub := s.roomFeed.Subscribe(ctx, id.String())
	sub.Send(domain.RoomEvent{RoomID: id, Room: room.Clone()})
	return sub, nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[msg.RoomID]; !ok {
		return ErrRoomNotFound
	}

	cp := *msg
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], &cp)
	out := cp
	s.messageFeed.Publish(msg.RoomID.String(), &out)
	return nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	result := make([]*domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		result = append(result, &cp)
	}
	return result, nil
}

func (s *InMemoryStore) CountMessagesAfter(ctx context.Context, roomID uuid.UUID, afterID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.messages[roomID] {
		if m.ID > afterID {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) WatchMessages(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.ChatMessage], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.messageFeed.Subscribe(ctx, roomID.String()), nil
}

func (s *InMemoryStore) AppendPrivate(ctx context.Context, msg *domain.PrivateMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[msg.RoomID]; !ok {
		return ErrRoomNotFound
	}

	cp := *msg
	s.private[msg.RoomID] = append(s.private[msg.RoomID], &cp)
	out := cp
	s.privateFeed.Publish(msg.RoomID.String(), &out)
	return nil
}

func (s *InMemoryStore) ListPrivate(ctx context.Context, roomID uuid.UUID, userID uuid.UUID) ([]*domain.PrivateMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PrivateMessage, 0)
	for _, m := range s.private[roomID] {
		if m.Involves(userID) {
			cp := *m
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *InMemoryStore) MarkPrivateRead(ctx context.Context, roomID uuid.UUID, messageID string, receiverID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.private[roomID], func(m *domain.PrivateMessage) bool {
		return m.ID == messageID
	})
	if idx < 0 {
		return false, ErrMessageNotFound
	}

	msg := s.private[roomID][idx]
	if msg.ReceiverID != receiverID {
		return false, ErrMessageNotFound
	}
	if msg.Read {
		return false, nil
	}

	msg.Read = true
	out := *msg
	s.privateFeed.Publish(roomID.String(), &out)
	return true, nil
}

func (s *InMemoryStore) WatchPrivate(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.PrivateMessage], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.privateFeed.Subscribe(ctx, roomID.String()), nil
}

func (s *InMemoryStore) AppendNote(ctx context.Context, ev *domain.NoteEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[ev.RoomID]; !ok {
		return ErrRoomNotFound
	}

	cp := *ev
	s.notes[ev.RoomID] = append(s.notes[ev.RoomID], &cp)
	out := cp
	s.noteFeed.Publish(ev.RoomID.String(), &out)
	return nil
}

func (s *InMemoryStore) PruneNotes(ctx context.Context, roomID uuid.UUID, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	notes := s.notes[roomID]
	if len(notes) <= keep {
		return 0, nil
	}

	removed := len(notes) - keep
	s.notes[roomID] = slices.Clone(notes[removed:])
	return removed, nil
}

func (s *InMemoryStore) WatchNotes(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.NoteEvent], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.noteFeed.Subscribe(ctx, roomID.String()), nil
}

// NoteCount is used by compaction tests.
func (s *InMemoryStore) NoteCount(roomID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes[roomID])
}

type InMemoryUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users: make(map[uuid.UUID]*domain.User),
	}
}

func (r *InMemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil {
		return errors.New("user is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if user.Email != "" {
		for _, u := range r.users {
			if u.Email == user.Email {
				return ErrUserEmailExists
			}
		}
	}

	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *InMemoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}

	cp := *user
	return &cp, nil
}

func (r *InMemoryUserRepository) Update(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil {
		return errors.New("user is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return ErrUserNotFound
	}

	cp := *user
	r.users[user.ID] = &cp
	return nil
}
