package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
	"github.com/redis/go-redis/v9"
)

const roomIndexKey = "rooms"

func roomKey(id uuid.UUID) string            { return fmt.Sprintf("room:%s", id) }
func roomMessagesKey(id uuid.UUID) string    { return fmt.Sprintf("room:%s:messages", id) }
func roomMessageDataKey(id uuid.UUID) string { return fmt.Sprintf("room:%s:messages:data", id) }
func roomPrivateKey(id uuid.UUID) string     { return fmt.Sprintf("room:%s:private", id) }
func roomNotesKey(id uuid.UUID) string       { return fmt.Sprintf("room:%s:notes", id) }

func roomChannel(id uuid.UUID) string    { return fmt.Sprintf("room:%s:events", id) }
func messageChannel(id uuid.UUID) string { return fmt.Sprintf("room:%s:messages:events", id) }
func privateChannel(id uuid.UUID) string { return fmt.Sprintf("room:%s:private:events", id) }
func noteChannel(id uuid.UUID) string    { return fmt.Sprintf("room:%s:notes:events", id) }

func userKey(id uuid.UUID) string { return fmt.Sprintf("user:%s", id) }

const userEmailKey = "users:email"

// deleteRoomScript removes the room document and every sub-collection in one
// step. It returns 0 when the room did not exist.
var deleteRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3], KEYS[4], KEYS[5])
redis.call('SREM', KEYS[6], ARGV[1])
return 1
`)

// Append scripts write a sub-record only while the room document exists, so
// a concurrent delete cannot leave orphans behind. They return 0 when the room
// is gone.
var (
	appendMessageScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], 0, ARGV[1])
redis.call('PUBLISH', ARGV[3], ARGV[2])
return 1
`)

	appendPrivateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('PUBLISH', ARGV[3], ARGV[2])
return 1
`)

	appendNoteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[2])
redis.call('PUBLISH', ARGV[3], ARGV[2])
return 1
`)
)

type roomEnvelope struct {
	Deleted bool         `json:"deleted"`
	Room    *domain.Room `json:"room,omitempty"`
}

// RedisStore keeps rooms as JSON documents and streams changes over
// Redis pub/sub, so several server instances can share one store.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// ConnectRedis opens a client and verifies the connection.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Create(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return errors.New("room is nil")
	}

	room.Version = 1
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, roomKey(room.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomExists
	}
	if err := s.client.SAdd(ctx, roomIndexKey, room.ID.String()).Err(); err != nil {
		return err
	}

	return s.publishRoom(ctx, room.ID, roomEnvelope{Room: room})
}

func (s *RedisStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.getRoom(ctx, s.client, id)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) getRoom(ctx context.Context, c stringGetter, id uuid.UUID) (*domain.Room, error) {
	data, err := c.Get(ctx, roomKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *RedisStore) Update(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return errors.New("room is nil")
	}

	key := roomKey(room.ID)
	next := room.Clone()
	next.Version = room.Version + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.getRoom(ctx, tx, room.ID)
		if err != nil {
			return err
		}
		if current.Version != room.Version {
			return ErrVersionConflict
		}

		data, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return ErrVersionConflict
		}
		return err
	}

	room.Version = next.Version
	return s.publishRoom(ctx, room.ID, roomEnvelope{Room: next})
}

func (s *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keys := []string{
		roomKey(id),
		roomMessagesKey(id),
		roomMessageDataKey(id),
		roomPrivateKey(id),
		roomNotesKey(id),
		roomIndexKey,
	}
	deleted, err := deleteRoomScript.Run(ctx, s.client, keys, id.String()).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrRoomNotFound
	}

	return s.publishRoom(ctx, id, roomEnvelope{Deleted: true})
}

func (s *RedisStore) List(ctx context.Context) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*domain.Room{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		keys = append(keys, roomKey(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*domain.Room, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var room domain.Room
		if err := json.Unmarshal([]byte(str), &room); err != nil {
			continue
		}
		result = append(result, &room)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *RedisStore) Watch(ctx context.Context, id uuid.UUID) (*feed.Subscription[domain.RoomEvent], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := feed.NewSubscription[domain.RoomEvent](roomFeedBuffer, feed.KeepLatest)
	if err := subscribe(ctx, s.client, roomChannel(id), sub, func(payload string) (domain.RoomEvent, bool) {
		var env roomEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return domain.RoomEvent{}, false
		}
		return domain.RoomEvent{RoomID: id, Room: env.Room, Deleted: env.Deleted}, true
	}); err != nil {
		return nil, err
	}

	room, err := s.getRoom(ctx, s.client, id)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.Send(domain.RoomEvent{RoomID: id, Room: room})

	return sub, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	keys := []string{roomKey(msg.RoomID), roomMessageDataKey(msg.RoomID), roomMessagesKey(msg.RoomID)}
	return s.appendToRoom(ctx, appendMessageScript, keys, msg.ID, data, messageChannel(msg.RoomID))
}

func (s *RedisStore) ListMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	ids, err := s.client.ZRange(ctx, roomMessagesKey(roomID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*domain.ChatMessage{}, nil
	}

	values, err := s.client.HMGet(ctx, roomMessageDataKey(roomID), ids...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*domain.ChatMessage, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(str), &msg); err != nil {
			return nil, err
		}
		result = append(result, &msg)
	}
	return result, nil
}

func (s *RedisStore) CountMessagesAfter(ctx context.Context, roomID uuid.UUID, afterID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	from := "-"
	if afterID != "" {
		from = "(" + afterID
	}
	n, err := s.client.ZLexCount(ctx, roomMessagesKey(roomID), from, "+").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) WatchMessages(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.ChatMessage], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := feed.NewSubscription[*domain.ChatMessage](messageFeedBuffer, feed.DropNewest)
	if err := subscribe(ctx, s.client, messageChannel(roomID), sub, decodeJSON[domain.ChatMessage]); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *RedisStore) AppendPrivate(ctx context.Context, msg *domain.PrivateMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	keys := []string{roomKey(msg.RoomID), roomPrivateKey(msg.RoomID)}
	return s.appendToRoom(ctx, appendPrivateScript, keys, msg.ID, data, privateChannel(msg.RoomID))
}

func (s *RedisStore) ListPrivate(ctx context.Context, roomID uuid.UUID, userID uuid.UUID) ([]*domain.PrivateMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := s.client.HGetAll(ctx, roomPrivateKey(roomID)).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*domain.PrivateMessage, 0)
	for _, raw := range all {
		var msg domain.PrivateMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, err
		}
		if msg.Involves(userID) {
			result = append(result, &msg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *RedisStore) MarkPrivateRead(ctx context.Context, roomID uuid.UUID, messageID string, receiverID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := roomPrivateKey(roomID)
	var (
		changed bool
		data    []byte
	)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, messageID).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrMessageNotFound
			}
			return err
		}

		var msg domain.PrivateMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		if msg.ReceiverID != receiverID {
			return ErrMessageNotFound
		}
		if msg.Read {
			return nil
		}

		msg.Read = true
		data, err = json.Marshal(&msg)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, messageID, data)
			pipe.Publish(ctx, privateChannel(roomID), data)
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, ErrVersionConflict
	}
	return changed, err
}

func (s *RedisStore) WatchPrivate(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.PrivateMessage], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := feed.NewSubscription[*domain.PrivateMessage](messageFeedBuffer, feed.DropNewest)
	if err := subscribe(ctx, s.client, privateChannel(roomID), sub, decodeJSON[domain.PrivateMessage]); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *RedisStore) AppendNote(ctx context.Context, ev *domain.NoteEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	keys := []string{roomKey(ev.RoomID), roomNotesKey(ev.RoomID)}
	return s.appendToRoom(ctx, appendNoteScript, keys, ev.ID, data, noteChannel(ev.RoomID))
}

func (s *RedisStore) PruneNotes(ctx context.Context, roomID uuid.UUID, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key := roomNotesKey(roomID)
	if keep < 0 {
		keep = 0
	}
	var lenCmd *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lenCmd = pipe.LLen(ctx, key)
		if keep == 0 {
			pipe.Del(ctx, key)
		} else {
			pipe.LTrim(ctx, key, -int64(keep), -1)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := int(lenCmd.Val()) - keep
	if removed < 0 {
		removed = 0
	}
	return removed, nil
}

func (s *RedisStore) WatchNotes(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.NoteEvent], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := feed.NewSubscription[*domain.NoteEvent](noteFeedBuffer, feed.DropNewest)
	if err := subscribe(ctx, s.client, noteChannel(roomID), sub, decodeJSON[domain.NoteEvent]); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *RedisStore) appendToRoom(ctx context.Context, script *redis.Script, keys []string, id string, data []byte, channel string) error {
	ok, err := script.Run(ctx, s.client, keys, id, data, channel).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *RedisStore) publishRoom(ctx context.Context, id uuid.UUID, env roomEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, roomChannel(id), data).Err()
}

func decodeJSON[T any](payload string) (*T, bool) {
	var v T
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, false
	}
	return &v, true
}

// subscribe waits for the SUBSCRIBE confirmation, so nothing published after
// it returns is missed, then pumps decoded payloads into sub until either
// side closes.
func subscribe[T any](ctx context.Context, client *redis.Client, channel string, sub *feed.Subscription[T], decode func(string) (T, bool)) error {
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}

	sub.OnClose(func() { _ = ps.Close() })
	sub.Bind(ctx)

	ch := ps.Channel()
	go func() {
		for {
			select {
			case <-sub.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					sub.Close()
					return
				}
				if v, ok := decode(msg.Payload); ok {
					sub.Send(v)
				}
			}
		}
	}()
	return nil
}

type RedisUserRepository struct {
	client *redis.Client
}

func NewRedisUserRepository(client *redis.Client) *RedisUserRepository {
	return &RedisUserRepository{client: client}
}

func (r *RedisUserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil {
		return errors.New("user is nil")
	}

	if user.Email != "" {
		ok, err := r.client.HSetNX(ctx, userEmailKey, user.Email, user.ID.String()).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserEmailExists
		}
	}

	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, userKey(user.ID), data, 0).Err()
}

func (r *RedisUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := r.client.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *RedisUserRepository) Update(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil {
		return errors.New("user is nil")
	}

	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	ok, err := r.client.SetXX(ctx, userKey(user.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}
