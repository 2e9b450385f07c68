package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
	"github.com/immxrtalbeast/jamroom/internal/repository/model"
	"gorm.io/gorm"
)

// PostgresStore persists rooms in relational tables. Change notifications
// are fanned out in-process, so it serves a single server instance.
type PostgresStore struct {
	db *gorm.DB

	roomFeed    *feed.Broker[domain.RoomEvent]
	messageFeed *feed.Broker[*domain.ChatMessage]
	privateFeed *feed.Broker[*domain.PrivateMessage]
	noteFeed    *feed.Broker[*domain.NoteEvent]
}

// GormConfig is the gorm configuration the Postgres repositories expect.
// TranslateError makes the driver report unique and foreign key violations
// as gorm.ErrDuplicatedKey and gorm.ErrForeignKeyViolated.
func GormConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}

// translateErr maps driver errors onto repository errors. duplicate is what a
// unique violation means for the caller; a foreign key violation always
// means the owning room is gone.
func translateErr(err error, duplicate error) error {
	switch {
	case err == nil:
		return nil
	case duplicate != nil && errors.Is(err, gorm.ErrDuplicatedKey):
		return duplicate
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrRoomNotFound
	default:
		return err
	}
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{
		db:          db,
		roomFeed:    feed.NewBroker[domain.RoomEvent](roomFeedBuffer, feed.KeepLatest),
		messageFeed: feed.NewBroker[*domain.ChatMessage](messageFeedBuffer, feed.DropNewest),
		privateFeed: feed.NewBroker[*domain.PrivateMessage](messageFeedBuffer, feed.DropNewest),
		noteFeed:    feed.NewBroker[*domain.NoteEvent](noteFeedBuffer, feed.DropNewest),
	}
}

func (r *PostgresStore) Create(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return errors.New("room is nil")
	}

	room.Version = 1
	roomModel := toModelRoom(room)

	if err := r.db.WithContext(ctx).Create(roomModel).Error; err != nil {
		return translateErr(err, ErrRoomExists)
	}

	r.roomFeed.Publish(room.ID.String(), domain.RoomEvent{RoomID: room.ID, Room: room.Clone()})
	return nil
}

func (r *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var room model.Room
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Preload("PendingRequests").
		First(&room, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return toDomainRoom(&room), nil
}

func (r *PostgresStore) Update(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return errors.New("room is nil")
	}

	roomModel := toModelRoom(room)
	nextVersion := room.Version + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"name":                 roomModel.Name,
			"description":          roomModel.Description,
			"visibility":           roomModel.Visibility,
			"join_code":            roomModel.JoinCode,
			"capacity":             roomModel.Capacity,
			"host_id":              roomModel.HostID,
			"chat_disabled":        roomModel.ChatDisabled,
			"auto_close":           roomModel.AutoClose,
			"idle_timeout_minutes": roomModel.IdleTimeoutMinutes,
			"last_activity":        roomModel.LastActivity,
			"version":              nextVersion,
		}

		res := tx.Model(&model.Room{}).
			Where("id = ? AND version = ?", roomModel.ID, room.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.Room{}).Where("id = ?", roomModel.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrRoomNotFound
			}
			return ErrVersionConflict
		}

		if err := tx.Where("room_id = ?", roomModel.ID).Delete(&model.Participant{}).Error; err != nil {
			return err
		}
		if len(roomModel.Participants) > 0 {
			if err := tx.Create(&roomModel.Participants).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("room_id = ?", roomModel.ID).Delete(&model.PendingJoin{}).Error; err != nil {
			return err
		}
		if len(roomModel.PendingRequests) > 0 {
			if err := tx.Create(&roomModel.PendingRequests).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	room.Version = nextVersion
	r.roomFeed.Publish(room.ID.String(), domain.RoomEvent{RoomID: room.ID, Room: room.Clone()})
	return nil
}

func (r *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.ChatMessage{}, &model.PrivateMessage{}, &model.NoteEvent{}, &model.Participant{}, &model.PendingJoin{}} {
			if err := tx.Where("room_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}

		res := tx.Delete(&model.Room{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRoomNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	topic := id.String()
	r.roomFeed.Publish(topic, domain.RoomEvent{RoomID: id, Deleted: true})
	r.messageFeed.CloseTopic(topic)
	r.privateFeed.CloseTopic(topic)
	r.noteFeed.CloseTopic(topic)
	return nil
}

func (r *PostgresStore) List(ctx context.Context) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rooms []model.Room
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Preload("PendingRequests").
		Order("created_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}

	result := make([]*domain.Room, 0, len(rooms))
	for i := range rooms {
		result = append(result, toDomainRoom(&rooms[i]))
	}

	return result, nil
}

func (r *PostgresStore) Watch(ctx context.Context, id uuid.UUID) (*feed.Subscription[domain.RoomEvent], error) {
	sub := r.roomFeed.Subscribe(ctx, id.String())

	room, err := r.GetByID(ctx, id)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.Send(domain.RoomEvent{RoomID: id, Room: room})

	return sub, nil
}

func (r *PostgresStore) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := model.ChatMessage{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		SenderID:     msg.SenderID,
		SenderName:   msg.SenderName,
		SenderAvatar: msg.SenderAvatar,
		Text:         msg.Text,
		CreatedAt:    msg.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translateErr(err, nil)
	}

	cp := *msg
	r.messageFeed.Publish(msg.RoomID.String(), &cp)
	return nil
}

func (r *PostgresStore) ListMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []model.ChatMessage
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]*domain.ChatMessage, len(rows))
	for i := range rows {
		row := rows[i]
		result[len(rows)-1-i] = &domain.ChatMessage{
			ID:           row.ID,
			RoomID:       row.RoomID,
			SenderID:     row.SenderID,
			SenderName:   row.SenderName,
			SenderAvatar: row.SenderAvatar,
			Text:         row.Text,
			CreatedAt:    row.CreatedAt.UTC(),
		}
	}
	return result, nil
}

func (r *PostgresStore) CountMessagesAfter(ctx context.Context, roomID uuid.UUID, afterID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&model.ChatMessage{}).
		Where("room_id = ? AND id > ?", roomID, afterID).
		Count(&count).Error
	return int(count), err
}

func (r *PostgresStore) WatchMessages(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.ChatMessage], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.messageFeed.Subscribe(ctx, roomID.String()), nil
}

func (r *PostgresStore) AppendPrivate(ctx context.Context, msg *domain.PrivateMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(toModelPrivate(msg)).Error; err != nil {
		return translateErr(err, nil)
	}

	cp := *msg
	r.privateFeed.Publish(msg.RoomID.String(), &cp)
	return nil
}

func (r *PostgresStore) ListPrivate(ctx context.Context, roomID uuid.UUID, userID uuid.UUID) ([]*domain.PrivateMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []model.PrivateMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND (sender_id = ? OR receiver_id = ?)", roomID, userID, userID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]*domain.PrivateMessage, 0, len(rows))
	for i := range rows {
		result = append(result, toDomainPrivate(&rows[i]))
	}
	return result, nil
}

func (r *PostgresStore) MarkPrivateRead(ctx context.Context, roomID uuid.UUID, messageID string, receiverID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var row model.PrivateMessage
	err := r.db.WithContext(ctx).
		First(&row, "id = ? AND room_id = ? AND receiver_id = ?", messageID, roomID, receiverID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrMessageNotFound
		}
		return false, err
	}
	if row.Read {
		return false, nil
	}

	res := r.db.WithContext(ctx).Model(&model.PrivateMessage{}).
		Where("id = ? AND read = ?", messageID, false).
		Update("read", true)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	row.Read = true
	r.privateFeed.Publish(roomID.String(), toDomainPrivate(&row))
	return true, nil
}

func (r *PostgresStore) WatchPrivate(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.PrivateMessage], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.privateFeed.Subscribe(ctx, roomID.String()), nil
}

func (r *PostgresStore) AppendNote(ctx context.Context, ev *domain.NoteEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := model.NoteEvent{
		ID:         ev.ID,
		RoomID:     ev.RoomID,
		Note:       ev.Note,
		Instrument: ev.Instrument,
		UserID:     ev.UserID,
		UserName:   ev.UserName,
		Volume:     ev.Volume,
		Effects: model.Effects{
			Reverb:     ev.Effects.Reverb,
			Delay:      ev.Effects.Delay,
			Distortion: ev.Effects.Distortion,
		},
		PublishedAt: ev.PublishedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translateErr(err, nil)
	}

	cp := *ev
	r.noteFeed.Publish(ev.RoomID.String(), &cp)
	return nil
}

func (r *PostgresStore) PruneNotes(ctx context.Context, roomID uuid.UUID, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	keepIDs := r.db.Model(&model.NoteEvent{}).
		Select("id").
		Where("room_id = ?", roomID).
		Order("id DESC").
		Limit(keep)

	res := r.db.WithContext(ctx).
		Where("room_id = ? AND id NOT IN (?)", roomID, keepIDs).
		Delete(&model.NoteEvent{})
	return int(res.RowsAffected), res.Error
}

func (r *PostgresStore) WatchNotes(ctx context.Context, roomID uuid.UUID) (*feed.Subscription[*domain.NoteEvent], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.noteFeed.Subscribe(ctx, roomID.String()), nil
}

type PostgresUserRepository struct {
	db *gorm.DB
}

func NewPostgresUserRepository(db *gorm.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil {
		return errors.New("user is nil")
	}

	if err := r.db.WithContext(ctx).Create(toModelUser(user)).Error; err != nil {
		return translateErr(err, ErrUserEmailExists)
	}
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var user model.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return toDomainUser(&user), nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil {
		return errors.New("user is nil")
	}

	userModel := toModelUser(user)

	updateData := map[string]any{
		"name":       userModel.Name,
		"avatar_url": userModel.AvatarURL,
		"is_guest":   userModel.IsGuest,
		"updated_at": userModel.UpdatedAt,
	}

	if userModel.Email == nil {
		updateData["email"] = gorm.Expr("NULL")
	} else {
		updateData["email"] = userModel.Email
	}

	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userModel.ID).Updates(updateData)
	if res.Error != nil {
		return translateErr(res.Error, ErrUserEmailExists)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func toModelRoom(room *domain.Room) *model.Room {
	participants := make([]model.Participant, 0, len(room.Participants))
	for _, p := range room.Participants {
		if p == nil {
			continue
		}
		status := p.Status
		if status == "" {
			status = domain.StatusActive
		}
		joinedAt := p.JoinedAt
		if joinedAt.IsZero() {
			joinedAt = time.Now().UTC()
		}
		participants = append(participants, model.Participant{
			RoomID:      room.ID,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			Instrument:  p.Instrument,
			IsHost:      p.IsHost,
			IsMuted:     p.IsMuted,
			Status:      string(status),
			JoinedAt:    joinedAt.UTC(),
		})
	}

	pending := make([]model.PendingJoin, 0, len(room.PendingIDs))
	for i, id := range room.PendingIDs {
		pending = append(pending, model.PendingJoin{
			RoomID:   room.ID,
			UserID:   id,
			Position: i,
		})
	}

	return &model.Room{
		ID:                 room.ID,
		Name:               room.Name,
		Description:        room.Description,
		Visibility:         string(room.Visibility),
		JoinCode:           room.JoinCode,
		Capacity:           room.Capacity,
		HostID:             room.HostID,
		ChatDisabled:       room.ChatDisabled,
		AutoClose:          room.AutoClose,
		IdleTimeoutMinutes: room.IdleTimeoutMinutes,
		LastActivity:       room.LastActivity.UTC(),
		CreatedAt:          room.CreatedAt.UTC(),
		Version:            room.Version,
		Participants:       participants,
		PendingRequests:    pending,
	}
}

func toDomainRoom(room *model.Room) *domain.Room {
	participants := make([]*domain.Participant, 0, len(room.Participants))
	ids := make([]uuid.UUID, 0, len(room.Participants))
	for i := range room.Participants {
		p := room.Participants[i]
		participants = append(participants, &domain.Participant{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			Instrument:  p.Instrument,
			IsHost:      p.IsHost,
			IsMuted:     p.IsMuted,
			Status:      domain.ParticipantStatus(p.Status),
			JoinedAt:    p.JoinedAt.UTC(),
		})
		ids = append(ids, p.UserID)
	}

	pending := make([]uuid.UUID, len(room.PendingRequests))
	for _, pj := range room.PendingRequests {
		if pj.Position >= 0 && pj.Position < len(pending) {
			pending[pj.Position] = pj.UserID
		}
	}

	return &domain.Room{
		ID:                 room.ID,
		Name:               room.Name,
		Description:        room.Description,
		Visibility:         domain.Visibility(room.Visibility),
		JoinCode:           room.JoinCode,
		Capacity:           room.Capacity,
		HostID:             room.HostID,
		Participants:       participants,
		ParticipantIDs:     ids,
		PendingIDs:         pending,
		ChatDisabled:       room.ChatDisabled,
		AutoClose:          room.AutoClose,
		IdleTimeoutMinutes: room.IdleTimeoutMinutes,
		LastActivity:       room.LastActivity.UTC(),
		CreatedAt:          room.CreatedAt.UTC(),
		Version:            room.Version,
	}
}

func toModelPrivate(msg *domain.PrivateMessage) *model.PrivateMessage {
	return &model.PrivateMessage{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Read:       msg.Read,
		CreatedAt:  msg.CreatedAt.UTC(),
	}
}

func toDomainPrivate(row *model.PrivateMessage) *domain.PrivateMessage {
	return &domain.PrivateMessage{
		ID:         row.ID,
		RoomID:     row.RoomID,
		SenderID:   row.SenderID,
		SenderName: row.SenderName,
		ReceiverID: row.ReceiverID,
		Text:       row.Text,
		Read:       row.Read,
		CreatedAt:  row.CreatedAt.UTC(),
	}
}

func toModelUser(user *domain.User) *model.User {
	var email *string
	if user.Email != "" {
		e := user.Email
		email = &e
	}
	return &model.User{
		ID:        user.ID,
		Name:      user.Name,
		Email:     email,
		AvatarURL: user.AvatarURL,
		IsGuest:   user.IsGuest,
		CreatedAt: user.CreatedAt.UTC(),
		UpdatedAt: user.UpdatedAt.UTC(),
	}
}

func toDomainUser(user *model.User) *domain.User {
	email := ""
	if user.Email != nil {
		email = *user.Email
	}

	return &domain.User{
		ID:        user.ID,
		Name:      user.Name,
		Email:     email,
		AvatarURL: user.AvatarURL,
		IsGuest:   user.IsGuest,
		CreatedAt: user.CreatedAt.UTC(),
		UpdatedAt: user.UpdatedAt.UTC(),
	}
}
