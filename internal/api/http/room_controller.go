package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/jamroom/internal/api/http/converter"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/service"
)

type RoomController struct {
	rooms    service.RoomInteractor
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewRoomController(rooms service.RoomInteractor, log *slog.Logger, checkOrigin func(r *http.Request) bool) *RoomController {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &RoomController{
		rooms: rooms,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func uuidParam(ctx *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param(name))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func bind(ctx *gin.Context, dst any) bool {
	if err := ctx.ShouldBindJSON(dst); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return false
	}
	return true
}

func (c *RoomController) CreateRoom(ctx *gin.Context) {
	type request struct {
		Name               string            `json:"name" binding:"required"`
		Description        string            `json:"description"`
		Visibility         domain.Visibility `json:"visibility"`
		Capacity           int               `json:"max_participants"`
		ChatDisabled       bool              `json:"is_chat_disabled"`
		AutoClose          bool              `json:"auto_close_after_inactivity"`
		IdleTimeoutMinutes int               `json:"inactivity_timeout_minutes"`
	}
	var req request
	if !bind(ctx, &req) {
		return
	}

	host := currentUser(ctx)
	room, err := c.rooms.CreateRoom(ctx.Request.Context(), domain.RoomSpec{
		Name:               req.Name,
		Description:        req.Description,
		Visibility:         req.Visibility,
		Capacity:           req.Capacity,
		ChatDisabled:       req.ChatDisabled,
		AutoClose:          req.AutoClose,
		IdleTimeoutMinutes: req.IdleTimeoutMinutes,
	}, host)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"room": converter.RoomToApi(domain.NewRoomView(room.ID, room, host.ID))})
}

func (c *RoomController) ListRooms(ctx *gin.Context) {
	views, err := c.rooms.ListRooms(ctx.Request.Context(), currentUser(ctx).ID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rooms": converter.RoomsToApi(views)})
}

func (c *RoomController) GetRoom(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}

	view, err := c.rooms.GetRoom(ctx.Request.Context(), roomID, currentUser(ctx).ID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(view)})
}

func (c *RoomController) CloseRoom(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	if err := c.rooms.Close(ctx.Request.Context(), roomID, currentUser(ctx).ID); err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *RoomController) UpdateSettings(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	type request struct {
		Name               *string            `json:"name"`
		Description        *string            `json:"description"`
		Visibility         *domain.Visibility `json:"visibility"`
		Capacity           *int               `json:"max_participants"`
		ChatDisabled       *bool              `json:"is_chat_disabled"`
		AutoClose          *bool              `json:"auto_close_after_inactivity"`
		IdleTimeoutMinutes *int               `json:"inactivity_timeout_minutes"`
	}
	var req request
	if !bind(ctx, &req) {
		return
	}

	user := currentUser(ctx)
	room, err := c.rooms.UpdateSettings(ctx.Request.Context(), roomID, user.ID, service.RoomSettings{
		Name:               req.Name,
		Description:        req.Description,
		Visibility:         req.Visibility,
		Capacity:           req.Capacity,
		ChatDisabled:       req.ChatDisabled,
		AutoClose:          req.AutoClose,
		IdleTimeoutMinutes: req.IdleTimeoutMinutes,
	})
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(domain.NewRoomView(roomID, room, user.ID))})
}

func (c *RoomController) Join(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	type request struct {
		Code        string `json:"code"`
		DisplayName string `json:"display_name"`
	}
	var req request
	if ctx.Request.ContentLength > 0 && !bind(ctx, &req) {
		return
	}

	user := *currentUser(ctx)
	if req.DisplayName != "" {
		user.Name = req.DisplayName
	}

	result, err := c.rooms.Join(ctx.Request.Context(), roomID, &user, req.Code)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}

	status := http.StatusOK
	if result == service.JoinRequested {
		status = http.StatusAccepted
	}
	ctx.JSON(status, gin.H{"result": result})
}

func (c *RoomController) Leave(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	res, err := c.rooms.Leave(ctx.Request.Context(), roomID, currentUser(ctx).ID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, leaveBody(res))
}

func leaveBody(res service.LeaveResult) gin.H {
	body := gin.H{"left": res.Left, "room_deleted": res.RoomDeleted}
	if res.NewHostID != uuid.Nil {
		body["host_id"] = res.NewHostID
	}
	return body
}

func (c *RoomController) ApproveJoin(ctx *gin.Context) {
	c.hostAction(ctx, c.rooms.ApproveJoin)
}

func (c *RoomController) DenyJoin(ctx *gin.Context) {
	c.hostAction(ctx, c.rooms.DenyJoin)
}

func (c *RoomController) TransferHost(ctx *gin.Context) {
	c.hostAction(ctx, c.rooms.TransferHost)
}

// hostAction runs fn(roomID, caller, :userID) and answers 204.
func (c *RoomController) hostAction(ctx *gin.Context, fn func(ctx context.Context, roomID, hostID, userID uuid.UUID) error) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	target, ok := uuidParam(ctx, "userID")
	if !ok {
		return
	}
	if err := fn(ctx.Request.Context(), roomID, currentUser(ctx).ID, target); err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *RoomController) RemoveParticipant(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	target, ok := uuidParam(ctx, "userID")
	if !ok {
		return
	}
	res, err := c.rooms.RemoveParticipant(ctx.Request.Context(), roomID, currentUser(ctx).ID, target)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, leaveBody(res))
}

func (c *RoomController) MuteParticipant(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	target, ok := uuidParam(ctx, "userID")
	if !ok {
		return
	}
	var req struct {
		Muted bool `json:"muted"`
	}
	if !bind(ctx, &req) {
		return
	}
	if err := c.rooms.MuteParticipant(ctx.Request.Context(), roomID, currentUser(ctx).ID, target, req.Muted); err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *RoomController) SwitchInstrument(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	var req struct {
		Instrument string `json:"instrument"`
	}
	if !bind(ctx, &req) {
		return
	}
	if err := c.rooms.SwitchInstrument(ctx.Request.Context(), roomID, currentUser(ctx).ID, req.Instrument); err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *RoomController) SetStatus(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	var req struct {
		Status domain.ParticipantStatus `json:"status"`
	}
	if !bind(ctx, &req) {
		return
	}
	if err := c.rooms.SetStatus(ctx.Request.Context(), roomID, currentUser(ctx).ID, req.Status); err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *RoomController) History(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	msgs, err := c.rooms.History(ctx.Request.Context(), roomID, currentUser(ctx).ID, limit)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (c *RoomController) SendMessage(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !bind(ctx, &req) {
		return
	}
	msg, err := c.rooms.SendMessage(ctx.Request.Context(), roomID, currentUser(ctx).ID, req.Text)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (c *RoomController) RoomUnread(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	n, err := c.rooms.RoomUnreadCount(ctx.Request.Context(), roomID, currentUser(ctx).ID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"unread": n})
}

func (c *RoomController) MarkAllRead(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	if err := c.rooms.MarkAllRead(ctx.Request.Context(), roomID, currentUser(ctx).ID); err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *RoomController) PrivateHistory(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	msgs, err := c.rooms.PrivateHistory(ctx.Request.Context(), roomID, currentUser(ctx).ID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (c *RoomController) SendPrivate(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	var req struct {
		To   uuid.UUID `json:"to" binding:"required"`
		Text string    `json:"text"`
	}
	if !bind(ctx, &req) {
		return
	}
	msg, err := c.rooms.SendPrivateMessage(ctx.Request.Context(), roomID, currentUser(ctx).ID, req.To, req.Text)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (c *RoomController) MarkPrivateRead(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	if err := c.rooms.MarkRead(ctx.Request.Context(), roomID, currentUser(ctx).ID, ctx.Param("messageID")); err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *RoomController) PrivateUnread(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	n, err := c.rooms.UnreadPrivateCount(ctx.Request.Context(), roomID, currentUser(ctx).ID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"unread": n})
}

func (c *RoomController) PublishNote(ctx *gin.Context) {
	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	var ev domain.NoteEvent
	if !bind(ctx, &ev) {
		return
	}
	published, err := c.rooms.PublishNote(ctx.Request.Context(), roomID, currentUser(ctx).ID, ev)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"note": published})
}
