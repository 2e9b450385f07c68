package http

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/jamroom/internal/api/http/converter"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/feed"
	"github.com/immxrtalbeast/jamroom/internal/service"
	"github.com/immxrtalbeast/jamroom/lib/logger/sl"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	replyBuffer    = 16
)

// Frame types.
const (
	frameRoom          = "room"
	frameChat          = "chat"
	frameNote          = "note"
	framePrivate       = "private"
	frameRead          = "read"
	frameReadAll       = "read_all"
	frameUnreadRoom    = "unread_room"
	frameUnreadPrivate = "unread_private"
	framePing          = "ping"
	framePong          = "pong"
	frameLeave         = "leave"
	frameLeft          = "left"
	frameError         = "error"
)

type wsIncoming struct {
	Type      string            `json:"type"`
	Text      string            `json:"text,omitempty"`
	To        uuid.UUID         `json:"to,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Note      *domain.NoteEvent `json:"note,omitempty"`
}

type wsOutgoing struct {
	Type    string   `json:"type"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Details []string `json:"details,omitempty"`
}

func errorFrame(err error) wsOutgoing {
	out := wsOutgoing{Type: frameError, Error: err.Error()}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		out.Details = verr.Reasons
	}
	return out
}

type wsSession struct {
	conn    *websocket.Conn
	rooms   service.RoomInteractor
	roomID  uuid.UUID
	user    *domain.User
	log     *slog.Logger
	replies chan wsOutgoing
	done    chan struct{}
}

// ServeWS streams room views, chat, notes and unread counts to one client
// and accepts its frames. Chat and notes are only forwarded while the
// client is a member.
func (c *RoomController) ServeWS(ctx *gin.Context) {
	const op = "api.http.ws"

	roomID, ok := uuidParam(ctx, "roomID")
	if !ok {
		return
	}
	user := currentUser(ctx)
	log := c.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID.String()),
		slog.String("user_id", user.ID.String()),
	)

	sctx, cancel := context.WithCancel(ctx.Request.Context())
	defer cancel()

	views, err := c.rooms.Observe(sctx, roomID, user.ID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	defer views.Close()
	msgs, err := c.rooms.WatchMessages(sctx, roomID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	defer msgs.Close()
	notes, err := c.rooms.SubscribeNotes(sctx, roomID, user.ID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	defer notes.Close()
	unread, err := c.rooms.WatchUnreadPrivate(sctx, roomID, user.ID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	defer unread.Close()

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", sl.Err(err))
		return
	}

	s := &wsSession{
		conn:    conn,
		rooms:   c.rooms,
		roomID:  roomID,
		user:    user,
		log:     log,
		replies: make(chan wsOutgoing, replyBuffer),
		done:    make(chan struct{}),
	}

	log.Debug("websocket connected")
	go s.writePump(sctx, views, msgs, notes, unread)
	s.readPump(sctx)
	cancel()
	<-s.done
	log.Debug("websocket disconnected")
}

func (s *wsSession) write(out wsOutgoing) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(out)
}

func (s *wsSession) writePump(
	ctx context.Context,
	views *feed.Subscription[domain.RoomView],
	msgs *feed.Subscription[*domain.ChatMessage],
	notes *feed.Subscription[*domain.NoteEvent],
	unread *feed.Subscription[int],
) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.done)
	}()

	viewCh, msgCh, noteCh, unreadCh := views.Events(), msgs.Events(), notes.Events(), unread.Events()
	member := false

	for {
		var out wsOutgoing
		select {
		case <-ctx.Done():
			s.flush()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case v, ok := <-viewCh:
			if !ok {
				s.flush()
				return
			}
			member = v.IsMember
			if err := s.write(wsOutgoing{Type: frameRoom, Data: converter.RoomToApi(v)}); err != nil {
				return
			}
			if v.Deleted {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
				return
			}
			continue

		case m, ok := <-msgCh:
			if !ok {
				msgCh = nil
				continue
			}
			if !member {
				continue
			}
			if err := s.write(wsOutgoing{Type: frameChat, Data: m}); err != nil {
				return
			}
			n, err := s.rooms.RoomUnreadCount(ctx, s.roomID, s.user.ID)
			if err != nil {
				continue
			}
			out = wsOutgoing{Type: frameUnreadRoom, Data: n}

		case ev, ok := <-noteCh:
			if !ok {
				noteCh = nil
				continue
			}
			if !member {
				continue
			}
			out = wsOutgoing{Type: frameNote, Data: ev}

		case n, ok := <-unreadCh:
			if !ok {
				unreadCh = nil
				continue
			}
			out = wsOutgoing{Type: frameUnreadPrivate, Data: n}

		case out = <-s.replies:

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		if err := s.write(out); err != nil {
			return
		}
	}
}

// flush writes replies still queued when the session ends.
func (s *wsSession) flush() {
	for {
		select {
		case out := <-s.replies:
			if err := s.write(out); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *wsSession) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame wsIncoming
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read failed", sl.Err(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !s.handle(ctx, frame) {
			return
		}
	}
}

// handle runs one client frame. It reports false when the session should
// end.
func (s *wsSession) handle(ctx context.Context, frame wsIncoming) bool {
	var err error
	switch frame.Type {
	case framePing:
		s.reply(wsOutgoing{Type: framePong})
	case frameChat:
		_, err = s.rooms.SendMessage(ctx, s.roomID, s.user.ID, frame.Text)
	case framePrivate:
		var msg *domain.PrivateMessage
		msg, err = s.rooms.SendPrivateMessage(ctx, s.roomID, s.user.ID, frame.To, frame.Text)
		if err == nil {
			s.reply(wsOutgoing{Type: framePrivate, Data: msg})
		}
	case frameRead:
		err = s.rooms.MarkRead(ctx, s.roomID, s.user.ID, frame.MessageID)
	case frameReadAll:
		err = s.rooms.MarkAllRead(ctx, s.roomID, s.user.ID)
		if err == nil {
			s.reply(wsOutgoing{Type: frameUnreadRoom, Data: 0})
		}
	case frameNote:
		if frame.Note == nil {
			s.reply(wsOutgoing{Type: frameError, Error: "note is required"})
			return true
		}
		_, err = s.rooms.PublishNote(ctx, s.roomID, s.user.ID, *frame.Note)
	case frameLeave:
		var res service.LeaveResult
		res, err = s.rooms.Leave(ctx, s.roomID, s.user.ID)
		if err == nil {
			s.reply(wsOutgoing{Type: frameLeft, Data: leaveBody(res)})
			return false
		}
	default:
		s.reply(wsOutgoing{Type: frameError, Error: "unknown frame type " + frame.Type})
		return true
	}

	if err != nil {
		s.reply(errorFrame(err))
	}
	return true
}

func (s *wsSession) reply(out wsOutgoing) {
	select {
	case s.replies <- out:
	case <-s.done:
	}
}
