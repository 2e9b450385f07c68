package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/jamroom/internal/repository"
	"github.com/immxrtalbeast/jamroom/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewInMemoryStore()
	users := repository.NewInMemoryUserRepository()

	rooms := service.NewRoomService(store, users, nil, log, service.Options{})
	userSvc := service.NewUserService(users, log)

	return &testAPI{
		router: SetupRouter([]string{"*"}, NewRoomController(rooms, log, nil), NewUserController(userSvc, log)),
	}
}

func (a *testAPI) do(t *testing.T, method, path string, userID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != uuid.Nil {
		req.Header.Set(UserIDHeader, userID.String())
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *testAPI) guest(t *testing.T, name string) uuid.UUID {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/users/guest", uuid.Nil, gin.H{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[struct {
		User struct {
			ID uuid.UUID `json:"id"`
		} `json:"user"`
	}](t, rec)
	return resp.User.ID
}

type roomBody struct {
	Room struct {
		ID           uuid.UUID `json:"id"`
		JoinCode     string    `json:"join_code"`
		HostID       uuid.UUID `json:"host_id"`
		IsHost       bool      `json:"is_host"`
		IsMember     bool      `json:"is_member"`
		Participants []struct {
			ID uuid.UUID `json:"id"`
		} `json:"participants"`
		Pending []uuid.UUID `json:"pending_requests"`
	} `json:"room"`
}

func (a *testAPI) createRoom(t *testing.T, host uuid.UUID, body gin.H) roomBody {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/rooms", host, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[roomBody](t, rec)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/healthz", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequireUser(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/rooms", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/rooms", uuid.New(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set(UserIDHeader, "not-a-uuid")
	raw := httptest.NewRecorder()
	api.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusUnauthorized, raw.Code)

	id := api.guest(t, "Ada")
	rec = api.do(t, http.MethodGet, "/api/rooms", id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoomLifecycle(t *testing.T) {
	api := newTestAPI(t)
	host := api.guest(t, "Host")
	guest := api.guest(t, "Guest")

	created := api.createRoom(t, host, gin.H{"name": "Jam", "visibility": "public"})
	assert.True(t, created.Room.IsHost)
	assert.Equal(t, host, created.Room.HostID)
	roomPath := "/api/rooms/" + created.Room.ID.String()

	rec := api.do(t, http.MethodPost, roomPath+"/join", guest, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "joined", decode[gin.H](t, rec)["result"])

	rec = api.do(t, http.MethodGet, roomPath, guest, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[roomBody](t, rec)
	assert.True(t, view.Room.IsMember)
	assert.False(t, view.Room.IsHost)
	assert.Len(t, view.Room.Participants, 2)

	rec = api.do(t, http.MethodDelete, roomPath, guest, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, roomPath+"/messages", guest, gin.H{"text": "  hi  "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, roomPath+"/messages/unread", host, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[gin.H](t, rec)["unread"])

	rec = api.do(t, http.MethodPost, roomPath+"/messages/read", host, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPost, roomPath+"/host/"+guest.String(), host, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPost, roomPath+"/leave", guest, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	left := decode[gin.H](t, rec)
	assert.Equal(t, true, left["left"])
	assert.Equal(t, false, left["room_deleted"])
	assert.Equal(t, host.String(), left["host_id"])

	rec = api.do(t, http.MethodDelete, roomPath, host, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, roomPath, host, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrivateRoomJoinFlow(t *testing.T) {
	api := newTestAPI(t)
	host := api.guest(t, "Host")
	guest := api.guest(t, "Guest")

	created := api.createRoom(t, host, gin.H{"name": "Secret", "visibility": "private"})
	require.Len(t, created.Room.JoinCode, 6)
	roomPath := "/api/rooms/" + created.Room.ID.String()

	rec := api.do(t, http.MethodGet, roomPath, guest, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[roomBody](t, rec).Room.JoinCode)

	wrong := "000000"
	if created.Room.JoinCode == wrong {
		wrong = "111111"
	}
	rec = api.do(t, http.MethodPost, roomPath+"/join", guest, gin.H{"code": wrong})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, roomPath+"/join", guest, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "requested", decode[gin.H](t, rec)["result"])

	rec = api.do(t, http.MethodGet, roomPath, host, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{guest}, decode[roomBody](t, rec).Room.Pending)

	rec = api.do(t, http.MethodPost, roomPath+"/requests/"+guest.String()+"/approve", guest, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, roomPath+"/requests/"+guest.String()+"/approve", host, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPost, roomPath+"/requests/"+guest.String()+"/deny", host, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	host := api.guest(t, "Host")

	rec := api.do(t, http.MethodPost, "/api/rooms", host, gin.H{"name": strings.Repeat("x", 51)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}](t, rec)
	assert.NotEmpty(t, body.Details)

	rec = api.do(t, http.MethodGet, "/api/rooms/not-a-uuid", host, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/rooms/"+uuid.NewString(), host, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	created := api.createRoom(t, host, gin.H{"name": "Jam"})
	roomPath := "/api/rooms/" + created.Room.ID.String()

	rec = api.do(t, http.MethodPost, roomPath+"/messages", host, gin.H{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 30; i++ {
		rec = api.do(t, http.MethodPost, roomPath+"/messages", host, gin.H{"text": "spam"})
		require.Equal(t, http.StatusCreated, rec.Code, "message %d", i)
	}
	rec = api.do(t, http.MethodPost, roomPath+"/messages", host, gin.H{"text": "spam"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUpdateMe(t *testing.T) {
	api := newTestAPI(t)
	id := api.guest(t, "Ada")

	rec := api.do(t, http.MethodPatch, "/api/users/me", id, gin.H{"name": "Ada L"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/users/"+id.String(), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Ada L"`)

	rec = api.do(t, http.MethodPatch, "/api/users/me", id, gin.H{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func readFrame(t *testing.T, conn *websocket.Conn, frameType string) wsOutgoingJSON {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var frame wsOutgoingJSON
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == frameType {
			return frame
		}
	}
}

type wsOutgoingJSON struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func TestWebSocketSession(t *testing.T) {
	api := newTestAPI(t)
	host := api.guest(t, "Host")
	guest := api.guest(t, "Guest")

	created := api.createRoom(t, host, gin.H{"name": "Jam"})
	roomPath := "/api/rooms/" + created.Room.ID.String()
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, roomPath+"/join", guest, nil).Code)

	srv := httptest.NewServer(api.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + roomPath + "/ws?user_id=" + guest.String()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	room := readFrame(t, conn, frameRoom)
	assert.Contains(t, string(room.Data), `"is_member":true`)

	require.NoError(t, conn.WriteJSON(gin.H{"type": frameChat, "text": "hello"}))
	chat := readFrame(t, conn, frameChat)
	var msg struct {
		Text     string    `json:"text"`
		SenderID uuid.UUID `json:"sender_id"`
	}
	require.NoError(t, json.Unmarshal(chat.Data, &msg))
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, guest, msg.SenderID)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "bogus"}))
	bad := readFrame(t, conn, frameError)
	assert.Contains(t, bad.Error, "unknown frame type")

	require.NoError(t, conn.WriteJSON(gin.H{"type": frameLeave}))
	left := readFrame(t, conn, frameLeft)
	assert.Contains(t, string(left.Data), `"left":true`)

	rec := api.do(t, http.MethodGet, roomPath, host, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[roomBody](t, rec).Room.Participants, 1)
}

func TestWebSocketRequiresUser(t *testing.T) {
	api := newTestAPI(t)
	host := api.guest(t, "Host")
	created := api.createRoom(t, host, gin.H{"name": "Jam"})

	srv := httptest.NewServer(api.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/rooms/" + created.Room.ID.String() + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
