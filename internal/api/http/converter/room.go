package converter

import (
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
)

type RoomResponse struct {
	ID                 uuid.UUID             `json:"id"`
	Name               string                `json:"name"`
	Description        string                `json:"description,omitempty"`
	Visibility         domain.Visibility     `json:"visibility"`
	JoinCode           string                `json:"join_code,omitempty"`
	Capacity           int                   `json:"max_participants"`
	HostID             uuid.UUID             `json:"host_id"`
	Participants       []ParticipantResponse `json:"participants"`
	PendingRequests    []uuid.UUID           `json:"pending_requests,omitempty"`
	ChatDisabled       bool                  `json:"is_chat_disabled"`
	AutoClose          bool                  `json:"auto_close_after_inactivity"`
	IdleTimeoutMinutes int                   `json:"inactivity_timeout_minutes"`
	LastActivity       time.Time             `json:"last_activity"`
	CreatedAt          time.Time             `json:"created_at"`
	Version            int64                 `json:"version"`

	IsHost    bool `json:"is_host"`
	IsMember  bool `json:"is_member"`
	IsPending bool `json:"is_pending"`
	Deleted   bool `json:"deleted,omitempty"`
}

type ParticipantResponse struct {
	UserID      uuid.UUID                `json:"id"`
	DisplayName string                   `json:"name"`
	AvatarURL   string                   `json:"avatar,omitempty"`
	Instrument  string                   `json:"instrument"`
	IsHost      bool                     `json:"is_host"`
	IsMuted     bool                     `json:"is_muted"`
	Status      domain.ParticipantStatus `json:"status"`
	JoinedAt    time.Time                `json:"joined_at"`
}

// RoomToApi flattens a view into the wire shape. Pending requests are only
// shown to the host.
func RoomToApi(v domain.RoomView) *RoomResponse {
	if v.Deleted || v.Room == nil {
		resp := &RoomResponse{Deleted: true}
		if v.Room != nil {
			resp.ID = v.Room.ID
		}
		return resp
	}

	r := v.Room
	participants := make([]ParticipantResponse, 0, len(v.Participants))
	for _, p := range v.Participants {
		participants = append(participants, ParticipantResponse{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			Instrument:  p.Instrument,
			IsHost:      p.IsHost,
			IsMuted:     p.IsMuted,
			Status:      p.Status,
			JoinedAt:    p.JoinedAt,
		})
	}

	resp := &RoomResponse{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description,
		Visibility:         r.Visibility,
		JoinCode:           r.JoinCode,
		Capacity:           r.Capacity,
		HostID:             r.HostID,
		Participants:       participants,
		ChatDisabled:       r.ChatDisabled,
		AutoClose:          r.AutoClose,
		IdleTimeoutMinutes: r.IdleTimeoutMinutes,
		LastActivity:       r.LastActivity,
		CreatedAt:          r.CreatedAt,
		Version:            r.Version,
		IsHost:             v.IsHost,
		IsMember:           v.IsMember,
		IsPending:          v.IsPending,
	}
	if v.IsHost {
		resp.PendingRequests = r.PendingIDs
	}
	return resp
}

func RoomsToApi(views []domain.RoomView) []*RoomResponse {
	out := make([]*RoomResponse, 0, len(views))
	for _, v := range views {
		out = append(out, RoomToApi(v))
	}
	return out
}
