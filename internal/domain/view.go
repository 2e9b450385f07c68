package domain

import "github.com/google/uuid"

// RoomView is the denormalized snapshot an observer renders.
type RoomView struct {
	Room         *Room          `json:"room"`
	Participants []*Participant `json:"participants"`
	Host         *Participant   `json:"host,omitempty"`
	IsHost       bool           `json:"is_host"`
	IsMember     bool           `json:"is_member"`
	IsPending    bool           `json:"is_pending"`
	Deleted      bool           `json:"deleted"`
}

// NewRoomView resolves the participant list and host for viewer. A nil room
// yields a deleted marker for roomID.
func NewRoomView(roomID uuid.UUID, room *Room, viewer uuid.UUID) RoomView {
	if room == nil {
		return RoomView{Room: &Room{ID: roomID}, Deleted: true}
	}
	view := RoomView{
		Room:         room,
		Participants: room.SortedParticipants(),
		Host:         room.Host(),
		IsHost:       room.IsHost(viewer),
		IsMember:     room.HasParticipant(viewer),
		IsPending:    room.IsPending(viewer),
	}
	if !view.IsHost {
		view.Room = room.Clone()
		view.Room.JoinCode = ""
	}
	return view
}

// RoomEvent is one change-feed delivery: the latest stored state, or a
// deletion marker.
type RoomEvent struct {
	RoomID  uuid.UUID
	Room    *Room
	Deleted bool
}
