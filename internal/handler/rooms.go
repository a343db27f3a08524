package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campuschat/internal/model"
	"github.com/campuschat/internal/registry"
	"github.com/campuschat/internal/ws"
)

type RoomHandler struct {
	rooms *registry.Registry
	hub   *ws.Hub
}

func NewRoomHandler(rooms *registry.Registry, hub *ws.Hub) *RoomHandler {
	return &RoomHandler{rooms: rooms, hub: hub}
}

type roomsResponse struct {
	Rooms []model.RoomWithPresence `json:"rooms"`
}

type roomUsersResponse struct {
	Room  string           `json:"room"`
	Users []model.Identity `json:"users"`
	Count int              `json:"count"`
}

// ListRooms отдаёт каталог комнат с текущим числом участников.
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	list := h.rooms.List()
	out := make([]model.RoomWithPresence, len(list))
	for i, room := range list {
		out[i] = model.RoomWithPresence{Room: room, OnlineCount: h.hub.OnlineCount(room.ID)}
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: out})
}

func (h *RoomHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roomId")
	users, err := h.hub.RoomUsers(id)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roomUsersResponse{Room: id, Users: users, Count: len(users)})
}
