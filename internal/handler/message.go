package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campuschat/internal/model"
	"github.com/campuschat/internal/registry"
	"github.com/campuschat/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type MessageHandler struct {
	rooms *registry.Registry
	store *store.Store
}

func NewMessageHandler(rooms *registry.Registry, st *store.Store) *MessageHandler {
	return &MessageHandler{rooms: rooms, store: st}
}

type historyResponse struct {
	Room     string          `json:"room"`
	Messages []model.Message `json:"messages"`
}

// GetMessages отдаёт хвост истории комнаты (?limit=, по умолчанию 50, максимум 500).
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roomId")
	if _, err := h.rooms.Get(id); err != nil {
		writeModelError(w, r, err)
		return
	}
	limit := queryLimit(r, "limit", defaultHistoryLimit, maxHistoryLimit)
	writeJSON(w, http.StatusOK, historyResponse{Room: id, Messages: h.store.History(id, limit)})
}
