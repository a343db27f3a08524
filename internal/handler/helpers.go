package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeModelError переводит ошибки relay в HTTP-статус.
func writeModelError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, model.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, "invalid request")
	default:
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// queryLimit читает ?key= как размер страницы в пределах (0, max]; без значения даёт def.
func queryLimit(r *http.Request, key string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, max)
}
