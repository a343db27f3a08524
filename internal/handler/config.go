package handler

import (
	"net/http"

	"github.com/campuschat/internal/config"
)

// ConfigHandler отдаёт публичные параметры relay, которые нужны клиенту.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler создаёт обработчик конфигурации.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type clientConfig struct {
	TypingTimeoutMS int64 `json:"typingTimeoutMs"`
	MaxAttachments  int   `json:"maxAttachments"`
	MaxMessageBytes int64 `json:"maxMessageBytes"`
	AuthRequired    bool  `json:"authRequired"`
}

// GetClientConfig возвращает настройки чата для клиента (без авторизации).
func (h *ConfigHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clientConfig{
		TypingTimeoutMS: h.cfg.TypingTimeout.Milliseconds(),
		MaxAttachments:  h.cfg.MaxAttachments,
		MaxMessageBytes: h.cfg.WSMaxMessageSize,
		AuthRequired:    h.cfg.JWTSecret != "",
	})
}
