package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/middleware"
	"github.com/campuschat/internal/model"
	"github.com/campuschat/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
	requireToken   bool
	upgrader       websocket.Upgrader
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins — как в CORS (через запятую или "*").
// requireToken — отклонять соединения без проверенного токена (когда задан JWT-секрет).
func NewWSHandler(hub *ws.Hub, allowedOrigins string, requireToken bool) *WSHandler {
	h := &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins), requireToken: requireToken}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var verified *model.Identity
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		id := claims.Identity()
		verified = &id
	}
	if verified == nil && h.requireToken {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	// Регистрация до запуска pump'ов: первое действие клиента уже видит его в хабе.
	client := ws.NewClient(h.hub, conn, verified)
	if err := h.hub.Register(client); err != nil {
		logger.Infof("ws rejected connection: %v", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	// Контекст соединения не зависит от запроса: он живёт до закрытия сокета.
	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
}
