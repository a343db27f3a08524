package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/campuschat/internal/auth"
	"github.com/campuschat/internal/config"
	"github.com/campuschat/internal/middleware"
	"github.com/campuschat/internal/registry"
	"github.com/campuschat/internal/store"
	"github.com/campuschat/internal/ws"
)

// RouterDeps собирает зависимости HTTP-слоя relay.
type RouterDeps struct {
	Config   *config.Config
	Rooms    *registry.Registry
	Store    *store.Store
	Hub      *ws.Hub
	Verifier *auth.Verifier // nil — без JWT
	Limiter  *middleware.LimiterPool
	Metrics  http.Handler // nil — /metrics не публикуется
	// DevTokens включает POST /api/auth/token (только -dev).
	DevTokens bool
}

func NewRouter(d RouterDeps) http.Handler {
	roomH := NewRoomHandler(d.Rooms, d.Hub)
	msgH := NewMessageHandler(d.Rooms, d.Store)
	configH := NewConfigHandler(d.Config)
	wsH := NewWSHandler(d.Hub, d.Config.CORSAllowedOrigins, d.Verifier != nil)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(d.Config.CORSAllowedOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(middleware.RateLimit(d.Limiter))
		}
		r.Get("/chat/config", configH.GetClientConfig)
		r.Get("/chat/rooms", roomH.ListRooms)
		r.Get("/chat/rooms/{roomId}/users", roomH.GetUsers)
		r.Get("/chat/rooms/{roomId}/messages", msgH.GetMessages)
		if d.DevTokens {
			r.Post("/auth/token", NewAuthHandler(d.Verifier, 24*time.Hour).IssueToken)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(d.Verifier))
		r.Get("/ws", wsH.ServeWS)
	})
	return r
}
