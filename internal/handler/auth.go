package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/campuschat/internal/auth"
	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/model"
)

var validate = validator.New()

// AuthHandler выдаёт токены для локальной разработки (-dev). В production токены
// выпускает внешний сервис авторизации с тем же секретом.
type AuthHandler struct {
	verifier *auth.Verifier
	ttl      time.Duration
}

func NewAuthHandler(verifier *auth.Verifier, ttl time.Duration) *AuthHandler {
	return &AuthHandler{verifier: verifier, ttl: ttl}
}

type issueTokenRequest struct {
	Username    string `json:"username" validate:"required,max=64"`
	DisplayName string `json:"displayName" validate:"max=128"`
	Year        string `json:"year" validate:"max=32"`
	Branch      string `json:"branch" validate:"max=128"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		writeError(w, http.StatusNotImplemented, "auth disabled")
		return
	}
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "username обязателен")
		return
	}
	token, err := h.verifier.Sign(model.Identity{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Year:        req.Year,
		Branch:      req.Branch,
	}, h.ttl)
	if err != nil {
		logger.Errorf("issue token for %s: %v", req.Username, err)
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, issueTokenResponse{Token: token, ExpiresAt: time.Now().Add(h.ttl)})
}
