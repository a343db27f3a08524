package middleware

import (
	"net/http"
	"strings"

	"github.com/campuschat/internal/auth"
	"github.com/campuschat/internal/logger"
)

// bearerToken берёт токен из Authorization: Bearer или из ?token= (браузерный WebSocket не умеет заголовки).
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// Authenticate проверяет JWT и кладёт claims в контекст. Без токена запрос проходит
// анонимно; с неверным токеном — 401. v == nil отключает проверку.
func Authenticate(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				next.ServeHTTP(w, r)
				return
			}
			tok := bearerToken(r)
			if tok == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := v.Verify(tok)
			if err != nil {
				logger.Warnf("auth: %s %s: %v", r.Method, r.URL.Path, err)
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
