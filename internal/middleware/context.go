package middleware

import (
	"context"

	"github.com/campuschat/internal/auth"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// WithClaims кладёт проверенные claims в контекст запроса.
func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, c)
}

// GetClaims возвращает claims из контекста (устанавливается Authenticate) или nil.
func GetClaims(ctx context.Context) *auth.Claims {
	v, _ := ctx.Value(ClaimsKey).(*auth.Claims)
	return v
}
