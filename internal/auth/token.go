// Package auth verifies identity tokens issued by the campus auth service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campuschat/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Year        string `json:"year,omitempty"`
	Branch      string `json:"branch,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the token claims into the relay's identity.
func (c *Claims) Identity() model.Identity {
	return model.Identity{
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Year:        c.Year,
		Branch:      c.Branch,
	}
}

// Verifier checks HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns nil for an empty secret; a nil Verifier disables token checks.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token; used by tests and local tooling.
func (v *Verifier) Sign(identity model.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Year:        identity.Year,
		Branch:      identity.Branch,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
