package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuschat/internal/model"
)

func TestSignVerify(t *testing.T) {
	t.Parallel()
	v := NewVerifier("secret")
	tok, err := v.Sign(model.Identity{Username: "alice", DisplayName: "Alice", Year: "2"}, time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(tok)
	require.NoError(t, err)
	id := claims.Identity()
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "Alice", id.DisplayName)
	assert.Equal(t, "2", id.Year)
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()
	v := NewVerifier("secret")
	expired, err := v.Sign(model.Identity{Username: "alice"}, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewVerifier("other").Sign(model.Identity{Username: "alice"}, time.Hour)
	require.NoError(t, err)
	anonymous, err := v.Sign(model.Identity{}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong secret", foreign},
		{"no username", anonymous},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestEmptySecretDisables(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewVerifier(""))
}
