package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	as := NewAuthService("test-secret")

	token, err := as.GenerateToken("U1", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := as.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestAuthService_Rejects(t *testing.T) {
	as := NewAuthService("test-secret")

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewAuthService("other").GenerateToken("U1", "user", time.Hour)
		require.NoError(t, err)
		_, err = as.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewAuthService("test-secret")
		old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := old.GenerateToken("U1", "user", time.Hour)
		require.NoError(t, err)
		_, err = as.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := as.ValidateToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing user id", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})
		signed, err := token.SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = as.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty user id cannot be issued", func(t *testing.T) {
		_, err := as.GenerateToken("", "user", time.Hour)
		assert.Error(t, err)
	})
}
