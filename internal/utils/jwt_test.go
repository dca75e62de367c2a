package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	s := NewJWTService("secret")
	id := uuid.New()

	token, err := s.GenerateToken(id)
	require.NoError(t, err)

	got, err := s.ExtractUserID(token)
	require.NoError(t, err)
	assert.Equal(t, id.String(), got)
}

func TestJWTService_Rejects(t *testing.T) {
	s := NewJWTService("secret")

	sign := func(claims jwt.MapClaims, key string) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong key", sign(jwt.MapClaims{"user_id": uuid.NewString(), "exp": time.Now().Add(time.Hour).Unix()}, "other")},
		{"expired", sign(jwt.MapClaims{"user_id": uuid.NewString(), "exp": time.Now().Add(-time.Hour).Unix()}, "secret")},
		{"numeric user id", sign(jwt.MapClaims{"user_id": 42, "exp": time.Now().Add(time.Hour).Unix()}, "secret")},
		{"none alg", func() string {
			tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": uuid.NewString()}).SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)
			return tok
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ExtractUserID(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
