package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestValidateRoundTrip(t *testing.T) {
	v := NewValidator("test-secret")
	token := signToken(t, "test-secret", &Claims{
		UserID:   "665f1f77bcf86cd799439011",
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "665f1f77bcf86cd799439011", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	v := NewValidator("right")
	token := signToken(t, "wrong", &Claims{UserID: "u1"})
	_, err := v.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	v := NewValidator("s")
	token := signToken(t, "s", &Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	_, err := v.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsMissingUserID(t *testing.T) {
	v := NewValidator("s")
	token := signToken(t, "s", &Claims{Username: "ghost"})
	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseBearer(t *testing.T) {
	tok, err := ParseBearer("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	_, err = ParseBearer("")
	assert.Error(t, err)

	_, err = ParseBearer("Basic xyz")
	assert.Error(t, err)
}
