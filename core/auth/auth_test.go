package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewTokenManager("secret")
	require.NoError(t, err)

	tok, err := m.GenerateToken(42, time.Hour)
	require.NoError(t, err)

	claims, err := m.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "42", claims.Subject)
}

func TestParseTokenRejects(t *testing.T) {
	m, err := NewTokenManager("secret")
	require.NoError(t, err)
	other, err := NewTokenManager("other")
	require.NoError(t, err)

	expired, err := m.GenerateToken(1, -time.Minute)
	require.NoError(t, err)
	foreign, err := other.GenerateToken(1, time.Hour)
	require.NoError(t, err)
	noUser, err := m.GenerateToken(0, time.Hour)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":  expired,
		"foreign":  foreign,
		"no user":  noUser,
		"unsigned": unsigned,
		"garbage":  "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.ParseToken(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = NewTokenManager("")
	assert.Error(t, err)
}
