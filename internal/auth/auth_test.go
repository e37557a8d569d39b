package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("user-1", secret, time.Hour)
	require.NoError(t, err)

	userID, err := GetUserIDFromToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestGetUserIDFromToken_Rejects(t *testing.T) {
	expired, err := GenerateToken("user-1", secret, -time.Minute)
	require.NoError(t, err)

	wrongKey, err := GenerateToken("user-1", []byte("other"), time.Hour)
	require.NoError(t, err)

	noUser, err := GenerateToken("", secret, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":   expired,
		"wrong key": wrongKey,
		"no user":   noUser,
		"alg none":  none,
		"garbage":   "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := GetUserIDFromToken(token, secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAuthenticator_Header(t *testing.T) {
	a := NewAuthenticator("")
	assert.False(t, a.UsesJWT())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := a.UserID(r)
	assert.Error(t, err)

	r.Header.Set(HeaderUserID, "alice")
	userID, err := a.UserID(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestAuthenticator_Bearer(t *testing.T) {
	a := NewAuthenticator(string(secret))
	assert.True(t, a.UsesJWT())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserID, "alice")
	_, err := a.UserID(r)
	assert.Error(t, err, "header identity is ignored when JWT is configured")

	token, err := GenerateToken("bob", secret, time.Hour)
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+token)
	userID, err := a.UserID(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", userID)
}

func TestUserIDContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithUserID(context.Background(), "alice")
	userID, ok := UserIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)
}
