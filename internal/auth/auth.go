// Package auth resolves the authenticated user of an HTTP request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderUserID carries the user id when no JWT secret is configured
const HeaderUserID = "X-User-ID"

// ErrInvalidToken is returned for tokens that fail validation
var ErrInvalidToken = errors.New("invalid token")

// Claims holds the registered claims and the user id
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

// GenerateToken signs an HS256 token for userID
func GenerateToken(userID string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: userID,
	})
	return token.SignedString(secretKey)
}

// GetUserIDFromToken validates an HS256 token and returns its user id
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}

	return claims.UserID, nil
}

// Authenticator extracts the user id from a request
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator. An empty secret trusts the
// X-User-ID header, which is only meant for development.
func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a
}

// UsesJWT reports whether bearer tokens are required
func (a *Authenticator) UsesJWT() bool {
	return a.secret != nil
}

// UserID returns the authenticated user id of r
func (a *Authenticator) UserID(r *http.Request) (string, error) {
	if !a.UsesJWT() {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			return "", fmt.Errorf("missing %s header", HeaderUserID)
		}
		return userID, nil
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("missing bearer token")
	}
	return GetUserIDFromToken(token, a.secret)
}

type userIDKey struct{}

// WithUserID stores the user id in the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user id stored by the auth middleware
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok && userID != ""
}
