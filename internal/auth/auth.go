// Package auth resolves bearer credentials to user identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xaenox/nova/internal/apperr"
)

const CookieName = "token"

type Claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// Authenticator verifies and issues HS256 tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for userID. A zero ttl yields a token without expiry.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := a.now()
	claims := Claims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the user id carried by token.
func (a *Authenticator) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return "", apperr.Auth("Unauthorized: Invalid token", err)
	}
	if claims.ID == "" {
		return "", apperr.Auth("Unauthorized: Invalid token", errors.New("missing id claim"))
	}
	return claims.ID, nil
}

// TokenFromRequest reads the credential from the token cookie, falling back
// to an Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// Authenticate resolves the caller of r.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return "", apperr.Auth("Unauthorized: No token provided", nil)
	}
	return a.Verify(token)
}

type contextKey struct{}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFrom returns the authenticated user stored by WithUser.
func UserFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}
