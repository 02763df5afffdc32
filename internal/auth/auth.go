// Package auth provides admin bearer-token authentication for the debug/ops
// HTTP surface. Unlike the teacher's OIDC validator there is no external
// identity provider in this domain: tokens are minted and verified locally
// with a shared HS256 secret, the same jwt/v5 library the teacher used for
// signature verification, narrowed to symmetric keys.
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

// contextKey avoids collisions in request contexts.
type contextKey string

// SubjectContextKey is the context key under which the token subject is stored.
const SubjectContextKey contextKey = "agentdb_admin_subject"

// AdminAuth gates every request it wraps behind a locally minted bearer
// token. If no secret is configured, authentication is
// disabled and requests pass through, mirroring the teacher's
// enabled-only-if-configured behavior.
type AdminAuth struct {
	secret  []byte
	enabled bool
}

// New creates an AdminAuth from a shared secret. An empty secret disables
// authentication entirely.
func New(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret), enabled: secret != ""}
}

// MintToken issues an HS256 token for subject, valid for ttl.
func MintToken(secret, subject string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("mint admin token: %w", err)
	}
	return signed, nil
}

// Middleware is HTTP middleware that requires a valid bearer token when
// authentication is enabled.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		subject, err := a.validate(parts[1])
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), SubjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AdminAuth) validate(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("malformed claims")
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}

// Subject retrieves the authenticated subject from the request context, if any.
func Subject(ctx context.Context) string {
	sub, _ := ctx.Value(SubjectContextKey).(string)
	return sub
}
