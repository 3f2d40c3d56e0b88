// Package auth turns bearer tokens into the user identity the forum trusts.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoToken      = errors.New("token is empty")
)

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Name   string
}

// Validator checks a raw token and returns whom it was issued to.
type Validator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// ExtractTokenFromRequest extracts the token from the request (query param or
// header). Browsers can't set headers on WebSocket upgrades, hence the query.
func ExtractTokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return ""
}
