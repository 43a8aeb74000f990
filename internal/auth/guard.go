package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrMissingCredential means no bearer credential was presented.
	ErrMissingCredential = errors.New("auth: missing credential")
	// ErrInvalidCredential means the credential failed signature, expiry or
	// shape checks.
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

// Verifier is the token verification capability the guard depends on.
type Verifier interface {
	VerifyToken(token string) (*Claims, error)
}

// Guard is the single authentication gate used by both the HTTP middleware
// and the websocket handshake.
type Guard struct {
	verifier Verifier
}

func NewGuard(v Verifier) *Guard {
	return &Guard{verifier: v}
}

// Authenticate verifies a raw credential. It accepts either a bare token or
// an "Authorization" header value ("Bearer <token>").
func (g *Guard) Authenticate(credential string) (*Claims, error) {
	token := BearerToken(credential)
	if token == "" {
		return nil, ErrMissingCredential
	}
	claims, err := g.verifier.VerifyToken(token)
	if err != nil {
		return nil, errors.Join(ErrInvalidCredential, err)
	}
	return claims, nil
}

// BearerToken strips an optional, case-insensitive "Bearer" scheme.
func BearerToken(credential string) string {
	credential = strings.TrimSpace(credential)
	if len(credential) >= 6 && strings.EqualFold(credential[:6], "bearer") {
		credential = strings.TrimSpace(credential[6:])
	}
	return credential
}

type claimsContextKey struct{}

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// ClaimsFromContext extracts claims attached by WithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return c, ok && c != nil
}
