package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// BearerToken extracts the token from an "Authorization: Bearer <t>" header.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Authenticate verifies the request's bearer token and, when roles are given,
// requires the caller to hold one of them.
func Authenticate(v Verifier, r *http.Request, roles ...Role) (Claims, error) {
	if v == nil {
		return Claims{}, ErrUnauthenticated
	}
	token := BearerToken(r)
	if token == "" {
		return Claims{}, ErrUnauthenticated
	}
	claims, err := v.Verify(token, time.Now().UTC())
	if err != nil {
		return Claims{}, ErrUnauthenticated
	}
	if len(roles) == 0 {
		return claims, nil
	}
	for _, role := range roles {
		if claims.Role == role {
			return claims, nil
		}
	}
	return Claims{}, ErrForbidden
}

type claimsKey struct{}

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims attached by WithClaims.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}
