// Package middleware holds the chi-compatible HTTP middlewares the backend's
// private (authenticated) API surface is built from: bearer-token
// authentication and request observability.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures bearer-token authentication for the private,
// back-office routes in spec §6 ("Private (authenticated)").
type AuthConfig struct {
	Secret    string
	Issuer    string
	ClockSkew time.Duration
}

type contextKey string

// ContextKeyAdminSubject carries the authenticated back-office principal.
const ContextKeyAdminSubject contextKey = "merchant.admin_subject"

// Authenticator validates HS256 bearer tokens issued to back-office
// operators (the merchant's own admin tooling, not wallets or exchanges).
type Authenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

// NewAuthenticator builds an Authenticator from the given configuration.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Authenticator{
		secret:    []byte(strings.TrimSpace(cfg.Secret)),
		issuer:    cfg.Issuer,
		clockSkew: skew,
	}
}

// RequireAuth wraps a handler so it only runs for requests bearing a valid
// token, used on every route under spec §6's "Private (authenticated)" group.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		claims, err := a.parseToken(token)
		if err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}
		subject, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), ContextKeyAdminSubject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth: secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.clockSkew), jwt.WithIssuer(a.issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: token invalid")
	}
	return claims, nil
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func writeUnauthorized(w http.ResponseWriter, hint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":2001,"hint":"` + hint + `"}`))
}

// AdminSubject extracts the authenticated subject from the request context.
func AdminSubject(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeyAdminSubject).(string)
	return subject
}
