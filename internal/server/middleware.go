package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/ksid"
	"github.com/signbase/signbase/internal/server/ratelimit"
	"github.com/signbase/signbase/internal/session"
)

type contextKey string

// identityKey carries the authenticated identity through the request context.
const identityKey contextKey = "identity"

// IdentityFromContext returns the authenticated identity, or nil.
func IdentityFromContext(ctx context.Context) *session.Identity {
	identity, _ := ctx.Value(identityKey).(*session.Identity)
	return identity
}

// AuthMiddleware validates bearer tokens and adds the identity to the
// request context. Auth endpoints and non-API paths pass through.
func AuthMiddleware(sessions *session.Store, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}
			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return jwtSecret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid claims", http.StatusUnauthorized)
				return
			}
			sub, ok := claims["sub"].(string)
			if !ok {
				http.Error(w, "Invalid identity in token", http.StatusUnauthorized)
				return
			}
			id, err := ksid.Parse(sub)
			if err != nil {
				http.Error(w, "Invalid identity in token", http.StatusUnauthorized)
				return
			}
			identity, err := sessions.Lookup(id)
			if err != nil {
				http.Error(w, "Identity not found", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isPublicPath(path string) bool {
	switch path {
	case "/api/v1/health",
		"/api/v1/auth/register",
		"/api/v1/auth/login",
		"/api/v1/auth/password-reset":
		return true
	}
	return !strings.HasPrefix(path, "/api/")
}

// RateLimitMiddleware rejects requests exceeding the per-client budget
// with 429. Clients are keyed by remote IP.
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !limiter.Allow(host) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
