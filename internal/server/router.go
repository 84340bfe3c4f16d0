// Package server implements the HTTP surface of the local backend
// emulation and its routing.
package server

import (
	"net/http"
	"time"

	"github.com/signbase/signbase/internal/server/handlers"
	"github.com/signbase/signbase/internal/server/ratelimit"
)

// Config carries the server-level settings.
type Config struct {
	// JWTSecret signs and validates session tokens.
	JWTSecret string
	// Version is reported by the health endpoint.
	Version string
	// RateLimitRequests per RateLimitWindow per client; zero disables
	// rate limiting (used by tests).
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitBurst    int
}

// Router is the assembled HTTP surface. Close releases its background
// resources.
type Router struct {
	handler http.Handler
	limiter *ratelimit.Limiter
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Close stops the rate limiter's cleanup goroutine.
func (rt *Router) Close() {
	if rt.limiter != nil {
		rt.limiter.Close()
	}
}

// NewRouter creates and configures the HTTP router: typed JSON endpoints
// behind Wrap, raw byte endpoints for blobs, JWT auth for everything that
// is not a public auth route. Call Close when done serving.
func NewRouter(svc *handlers.Services, cfg *Config) *Router {
	mux := &http.ServeMux{}

	hh := handlers.NewHealthHandler(cfg.Version)
	mux.Handle("GET /api/v1/health", Wrap(hh.Health))

	authh := handlers.NewAuthHandler(svc.Sessions, cfg.JWTSecret)
	mux.Handle("POST /api/v1/auth/register", Wrap(authh.Register))
	mux.Handle("POST /api/v1/auth/login", Wrap(authh.Login))
	mux.Handle("POST /api/v1/auth/logout", Wrap(authh.Logout))
	mux.Handle("POST /api/v1/auth/password-reset", Wrap(authh.PasswordReset))
	mux.Handle("GET /api/v1/auth/me", Wrap(authh.Me))
	mux.Handle("PUT /api/v1/auth/profile", Wrap(authh.UpdateProfile))

	dh := handlers.NewDocumentHandler(svc.Documents)
	mux.Handle("GET /api/v1/timestamp", Wrap(dh.Timestamp))
	mux.Handle("POST /api/v1/collections/{collection}/documents", Wrap(dh.AddDocument))
	mux.Handle("GET /api/v1/collections/{collection}/documents", Wrap(dh.ListDocuments))
	mux.Handle("GET /api/v1/collections/{collection}/documents/{id}", Wrap(dh.GetDocument))
	mux.Handle("PUT /api/v1/collections/{collection}/documents/{id}", Wrap(dh.SetDocument))
	mux.Handle("PATCH /api/v1/collections/{collection}/documents/{id}", Wrap(dh.UpdateDocument))
	mux.Handle("DELETE /api/v1/collections/{collection}/documents/{id}", Wrap(dh.DeleteDocument))
	mux.Handle("POST /api/v1/collections/{collection}/query", Wrap(dh.Query))

	bh := handlers.NewBlobHandler(svc.Blobs)
	mux.HandleFunc("PUT /api/v1/blobs/{path...}", bh.Put)
	mux.HandleFunc("GET /api/v1/blobs/{path...}", bh.Get)
	mux.HandleFunc("DELETE /api/v1/blobs/{path...}", bh.Delete)

	ch := handlers.NewContributionHandler(svc.Documents, svc.Blobs, IdentityFromContext)
	mux.Handle("POST /api/v1/contributions", Wrap(ch.CreateContribution))
	mux.Handle("DELETE /api/v1/contributions/{id}", Wrap(ch.DeleteContribution))
	mux.Handle("GET /api/v1/profile", Wrap(ch.Profile))

	rt := &Router{}
	var handler http.Handler = mux
	handler = AuthMiddleware(svc.Sessions, []byte(cfg.JWTSecret))(handler)
	if cfg.RateLimitRequests > 0 {
		rt.limiter = ratelimit.NewLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitBurst)
		handler = RateLimitMiddleware(rt.limiter)(handler)
	}
	rt.handler = handler
	return rt
}
