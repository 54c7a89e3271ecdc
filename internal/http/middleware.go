package httpx

import (
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/app"
	"github.com/Paarth-dev-lab/SyncMate-3/pkg/ratelimit"
)

type Middleware struct {
	cors   *cors.Cors
	rlimit *ratelimit.Limiter
}

// NewMiddleware builds the shared middleware stack from config
func NewMiddleware(cfg app.Config) *Middleware {
	return &Middleware{
		cors: cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllow,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}),
		rlimit: ratelimit.New(cfg.RateLimitPerMin, time.Minute),
	}
}

// Wrap applies CORS to every route
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return m.cors.Handler(h)
}

// Limit caps requests per client IP; used on the websocket upgrade
func (m *Middleware) Limit(h http.Handler) http.Handler {
	return m.rlimit.Middleware(h)
}

// Limiter exposes the limiter so the caller can sweep stale buckets
func (m *Middleware) Limiter() *ratelimit.Limiter { return m.rlimit }
