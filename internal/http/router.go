package httpx

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/app"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/ws"
	"github.com/Paarth-dev-lab/SyncMate-3/pkg/metrics"
)

const banner = "SyncMate relay is running"

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, hub *ws.Hub, mw *Middleware) http.Handler {
	mux := http.NewServeMux()

	// Banner for hosting keep-alive checks
	mux.Handle("GET /{$}", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, banner)
	}))

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint
	mux.Handle("/ws", mw.Limit(http.HandlerFunc(hub.ServeWS)))

	logger.Debug("router.ready", "env", cfg.Env, "cors", cfg.CORSAllow)
	return mw.Wrap(mux)
}
