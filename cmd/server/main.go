package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/Paarth-dev-lab/SyncMate-3/internal/app"
	httpx "github.com/Paarth-dev-lab/SyncMate-3/internal/http"
	room "github.com/Paarth-dev-lab/SyncMate-3/internal/room"
	ws "github.com/Paarth-dev-lab/SyncMate-3/internal/ws"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := app.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Rooms live in memory only; a restart drops them
	reg := room.NewRegistry(logger)
	hub := ws.NewHub(logger, reg, ws.Options{
		OriginPatterns: cfg.CORSAllow,
		PingInterval:   cfg.WSPingInterval,
		SendBuffer:     cfg.WSSendBuffer,
		ReadLimit:      cfg.WSReadLimit,
		Queue:          cfg.HubQueue,
	})
	go hub.Run(ctx)

	// HTTP + WS router
	mw := httpx.NewMiddleware(cfg)
	router := httpx.NewRouter(cfg, logger, hub, mw)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Stale rate limit buckets
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if n := mw.Limiter().Sweep(); n > 0 {
					logger.Debug("ratelimit.sweep", "dropped", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Start server
	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("server.shutdown.start", "rooms", reg.Len())

	// shutdown
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	// websockets are hijacked, the hub closes them itself
	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
		logger.Warn("server.shutdown.hub_timeout")
	}

	logger.Info("server.shutdown.complete")
	_ = os.Stdout.Sync()
}
