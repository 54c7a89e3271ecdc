package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/app"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/room"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/ws"
)

func newTestServer(t *testing.T, cfg app.Config) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := ws.NewHub(log, room.NewRegistry(log), ws.Options{})
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(cfg, log, hub, NewMiddleware(cfg)))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() app.Config {
	return app.Config{Env: "test", CORSAllow: []string{"*"}, RateLimitPerMin: 100}
}

func TestBanner(t *testing.T) {
	srv := newTestServer(t, testConfig())

	res, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, banner, string(body))

	res, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, testConfig())
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, testConfig())
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketUpgradeIsRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMin = 1
	srv := newTestServer(t, cfg)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	_, res, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
}
