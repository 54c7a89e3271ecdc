package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

// Peer is what the hub needs from a member connection
type Peer interface {
	ID() string
	// Send queues a frame without blocking; false means it was dropped
	Send(b []byte) bool
	Close() error
}

type Conn struct {
	id  string
	ws  *websocket.Conn
	out chan []byte
	log *slog.Logger

	closeOnce sync.Once
}

// Accept upgrades HTTP to websocket for the allowed origins
func Accept(w http.ResponseWriter, r *http.Request, origins []string) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  origins,
		CompressionMode: websocket.CompressionDisabled,
	})
}

// NewConn wraps a WS connection and gives it a fresh member id
func NewConn(ws *websocket.Conn, buffer int, log *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:  id,
		ws:  ws,
		out: make(chan []byte, buffer),
		log: log.With("conn", id),
	}
}

func (c *Conn) ID() string { return c.id }

// Read blocks until it receives a text/binary message.
// Returns false if connection is closed
func (c *Conn) Read(ctx context.Context) ([]byte, bool) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 {
				c.log.Debug("ws.read_error", "err", err)
			}
			return nil, false
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, true
		}
	}
}

// WriteLoop sends outbound frames + periodic pings.
// Exits when ctx is cancelled or a write fails
func (c *Conn) WriteLoop(ctx context.Context, ping time.Duration) {
	t := time.NewTicker(ping)
	defer t.Stop()

	for {
		select {
		case b := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				c.log.Debug("ws.write_error", "err", err)
				_ = c.Close()
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("ws.ping_error", "err", err)
				_ = c.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Send queues without blocking; a full queue drops the frame
func (c *Conn) Send(b []byte) bool {
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// Close closes the WS connection normally, once
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close(websocket.StatusNormalClosure, "bye")
	})
	return err
}
