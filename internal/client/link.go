package client

import (
	"context"
	"fmt"
	"time"

	"nhooyr.io/websocket"
)

const linkWriteTimeout = 5 * time.Second

// Link is one live transport to the relay
type Link interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Dialer opens links to the relay
type Dialer interface {
	Dial(ctx context.Context, url string) (Link, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, url string) (Link, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Link, error) { return f(ctx, url) }

// WebsocketDialer dials the relay's /ws endpoint
type WebsocketDialer struct {
	ReadLimit int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Link, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsLink{c: c}, nil
}

type wsLink struct {
	c *websocket.Conn
}

func (l *wsLink) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, b, err := l.c.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return b, nil
		}
	}
}

func (l *wsLink) Write(ctx context.Context, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, linkWriteTimeout)
	defer cancel()
	return l.c.Write(ctx, websocket.MessageText, frame)
}

func (l *wsLink) Close() error {
	return l.c.Close(websocket.StatusNormalClosure, "bye")
}
