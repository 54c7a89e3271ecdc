package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/room"
	"github.com/Paarth-dev-lab/SyncMate-3/pkg/metrics"
)

var ErrHubStopped = errors.New("hub stopped")

// Options tunes per-connection behaviour
type Options struct {
	OriginPatterns []string
	PingInterval   time.Duration
	SendBuffer     int
	ReadLimit      int64
	Queue          int
}

func (o Options) withDefaults() Options {
	if len(o.OriginPatterns) == 0 {
		o.OriginPatterns = []string{"*"}
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.Queue <= 0 {
		o.Queue = 1024
	}
	return o
}

type eventKind int

const (
	evConnect eventKind = iota
	evFrame
	evDisconnect
)

type hubEvent struct {
	kind  eventKind
	peer  Peer
	id    string
	frame []byte
}

// Hub serializes every membership change and relay through one loop.
// Events from one connection are handled in the order they were read.
type Hub struct {
	log  *slog.Logger
	reg  *room.Registry
	opts Options

	events  chan hubEvent
	stopped chan struct{}

	// owned by Run
	peers map[string]Peer
}

// NewHub wires the hub to a room registry
func NewHub(logger *slog.Logger, reg *room.Registry, opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		log:     logger.With("component", "hub"),
		reg:     reg,
		opts:    opts,
		events:  make(chan hubEvent, opts.Queue),
		stopped: make(chan struct{}),
		peers:   map[string]Peer{},
	}
}

// Registry exposes the room registry backing this hub
func (h *Hub) Registry() *room.Registry { return h.reg }

// Done is closed once Run has returned and every connection was hung up
func (h *Hub) Done() <-chan struct{} { return h.stopped }

// Run processes hub events until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case ev := <-h.events:
			switch ev.kind {
			case evConnect:
				h.peers[ev.peer.ID()] = ev.peer
				metrics.ConnectionsActive.Inc()
				h.log.Debug("hub.connected", "conn", ev.peer.ID())
			case evFrame:
				p, ok := h.peers[ev.id]
				if !ok {
					continue
				}
				h.safeDispatch(p, ev.frame)
			case evDisconnect:
				if _, ok := h.peers[ev.id]; !ok {
					continue
				}
				delete(h.peers, ev.id)
				metrics.ConnectionsActive.Dec()
				if left, ok := h.reg.Leave(ev.id); ok {
					h.notifyLeft(ev.id, &left)
				}
				h.log.Debug("hub.disconnected", "conn", ev.id)
			}
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// closeAll hangs up every live connection; http.Server.Shutdown does not reach hijacked ones
func (h *Hub) closeAll() {
	var wg sync.WaitGroup
	for id, p := range h.peers {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			_ = p.Close()
		}(p)
		delete(h.peers, id)
		metrics.ConnectionsActive.Dec()
	}
	wg.Wait()
	h.log.Info("hub.stopped")
}

func (h *Hub) enqueue(ctx context.Context, ev hubEvent) error {
	select {
	case h.events <- ev:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a peer with the hub
func (h *Hub) Connect(ctx context.Context, p Peer) error {
	return h.enqueue(ctx, hubEvent{kind: evConnect, peer: p})
}

// Deliver hands one inbound frame from connID to the hub
func (h *Hub) Deliver(ctx context.Context, connID string, frame []byte) error {
	return h.enqueue(ctx, hubEvent{kind: evFrame, id: connID, frame: frame})
}

// Disconnect removes connID and takes it out of its room
func (h *Hub) Disconnect(ctx context.Context, connID string) error {
	return h.enqueue(ctx, hubEvent{kind: evDisconnect, id: connID})
}

// ServeWS handles a new /ws connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := Accept(w, r, h.opts.OriginPatterns)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}
	conn.SetReadLimit(h.opts.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := NewConn(conn, h.opts.SendBuffer, h.log)
	if err := h.Connect(ctx, c); err != nil {
		_ = c.Close()
		return
	}

	// Outbound writer
	go c.WriteLoop(ctx, h.opts.PingInterval)

	for {
		frame, ok := c.Read(ctx)
		if !ok {
			break
		}
		if err := h.Deliver(ctx, c.ID(), frame); err != nil {
			break
		}
	}

	// the request ctx may already be gone; only a stopped hub skips this
	_ = h.Disconnect(context.Background(), c.ID())
	_ = c.Close()
}
