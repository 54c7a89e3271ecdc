package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/protocol"
)

// lockedWriter serializes output from the prompt and the read goroutine
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// termPlayer is a clock-driven stand-in for a video element
type termPlayer struct {
	mu      sync.Mutex
	out     io.Writer
	now     func() time.Time
	pos     float64
	rate    float64
	playing bool
	since   time.Time
}

func newTermPlayer(out io.Writer) *termPlayer {
	return &termPlayer{out: out, now: time.Now, rate: 1}
}

func (p *termPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *termPlayer) positionLocked() float64 {
	if !p.playing {
		return p.pos
	}
	return p.pos + p.now().Sub(p.since).Seconds()*p.rate
}

func (p *termPlayer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *termPlayer) Seek(seconds float64) {
	p.mu.Lock()
	p.pos = seconds
	p.since = p.now()
	p.mu.Unlock()
	fmt.Fprintf(p.out, "[player] at %.1fs\n", seconds)
}

func (p *termPlayer) Play() error {
	p.mu.Lock()
	if !p.playing {
		p.pos = p.positionLocked()
		p.since = p.now()
		p.playing = true
	}
	pos := p.pos
	p.mu.Unlock()
	fmt.Fprintf(p.out, "[player] playing from %.1fs\n", pos)
	return nil
}

func (p *termPlayer) Pause() {
	p.mu.Lock()
	p.pos = p.positionLocked()
	p.playing = false
	pos := p.pos
	p.mu.Unlock()
	fmt.Fprintf(p.out, "[player] paused at %.1fs\n", pos)
}

type termNav struct {
	mu  sync.Mutex
	out io.Writer
	url string
}

func newTermNav(out io.Writer) *termNav { return &termNav{out: out} }

func (n *termNav) CurrentURL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.url
}

func (n *termNav) Navigate(url string) {
	n.mu.Lock()
	n.url = url
	n.mu.Unlock()
	fmt.Fprintf(n.out, "[tab] %s\n", url)
}

type termChat struct {
	out io.Writer
}

func newTermChat(out io.Writer) *termChat { return &termChat{out: out} }

func (c *termChat) Show(roomID string, history []protocol.ChatMessage) {
	fmt.Fprintf(c.out, "-- room %s --\n", roomID)
	for _, msg := range history {
		c.Append(msg)
	}
}

func (c *termChat) Append(msg protocol.ChatMessage) {
	who := msg.Avatar
	if msg.Mine {
		who = "me"
	}
	fmt.Fprintf(c.out, "%s: %s\n", who, msg.Text)
}

func (c *termChat) Presence(event string, p protocol.Presence) {
	verb := "joined"
	if event == protocol.EventUserLeft {
		verb = "left"
	}
	fmt.Fprintf(c.out, "* %s %s\n", shortID(p.UserID), verb)
}

func (c *termChat) AvatarChanged(u protocol.AvatarUpdate) {
	fmt.Fprintf(c.out, "* %s is now %s\n", shortID(u.UserID), u.Avatar)
}

func (c *termChat) Hide() {
	fmt.Fprintln(c.out, "-- left room --")
}

type termSignals struct {
	w io.Writer
}

func (t termSignals) Signal(payload json.RawMessage) {
	fmt.Fprintf(t.w, "[signal] %d bytes\n", len(payload))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
