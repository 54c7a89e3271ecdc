package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/protocol"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/room"
)

const dialTimeout = 5 * time.Second

var (
	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrRequestTimeout        = errors.New("request timed out")
	ErrInvalidRoomID         = errors.New("room id must be 6 hex characters")
	ErrRoomNotFound          = errors.New("room not found")
	ErrClosed                = errors.New("client closed")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives relay pushes and rejoin outcomes. Calls come from the manager's
// own goroutines, so a handler must not wait on CreateRoom or JoinRoom.
type Handler interface {
	HandleEvent(env protocol.Envelope)
	// HandleRejoined reports a silent rejoin and the room's navigation target at that moment
	HandleRejoined(roomID, currentURL string)
	HandleRejoinFailed(roomID string, err error)
}

type NopHandler struct{}

func (NopHandler) HandleEvent(protocol.Envelope)    {}
func (NopHandler) HandleRejoined(string, string)    {}
func (NopHandler) HandleRejoinFailed(string, error) {}

type Options struct {
	URL    string
	Dialer Dialer
	Store  Store
	Logger *slog.Logger

	MaxAttempts    int           // dials per connect cycle
	Backoff        time.Duration // pause between dials
	Heartbeat      time.Duration
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{}
	}
	if o.Store == nil {
		o.Store = NewMemoryStore()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 20 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	return o
}

// Status is what a popup shows: connected means link up and in a room
type Status struct {
	Connected bool
	RoomID    string
	State     State
}

type JoinResult struct {
	RoomID     string
	CurrentURL string
}

type ackResult struct {
	ack protocol.Ack
	err error
}

// Manager owns the link to the relay, reconnects it and rejoins the stored room
type Manager struct {
	opts    Options
	log     *slog.Logger
	store   Store
	handler Handler
	now     func() time.Time

	life context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu         sync.Mutex
	state      State
	gen        uint64 // bumped per link; callbacks from older links are ignored
	link       Link
	linkStop   context.CancelFunc
	connecting chan struct{}
	pending    map[uint64]chan ackResult
	nextID     uint64
	closed     bool
}

// New builds a manager; nothing is dialed until Start or the first action
func New(opts Options, handler Handler) *Manager {
	opts = opts.withDefaults()
	if handler == nil {
		handler = NopHandler{}
	}
	life, stop := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		log:     opts.Logger.With("component", "session_manager"),
		store:   opts.Store,
		handler: handler,
		now:     time.Now,
		life:    life,
		stop:    stop,
		pending: map[uint64]chan ackResult{},
	}
}

// SetHandler swaps the handler; used when the handler needs the manager itself
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Start begins a connect cycle in the background
func (m *Manager) Start() { m.connectAsync() }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status reports link state and the stored room
func (m *Manager) Status(ctx context.Context) (Status, error) {
	sess, err := m.store.Load(ctx)
	if err != nil {
		return Status{}, err
	}
	st := m.State()
	return Status{Connected: st == Connected && sess.RoomID != "", RoomID: sess.RoomID, State: st}, nil
}

// History returns the chat history in arrival order
func (m *Manager) History(ctx context.Context) ([]protocol.ChatMessage, error) {
	sess, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return sess.Chat, nil
}

// NormalizeRoomID trims and upper-cases user input and checks it has the shape room ids have
func NormalizeRoomID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if len(id) != room.IDLength || strings.Trim(id, room.IDAlphabet) != "" {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidRoomID)
	}
	return id, nil
}

// CreateRoom asks the relay for a new room and remembers it
func (m *Manager) CreateRoom(ctx context.Context) (string, error) {
	ack, err := m.request(ctx, protocol.EventCreateRoom, nil)
	if err != nil {
		return "", err
	}
	if !ack.Success {
		return "", fmt.Errorf("create room: %w", ackError(ack))
	}
	if err := m.resetSession(ctx, ack.RoomID); err != nil {
		return "", err
	}
	m.log.Info("client.room_created", "room", ack.RoomID)
	return ack.RoomID, nil
}

// JoinRoom joins an existing room by its code
func (m *Manager) JoinRoom(ctx context.Context, raw string) (JoinResult, error) {
	id, err := NormalizeRoomID(raw)
	if err != nil {
		return JoinResult{}, err
	}
	ack, err := m.request(ctx, protocol.EventJoinRoom, protocol.JoinRequest{RoomID: id})
	if err != nil {
		return JoinResult{}, err
	}
	if !ack.Success {
		return JoinResult{}, fmt.Errorf("join %s: %w", id, ackError(ack))
	}
	if err := m.resetSession(ctx, id); err != nil {
		return JoinResult{}, err
	}
	m.log.Info("client.room_joined", "room", id)
	return JoinResult{RoomID: id, CurrentURL: ack.CurrentURL}, nil
}

// resetSession starts an empty chat history for a newly entered room
func (m *Manager) resetSession(ctx context.Context, roomID string) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	return m.store.SetRoom(ctx, roomID)
}

// Emit sends a fire-and-forget event to the room
func (m *Manager) Emit(ctx context.Context, event string, payload any) error {
	frame, err := protocol.Marshal(event, payload)
	if err != nil {
		return err
	}
	gen, err := m.ensureConnected(ctx)
	if err != nil {
		return err
	}
	return m.write(ctx, gen, frame)
}

// SendChat records the message as ours, then relays it
func (m *Manager) SendChat(ctx context.Context, text, avatar string) (protocol.ChatMessage, error) {
	msg := protocol.ChatMessage{Text: text, Avatar: avatar, Timestamp: m.now().UnixMilli()}
	mine := msg
	mine.Mine = true
	if err := m.store.AppendChat(ctx, mine); err != nil {
		return protocol.ChatMessage{}, err
	}
	return mine, m.Emit(ctx, protocol.EventChatMessage, msg)
}

// Exit forgets the room and chat, drops the link and starts a fresh connect cycle
func (m *Manager) Exit(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	link := m.detachLocked()
	m.connecting = nil // an in-flight cycle may no longer attach
	m.mu.Unlock()

	if link != nil {
		_ = link.Close()
	}
	m.log.Info("client.exit")
	m.connectAsync()
	return nil
}

// Close stops reconnecting and tears the link down
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	link := m.detachLocked()
	m.mu.Unlock()

	m.stop()
	if link != nil {
		_ = link.Close()
	}
	m.wg.Wait()
	return nil
}

// detachLocked drops the current link and fails every pending request
func (m *Manager) detachLocked() Link {
	link := m.link
	m.gen++
	m.link = nil
	if m.linkStop != nil {
		m.linkStop()
		m.linkStop = nil
	}
	m.state = Disconnected
	for id, ch := range m.pending {
		ch <- ackResult{err: ErrTransportDisconnected}
		delete(m.pending, id)
	}
	return link
}

func (m *Manager) connectAsync() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		done := make(chan struct{})
		close(done)
		return done
	}
	if m.state != Disconnected && m.connecting != nil {
		return m.connecting
	}
	m.state = Connecting
	done := make(chan struct{})
	m.connecting = done
	m.wg.Add(1)
	go m.connectLoop(done)
	return done
}

func (m *Manager) connectLoop(done chan struct{}) {
	defer m.wg.Done()
	defer close(done)

	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(m.opts.Backoff):
			case <-m.life.Done():
				return
			}
		}

		dctx, cancel := context.WithTimeout(m.life, dialTimeout)
		link, err := m.opts.Dialer.Dial(dctx, m.opts.URL)
		cancel()
		if err != nil {
			m.log.Warn("client.dial_failed", "attempt", attempt, "err", err)
			continue
		}

		gen, ok := m.attach(link, done)
		if !ok {
			_ = link.Close()
			return
		}
		m.log.Info("client.connected", "attempt", attempt)
		m.rejoin(gen)

		m.mu.Lock()
		if m.gen == gen && m.state == Connecting {
			m.state = Connected
		}
		m.mu.Unlock()
		return
	}

	m.log.Warn("client.reconnect_exhausted", "attempts", m.opts.MaxAttempts)
	m.mu.Lock()
	if m.connecting == done {
		m.state = Disconnected
	}
	m.mu.Unlock()
}

func (m *Manager) attach(link Link, done chan struct{}) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.connecting != done {
		return 0, false
	}
	m.gen++
	gen := m.gen
	lctx, cancel := context.WithCancel(m.life)
	m.link = link
	m.linkStop = cancel

	m.wg.Add(2)
	go m.readLoop(lctx, gen, link)
	go m.heartbeat(lctx, gen, link)
	return gen, true
}

// rejoin re-enters the stored room once; a dead room is forgotten
func (m *Manager) rejoin(gen uint64) {
	sess, err := m.store.Load(m.life)
	if err != nil {
		m.log.Error("client.store_load", "err", err)
		return
	}
	if sess.RoomID == "" {
		return
	}

	ack, err := m.roundTrip(m.life, gen, protocol.EventJoinRoom, protocol.JoinRequest{RoomID: sess.RoomID})
	if err != nil {
		m.log.Warn("client.rejoin_failed", "room", sess.RoomID, "err", err)
		return
	}
	if !ack.Success {
		err := fmt.Errorf("rejoin %s: %w", sess.RoomID, ackError(ack))
		if errors.Is(err, ErrRoomNotFound) {
			_ = m.store.SetRoom(m.life, "")
		}
		m.log.Warn("client.rejoin_failed", "room", sess.RoomID, "err", err)
		m.currentHandler().HandleRejoinFailed(sess.RoomID, err)
		return
	}
	m.log.Info("client.rejoined", "room", sess.RoomID, "url", ack.CurrentURL)
	m.currentHandler().HandleRejoined(sess.RoomID, ack.CurrentURL)
}

func (m *Manager) ensureConnected(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if m.state == Connected {
		gen := m.gen
		m.mu.Unlock()
		return gen, nil
	}
	m.mu.Unlock()

	done := m.connectAsync()
	select {
	case <-done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return 0, ErrTransportDisconnected
	}
	return m.gen, nil
}

func (m *Manager) request(ctx context.Context, event string, payload any) (protocol.Ack, error) {
	gen, err := m.ensureConnected(ctx)
	if err != nil {
		return protocol.Ack{}, err
	}
	return m.roundTrip(ctx, gen, event, payload)
}

// roundTrip sends a request with a fresh id and waits for its ack
func (m *Manager) roundTrip(ctx context.Context, gen uint64, event string, payload any) (protocol.Ack, error) {
	env, err := protocol.New(event, payload)
	if err != nil {
		return protocol.Ack{}, err
	}

	m.mu.Lock()
	if m.gen != gen || m.link == nil {
		m.mu.Unlock()
		return protocol.Ack{}, ErrTransportDisconnected
	}
	m.nextID++
	env.ID = m.nextID
	ch := make(chan ackResult, 1)
	m.pending[env.ID] = ch
	m.mu.Unlock()

	frame, err := protocol.Encode(env)
	if err != nil {
		m.dropPending(env.ID)
		return protocol.Ack{}, err
	}
	if err := m.write(ctx, gen, frame); err != nil {
		m.dropPending(env.ID)
		return protocol.Ack{}, err
	}

	timer := time.NewTimer(m.opts.RequestTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.ack, res.err
	case <-timer.C:
		m.dropPending(env.ID)
		return protocol.Ack{}, fmt.Errorf("%s: %w", event, ErrRequestTimeout)
	case <-ctx.Done():
		m.dropPending(env.ID)
		return protocol.Ack{}, ctx.Err()
	}
}

func (m *Manager) dropPending(id uint64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func (m *Manager) write(ctx context.Context, gen uint64, frame []byte) error {
	m.mu.Lock()
	link := m.link
	current := m.gen == gen
	m.mu.Unlock()
	if !current || link == nil {
		return ErrTransportDisconnected
	}
	if err := link.Write(ctx, frame); err != nil {
		m.linkLost(gen, err)
		return fmt.Errorf("%w: %v", ErrTransportDisconnected, err)
	}
	return nil
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, link Link) {
	defer m.wg.Done()
	for {
		frame, err := link.Read(ctx)
		if err != nil {
			m.linkLost(gen, err)
			return
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			m.log.Warn("client.bad_frame", "err", err)
			continue
		}
		if env.Event == protocol.EventAck {
			m.resolve(env)
			continue
		}
		if !m.isCurrent(gen) {
			return
		}
		if env.Event == protocol.EventChatMessage {
			var msg protocol.ChatMessage
			if err := protocol.DecodePayload(env, &msg); err == nil {
				msg.Mine = false
				if err := m.store.AppendChat(ctx, msg); err != nil {
					m.log.Error("client.store_append", "err", err)
				}
			}
		}
		m.currentHandler().HandleEvent(env)
	}
}

func (m *Manager) heartbeat(ctx context.Context, gen uint64, link Link) {
	defer m.wg.Done()
	ping, _ := protocol.Marshal(protocol.EventPing, nil)

	t := time.NewTicker(m.opts.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := link.Write(ctx, ping); err != nil {
				m.linkLost(gen, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) resolve(env protocol.Envelope) {
	var ack protocol.Ack
	err := protocol.DecodePayload(env, &ack)

	m.mu.Lock()
	ch, ok := m.pending[env.ID]
	delete(m.pending, env.ID)
	m.mu.Unlock()
	if !ok {
		m.log.Debug("client.stray_ack", "id", env.ID)
		return
	}
	ch <- ackResult{ack: ack, err: err}
}

// linkLost handles transport loss: the store is left alone and a bounded reconnect starts
func (m *Manager) linkLost(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.link == nil {
		m.mu.Unlock()
		return
	}
	link := m.detachLocked()
	closed := m.closed
	m.mu.Unlock()

	_ = link.Close()
	m.log.Warn("client.link_lost", "err", cause)
	if !closed {
		m.connectAsync()
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) currentHandler() Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

func ackError(ack protocol.Ack) error {
	switch ack.Error {
	case protocol.ErrTextRoomNotFound:
		return ErrRoomNotFound
	case "":
		return errors.New("rejected by relay")
	default:
		return errors.New(ack.Error)
	}
}
