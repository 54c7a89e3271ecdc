package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/client"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/protocol"
)

const (
	// DriftTolerance is how far apart (seconds) playback positions may be before a seek
	DriftTolerance = 0.5

	PlaybackLatch   = 300 * time.Millisecond
	NavigationLatch = 2 * time.Second

	// PlayerRefreshInterval is how often Watch looks for a replaced video element
	PlayerRefreshInterval = 2 * time.Second
	// RecoveryInterval is how often Watch lines the sidebar up with the session
	RecoveryInterval = 3 * time.Second

	ExitPrompt = "Leave this sync room?"
)

// Player is the host page's video element
type Player interface {
	CurrentTime() float64
	Rate() float64
	Seek(seconds float64)
	Play() error
	Pause()
}

// PlayerFinder returns the page's current video element, nil when there is none
type PlayerFinder func() Player

// Navigator is the host tab's location
type Navigator interface {
	CurrentURL() string
	Navigate(url string)
}

// ChatView renders the sidebar
type ChatView interface {
	Show(roomID string, history []protocol.ChatMessage)
	Append(msg protocol.ChatMessage)
	Presence(event string, p protocol.Presence)
	AvatarChanged(u protocol.AvatarUpdate)
	Hide()
}

// SignalSink takes opaque peer-to-peer negotiation payloads
type SignalSink interface {
	Signal(payload json.RawMessage)
}

// Session is the part of the connection manager the syncer drives
type Session interface {
	Emit(ctx context.Context, event string, payload any) error
	History(ctx context.Context) ([]protocol.ChatMessage, error)
	Status(ctx context.Context) (client.Status, error)
	Exit(ctx context.Context) error
}

// Confirm asks the user a yes/no question and may block as long as it likes
type Confirm func(ctx context.Context, prompt string) (bool, error)

var ErrNotInRoom = errors.New("not in a room")

// Syncer applies remote events to the page and reports local ones, without echoing
// remotely applied changes back to the room
type Syncer struct {
	sess    Session
	nav     Navigator
	chat    ChatView
	signals SignalSink
	log     *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	player    Player
	roomID    string
	playUntil time.Time // playback latch
	navUntil  time.Time // navigation latch
	navTarget string

	playerEvery  time.Duration
	recoverEvery time.Duration
}

type Option func(*Syncer)

// WithPollIntervals overrides how often Watch refreshes the player and recovers the session
func WithPollIntervals(player, recovery time.Duration) Option {
	return func(s *Syncer) {
		s.playerEvery = player
		s.recoverEvery = recovery
	}
}

// WithClock swaps time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// New wires a syncer; nil collaborators are replaced with no-ops
func New(sess Session, nav Navigator, chat ChatView, signals SignalSink, log *slog.Logger, opts ...Option) *Syncer {
	if nav == nil {
		nav = nopNavigator{}
	}
	if chat == nil {
		chat = nopChat{}
	}
	if signals == nil {
		signals = nopSignals{}
	}
	s := &Syncer{
		sess:    sess,
		nav:     nav,
		chat:    chat,
		signals: signals,
		log:     log.With("component", "syncer"),
		now:     time.Now,

		playerEvery:  PlayerRefreshInterval,
		recoverEvery: RecoveryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.playerEvery <= 0 {
		s.playerEvery = PlayerRefreshInterval
	}
	if s.recoverEvery <= 0 {
		s.recoverEvery = RecoveryInterval
	}
	return s
}

// AttachPlayer binds the current video element; nil detaches it
func (s *Syncer) AttachPlayer(p Player) {
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
}

// RefreshPlayer binds whatever video element the page holds now.
// Returns true when the player changed. Players must be comparable.
func (s *Syncer) RefreshPlayer(find PlayerFinder) bool {
	p := find()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == s.player {
		return false
	}
	s.player = p
	return true
}

func (s *Syncer) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Syncer) PlaybackLatched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.playUntil)
}

func (s *Syncer) NavigationLatched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.navUntil)
}

// ApplyPlayback converges the local player on a remote action.
// Returns false when there is no player or the action is not playback.
func (s *Syncer) ApplyPlayback(a protocol.SyncAction) bool {
	s.mu.Lock()
	p := s.player
	if p == nil || !a.IsPlayback() {
		s.mu.Unlock()
		return false
	}
	s.playUntil = s.now().Add(PlaybackLatch)
	s.mu.Unlock()

	if math.Abs(p.CurrentTime()-a.CurrentTime) > DriftTolerance {
		p.Seek(a.CurrentTime)
	}
	switch a.Type {
	case protocol.ActionPlay:
		if err := p.Play(); err != nil {
			s.log.Debug("syncer.play_rejected", "err", err)
		}
	case protocol.ActionPause:
		p.Pause()
	}

	// the latch runs from when the player settled
	s.mu.Lock()
	s.playUntil = s.now().Add(PlaybackLatch)
	s.mu.Unlock()
	return true
}

// ApplyNavigation moves the tab to a remote target unless it is already there.
// Returns true when a navigation happened.
func (s *Syncer) ApplyNavigation(target string) bool {
	want := normalizeURL(target)
	if want == "" {
		return false
	}

	current := normalizeURL(s.nav.CurrentURL())

	s.mu.Lock()
	if current == want {
		s.mu.Unlock()
		return false
	}
	// same target already underway
	if s.now().Before(s.navUntil) && normalizeURL(s.navTarget) == want {
		s.mu.Unlock()
		return false
	}
	s.navUntil = s.now().Add(NavigationLatch)
	s.navTarget = target
	s.mu.Unlock()

	s.log.Info("syncer.navigate", "url", target)
	s.nav.Navigate(target)
	return true
}

// LocalPlayback reports a play/pause/seeked from the page unless we caused it
func (s *Syncer) LocalPlayback(ctx context.Context, action string) (bool, error) {
	s.mu.Lock()
	p := s.player
	latched := s.now().Before(s.playUntil)
	s.mu.Unlock()

	a := protocol.SyncAction{Type: action}
	if p == nil || latched || !a.IsPlayback() {
		return false, nil
	}
	a.CurrentTime = p.CurrentTime()
	a.Rate = p.Rate()
	if err := s.sess.Emit(ctx, protocol.EventSyncAction, a); err != nil {
		return false, err
	}
	return true, nil
}

// LocalNavigation reports a page navigation unless we caused it
func (s *Syncer) LocalNavigation(ctx context.Context, url string) (bool, error) {
	if s.NavigationLatched() || url == "" {
		return false, nil
	}
	if err := s.sess.Emit(ctx, protocol.EventSyncShorts, protocol.NavUpdate{URL: url}); err != nil {
		return false, err
	}
	return true, nil
}

// SendSignal forwards a local negotiation payload to the room
func (s *Syncer) SendSignal(ctx context.Context, payload json.RawMessage) error {
	return s.sess.Emit(ctx, protocol.EventSignalPeer, payload)
}

// UpdateAvatar announces our avatar to the room
func (s *Syncer) UpdateAvatar(ctx context.Context, avatar string) error {
	return s.sess.Emit(ctx, protocol.EventUpdateAvatar, protocol.AvatarUpdate{Avatar: avatar})
}

// EnterRoom shows the sidebar with the stored history and follows the room's url
func (s *Syncer) EnterRoom(ctx context.Context, roomID, currentURL string) error {
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()

	if err := s.replay(ctx, roomID); err != nil {
		return err
	}
	if currentURL != "" {
		s.ApplyNavigation(currentURL)
	}
	return nil
}

// Reattach replays the history after the host page reloaded
func (s *Syncer) Reattach(ctx context.Context) error {
	roomID := s.RoomID()
	if roomID == "" {
		return ErrNotInRoom
	}
	return s.replay(ctx, roomID)
}

func (s *Syncer) replay(ctx context.Context, roomID string) error {
	history, err := s.sess.History(ctx)
	if err != nil {
		return err
	}
	s.chat.Show(roomID, history)
	return nil
}

// Recover lines the sidebar up with the session: a connected session in another room is
// entered, a room the session no longer holds is left. Returns true when anything changed.
func (s *Syncer) Recover(ctx context.Context) (bool, error) {
	st, err := s.sess.Status(ctx)
	if err != nil {
		return false, err
	}
	shown := s.RoomID()
	switch {
	case st.RoomID == "" && shown != "":
		s.log.Info("syncer.recover_leave", "room", shown)
		s.leave()
		return true, nil
	case st.Connected && st.RoomID != shown:
		s.log.Info("syncer.recover_enter", "room", st.RoomID)
		return true, s.EnterRoom(ctx, st.RoomID, "")
	}
	return false, nil
}

// Watch refreshes the player and recovers the session on their intervals until ctx ends.
// A nil find skips the player refresh.
func (s *Syncer) Watch(ctx context.Context, find PlayerFinder) {
	players := time.NewTicker(s.playerEvery)
	defer players.Stop()
	recovery := time.NewTicker(s.recoverEvery)
	defer recovery.Stop()

	for {
		select {
		case <-players.C:
			if find != nil && s.RefreshPlayer(find) {
				s.log.Debug("syncer.player_attached")
			}
		case <-recovery.C:
			if _, err := s.Recover(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("syncer.recover_failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RequestExit leaves the room once the user confirms
func (s *Syncer) RequestExit(ctx context.Context, confirm Confirm) (bool, error) {
	ok, err := confirm(ctx, ExitPrompt)
	if err != nil || !ok {
		return false, err
	}
	if err := s.sess.Exit(ctx); err != nil {
		return false, err
	}
	s.leave()
	return true, nil
}

// leave hides the sidebar once; later calls are no-ops
func (s *Syncer) leave() {
	s.mu.Lock()
	shown := s.roomID
	s.roomID = ""
	s.mu.Unlock()
	if shown != "" {
		s.chat.Hide()
	}
}

// HandleEvent routes a relay push to the matching collaborator
func (s *Syncer) HandleEvent(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventSyncAction:
		var a protocol.SyncAction
		if s.decode(env, &a) {
			s.ApplyPlayback(a)
		}
	case protocol.EventSyncShorts:
		var nav protocol.NavUpdate
		if s.decode(env, &nav) {
			s.ApplyNavigation(nav.URL)
		}
	case protocol.EventChatMessage:
		var msg protocol.ChatMessage
		if s.decode(env, &msg) {
			s.chat.Append(msg)
		}
	case protocol.EventSignalPeer:
		s.signals.Signal(env.Payload)
	case protocol.EventUserJoined, protocol.EventUserLeft:
		var p protocol.Presence
		if s.decode(env, &p) {
			s.chat.Presence(env.Event, p)
		}
	case protocol.EventUpdateAvatar:
		var u protocol.AvatarUpdate
		if s.decode(env, &u) {
			s.chat.AvatarChanged(u)
		}
	default:
		s.log.Debug("syncer.ignored", "event", env.Event)
	}
}

// HandleRejoined catches the tab up on navigation the room did while the link was down
func (s *Syncer) HandleRejoined(roomID, currentURL string) {
	s.log.Info("syncer.rejoined", "room", roomID)
	if currentURL != "" {
		s.ApplyNavigation(currentURL)
	}
}

// HandleRejoinFailed drops the sidebar for a room that no longer exists
func (s *Syncer) HandleRejoinFailed(roomID string, err error) {
	s.log.Warn("syncer.rejoin_failed", "room", roomID, "err", err)
	s.leave()
}

func (s *Syncer) decode(env protocol.Envelope, v any) bool {
	if err := protocol.DecodePayload(env, v); err != nil {
		s.log.Warn("syncer.bad_payload", "event", env.Event, "err", err)
		return false
	}
	return true
}

// normalizeURL drops trailing slashes; everything else must match exactly
func normalizeURL(u string) string {
	return strings.TrimRight(u, "/")
}

type nopNavigator struct{}

func (nopNavigator) CurrentURL() string { return "" }
func (nopNavigator) Navigate(string)    {}

type nopChat struct{}

func (nopChat) Show(string, []protocol.ChatMessage) {}
func (nopChat) Append(protocol.ChatMessage)         {}
func (nopChat) Presence(string, protocol.Presence)  {}
func (nopChat) AvatarChanged(protocol.AvatarUpdate) {}
func (nopChat) Hide()                               {}

type nopSignals struct{}

func (nopSignals) Signal(json.RawMessage) {}
