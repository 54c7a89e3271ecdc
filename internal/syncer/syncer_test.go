package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/client"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/protocol"
)

type fakePlayer struct {
	pos    float64
	rate   float64
	seeks  []float64
	plays  int
	pauses int
}

func (p *fakePlayer) CurrentTime() float64 { return p.pos }
func (p *fakePlayer) Rate() float64        { return p.rate }
func (p *fakePlayer) Seek(t float64)       { p.seeks = append(p.seeks, t); p.pos = t }
func (p *fakePlayer) Play() error          { p.plays++; return nil }
func (p *fakePlayer) Pause()               { p.pauses++ }

// fakeNav only moves when follow is set, like a page that loads instantly
type fakeNav struct {
	url    string
	follow bool
	navs   []string
}

func (n *fakeNav) CurrentURL() string { return n.url }
func (n *fakeNav) Navigate(u string) {
	n.navs = append(n.navs, u)
	if n.follow {
		n.url = u
	}
}

type emitted struct {
	event   string
	payload any
}

type fakeSession struct {
	emits   []emitted
	history []protocol.ChatMessage
	exits   int
	status  client.Status
	err     error
}

func (s *fakeSession) Emit(_ context.Context, event string, payload any) error {
	if s.err != nil {
		return s.err
	}
	s.emits = append(s.emits, emitted{event, payload})
	return nil
}

func (s *fakeSession) History(context.Context) ([]protocol.ChatMessage, error) {
	return s.history, nil
}

func (s *fakeSession) Status(context.Context) (client.Status, error) {
	return s.status, nil
}

func (s *fakeSession) Exit(context.Context) error {
	s.exits++
	return nil
}

type fakeChat struct {
	shown    [][]protocol.ChatMessage
	appended []protocol.ChatMessage
	presence []string
	avatars  []protocol.AvatarUpdate
	hidden   int
}

func (c *fakeChat) Show(_ string, h []protocol.ChatMessage) { c.shown = append(c.shown, h) }
func (c *fakeChat) Append(m protocol.ChatMessage)           { c.appended = append(c.appended, m) }
func (c *fakeChat) Presence(event string, p protocol.Presence) {
	c.presence = append(c.presence, event+":"+p.UserID)
}
func (c *fakeChat) AvatarChanged(u protocol.AvatarUpdate) { c.avatars = append(c.avatars, u) }
func (c *fakeChat) Hide()                                 { c.hidden++ }

type fakeSignals struct{ got []string }

func (f *fakeSignals) Signal(p json.RawMessage) { f.got = append(f.got, string(p)) }

type fixture struct {
	s       *Syncer
	now     time.Time
	player  *fakePlayer
	nav     *fakeNav
	sess    *fakeSession
	chat    *fakeChat
	signals *fakeSignals
}

func newFixture() *fixture {
	f := &fixture{
		now:     time.Unix(1_700_000_000, 0),
		player:  &fakePlayer{rate: 1},
		nav:     &fakeNav{url: "https://www.youtube.com/shorts/aaa", follow: true},
		sess:    &fakeSession{},
		chat:    &fakeChat{},
		signals: &fakeSignals{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.s = New(f.sess, f.nav, f.chat, f.signals, log, WithClock(func() time.Time { return f.now }))
	f.s.AttachPlayer(f.player)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func envelope(t *testing.T, event string, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.New(event, payload)
	require.NoError(t, err)
	return env
}

func TestPlaybackWithinToleranceDoesNotSeek(t *testing.T) {
	f := newFixture()
	f.player.pos = 10.0

	require.True(t, f.s.ApplyPlayback(protocol.SyncAction{Type: protocol.ActionPlay, CurrentTime: 10.3}))
	assert.Empty(t, f.player.seeks)
	assert.Equal(t, 1, f.player.plays)
	assert.Equal(t, 10.0, f.player.pos)
}

func TestPlaybackBeyondToleranceSeeks(t *testing.T) {
	f := newFixture()
	f.player.pos = 10.0

	require.True(t, f.s.ApplyPlayback(protocol.SyncAction{Type: protocol.ActionPause, CurrentTime: 12.0}))
	assert.Equal(t, []float64{12.0}, f.player.seeks)
	assert.Equal(t, 12.0, f.player.pos)
	assert.Equal(t, 1, f.player.pauses)
}

func TestPlaybackLatchSuppressesEcho(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.s.ApplyPlayback(protocol.SyncAction{Type: protocol.ActionSeeked, CurrentTime: 30})
	assert.True(t, f.s.PlaybackLatched())

	// the seek we just applied fires a local "seeked"
	sent, err := f.s.LocalPlayback(ctx, protocol.ActionSeeked)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, f.sess.emits)

	f.advance(PlaybackLatch)
	assert.False(t, f.s.PlaybackLatched())
	sent, err = f.s.LocalPlayback(ctx, protocol.ActionPause)
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, f.sess.emits, 1)
	assert.Equal(t, protocol.EventSyncAction, f.sess.emits[0].event)
	assert.Equal(t, protocol.SyncAction{Type: protocol.ActionPause, CurrentTime: 30, Rate: 1}, f.sess.emits[0].payload)
}

func TestPlaybackWithoutPlayerIsDropped(t *testing.T) {
	f := newFixture()
	f.s.AttachPlayer(nil)

	assert.False(t, f.s.ApplyPlayback(protocol.SyncAction{Type: protocol.ActionPlay, CurrentTime: 5}))
	assert.False(t, f.s.PlaybackLatched())

	sent, err := f.s.LocalPlayback(context.Background(), protocol.ActionPlay)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestUnknownActionIsIgnored(t *testing.T) {
	f := newFixture()
	assert.False(t, f.s.ApplyPlayback(protocol.SyncAction{Type: "ratechange", CurrentTime: 99}))
	assert.Empty(t, f.player.seeks)
}

func TestNavigationTrailingSlashIsSameTarget(t *testing.T) {
	f := newFixture()
	f.nav.url = "https://x/y/"

	assert.False(t, f.s.ApplyNavigation("https://x/y"))
	assert.Empty(t, f.nav.navs)
	assert.False(t, f.s.NavigationLatched())
}

func TestNavigationToNewTargetLatches(t *testing.T) {
	f := newFixture()
	f.nav.url = "https://x/y/"

	require.True(t, f.s.ApplyNavigation("https://x/z"))
	assert.Equal(t, []string{"https://x/z"}, f.nav.navs)
	assert.True(t, f.s.NavigationLatched())

	// the page reports the navigation we caused
	sent, err := f.s.LocalNavigation(context.Background(), "https://x/z")
	require.NoError(t, err)
	assert.False(t, sent)

	f.advance(NavigationLatch)
	assert.False(t, f.s.NavigationLatched())
}

func TestNavigationIsIdempotent(t *testing.T) {
	for _, follow := range []bool{true, false} {
		f := newFixture()
		f.nav.follow = follow

		f.s.ApplyNavigation("https://x/z")
		f.s.ApplyNavigation("https://x/z")
		assert.Len(t, f.nav.navs, 1, "follow=%v", follow)
	}
}

func TestLatchesAreIndependent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.s.ApplyNavigation("https://x/z")
	sent, err := f.s.LocalPlayback(ctx, protocol.ActionPlay)
	require.NoError(t, err)
	assert.True(t, sent)

	f.advance(NavigationLatch)
	f.s.ApplyPlayback(protocol.SyncAction{Type: protocol.ActionPlay, CurrentTime: 1})
	sent, err = f.s.LocalNavigation(ctx, "https://x/other")
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, protocol.NavUpdate{URL: "https://x/other"}, f.sess.emits[1].payload)
}

func TestEnterRoomReplaysHistoryAndFollowsURL(t *testing.T) {
	f := newFixture()
	f.sess.history = []protocol.ChatMessage{{Text: "hi", Mine: true}, {Text: "yo"}}

	require.NoError(t, f.s.EnterRoom(context.Background(), "AB12CD", "https://www.youtube.com/shorts/bbb"))
	assert.Equal(t, "AB12CD", f.s.RoomID())
	require.Len(t, f.chat.shown, 1)
	assert.Equal(t, f.sess.history, f.chat.shown[0])
	assert.Equal(t, []string{"https://www.youtube.com/shorts/bbb"}, f.nav.navs)

	// page reload
	require.NoError(t, f.s.Reattach(context.Background()))
	assert.Len(t, f.chat.shown, 2)
}

func TestReattachOutsideRoom(t *testing.T) {
	f := newFixture()
	require.ErrorIs(t, f.s.Reattach(context.Background()), ErrNotInRoom)
	assert.Empty(t, f.chat.shown)
}

func TestRequestExitNeedsConfirmation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.s.EnterRoom(ctx, "AB12CD", ""))

	var prompt string
	left, err := f.s.RequestExit(ctx, func(_ context.Context, p string) (bool, error) {
		prompt = p
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, left)
	assert.Equal(t, ExitPrompt, prompt)
	assert.Zero(t, f.sess.exits)
	assert.Equal(t, "AB12CD", f.s.RoomID())

	left, err = f.s.RequestExit(ctx, func(context.Context, string) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.True(t, left)
	assert.Equal(t, 1, f.sess.exits)
	assert.Empty(t, f.s.RoomID())
	assert.Equal(t, 1, f.chat.hidden)
}

func TestRequestExitPromptError(t *testing.T) {
	f := newFixture()
	boom := errors.New("prompt closed")
	left, err := f.s.RequestExit(context.Background(), func(context.Context, string) (bool, error) { return false, boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, left)
	assert.Zero(t, f.sess.exits)
}

func TestHandleEventRouting(t *testing.T) {
	f := newFixture()
	f.player.pos = 0

	f.s.HandleEvent(envelope(t, protocol.EventSyncAction, protocol.SyncAction{Type: protocol.ActionSeeked, CurrentTime: 42}))
	assert.Equal(t, []float64{42}, f.player.seeks)

	f.s.HandleEvent(envelope(t, protocol.EventSyncShorts, protocol.NavUpdate{URL: "https://x/q"}))
	assert.Equal(t, []string{"https://x/q"}, f.nav.navs)

	f.s.HandleEvent(envelope(t, protocol.EventChatMessage, protocol.ChatMessage{Text: "hey"}))
	require.Len(t, f.chat.appended, 1)
	assert.Equal(t, "hey", f.chat.appended[0].Text)

	f.s.HandleEvent(envelope(t, protocol.EventSignalPeer, json.RawMessage(`{"sdp":"x"}`)))
	assert.Equal(t, []string{`{"sdp":"x"}`}, f.signals.got)

	f.s.HandleEvent(envelope(t, protocol.EventUserJoined, protocol.Presence{UserID: "u1"}))
	f.s.HandleEvent(envelope(t, protocol.EventUserLeft, protocol.Presence{UserID: "u1"}))
	assert.Equal(t, []string{"user_joined:u1", "user_left:u1"}, f.chat.presence)

	f.s.HandleEvent(envelope(t, protocol.EventUpdateAvatar, protocol.AvatarUpdate{UserID: "u2", Avatar: "fox"}))
	assert.Equal(t, []protocol.AvatarUpdate{{UserID: "u2", Avatar: "fox"}}, f.chat.avatars)

	// garbage is dropped without side effects
	f.s.HandleEvent(protocol.Envelope{Event: protocol.EventSyncAction, Payload: json.RawMessage(`[1,2]`)})
	f.s.HandleEvent(protocol.Envelope{Event: "mystery"})
	assert.Len(t, f.player.seeks, 1)
}

func TestRejoinFailureHidesSidebar(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.s.EnterRoom(context.Background(), "AB12CD", ""))

	f.s.HandleRejoinFailed("AB12CD", errors.New("room not found"))
	assert.Empty(t, f.s.RoomID())
	assert.Equal(t, 1, f.chat.hidden)

	f.s.HandleRejoinFailed("AB12CD", errors.New("room not found"))
	assert.Equal(t, 1, f.chat.hidden)
}

func TestOutboundHelpers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.s.UpdateAvatar(ctx, "owl"))
	require.NoError(t, f.s.SendSignal(ctx, json.RawMessage(`{"candidate":1}`)))
	require.Len(t, f.sess.emits, 2)
	assert.Equal(t, protocol.EventUpdateAvatar, f.sess.emits[0].event)
	assert.Equal(t, protocol.EventSignalPeer, f.sess.emits[1].event)

	f.sess.err = errors.New("offline")
	_, err := f.s.LocalNavigation(ctx, "https://x/1")
	require.Error(t, err)
}

func TestRejoinFollowsTheRoomURL(t *testing.T) {
	f := newFixture()

	f.s.HandleRejoined("AB12CD", "https://www.youtube.com/shorts/missed")
	assert.Equal(t, []string{"https://www.youtube.com/shorts/missed"}, f.nav.navs)
	assert.True(t, f.s.NavigationLatched())

	// nothing recorded for the room yet
	f.s.HandleRejoined("AB12CD", "")
	assert.Len(t, f.nav.navs, 1)
}

func TestRecoverLinesUpWithSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// stored room but the link is not up yet
	f.sess.status = client.Status{RoomID: "AB12CD", State: client.Connecting}
	changed, err := f.s.Recover(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, f.s.RoomID())

	f.sess.status = client.Status{Connected: true, RoomID: "AB12CD", State: client.Connected}
	changed, err = f.s.Recover(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "AB12CD", f.s.RoomID())
	require.Len(t, f.chat.shown, 1)

	changed, err = f.s.Recover(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, f.chat.shown, 1)

	// the rejoin failed after the sidebar was shown for the stored room
	f.sess.status = client.Status{State: client.Connected}
	changed, err = f.s.Recover(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, f.s.RoomID())
	assert.Equal(t, 1, f.chat.hidden)
}

func TestRefreshPlayerRebindsReplacedElement(t *testing.T) {
	f := newFixture()
	current := Player(f.player)
	find := func() Player { return current }

	assert.False(t, f.s.RefreshPlayer(find))

	next := &fakePlayer{rate: 1}
	current = next
	assert.True(t, f.s.RefreshPlayer(find))
	f.s.ApplyPlayback(protocol.SyncAction{Type: protocol.ActionSeeked, CurrentTime: 7})
	assert.Equal(t, []float64{7}, next.seeks)
	assert.Empty(t, f.player.seeks)

	current = nil
	assert.True(t, f.s.RefreshPlayer(find))
	assert.False(t, f.s.ApplyPlayback(protocol.SyncAction{Type: protocol.ActionPlay, CurrentTime: 1}))
}

func TestWatchRefreshesAndRecovers(t *testing.T) {
	sess := &fakeSession{status: client.Status{Connected: true, RoomID: "AB12CD", State: client.Connected}}
	chat := &fakeChat{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(sess, nil, chat, nil, log, WithPollIntervals(5*time.Millisecond, 5*time.Millisecond))

	next := &fakePlayer{rate: 1}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Watch(ctx, func() Player { return next })
	}()

	require.Eventually(t, func() bool { return s.RoomID() == "AB12CD" }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return s.ApplyPlayback(protocol.SyncAction{Type: protocol.ActionPause, CurrentTime: 3})
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Len(t, chat.shown, 1)
	assert.NotZero(t, next.pauses)
}
