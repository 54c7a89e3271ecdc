package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/client"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/protocol"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/syncer"
)

const helpText = `commands:
  create              create a room
  join <room-id>      join a room
  play | pause        local playback
  seek <seconds>      local seek
  nav <url>           local navigation
  say <text>          send a chat message
  avatar <emoji>      change your avatar
  status              connection and room
  history             replay the chat
  exit                leave the room
  quit                close syncmate (the room is kept for next time)`

// REPL reads commands and drives the session
type REPL struct {
	in     *bufio.Reader
	out    io.Writer
	m      *client.Manager
	s      *syncer.Syncer
	player *termPlayer
	nav    *termNav
	avatar string
}

func newREPL(in io.Reader, out io.Writer, m *client.Manager, s *syncer.Syncer, player *termPlayer, nav *termNav, avatar string) *REPL {
	return &REPL{in: bufio.NewReader(in), out: out, m: m, s: s, player: player, nav: nav, avatar: avatar}
}

func (r *REPL) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Run reads lines until quit or end of input
func (r *REPL) Run(ctx context.Context) error {
	r.printf("type 'help' for commands\n")
	for {
		r.printf("> ")
		line, err := r.in.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			args, perr := shellwords.Parse(line)
			switch {
			case perr != nil:
				r.printf("error: %v\n", perr)
			case len(args) > 0:
				quit, xerr := r.exec(ctx, args)
				if xerr != nil {
					r.printf("error: %v\n", xerr)
				}
				if quit {
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// resume shows the room a previous run left us in, like a page reload
func (r *REPL) resume(ctx context.Context) {
	st, err := r.m.Status(ctx)
	if err != nil || st.RoomID == "" {
		return
	}
	if err := r.s.EnterRoom(ctx, st.RoomID, ""); err != nil {
		r.printf("error: %v\n", err)
	}
}

func (r *REPL) exec(ctx context.Context, args []string) (bool, error) {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		id, err := r.m.CreateRoom(ctx)
		if err != nil {
			return false, err
		}
		r.printf("room created: %s\n", id)
		return false, r.s.EnterRoom(ctx, id, "")

	case "join":
		if len(rest) != 1 {
			return false, errors.New("usage: join <room-id>")
		}
		res, err := r.m.JoinRoom(ctx, rest[0])
		if err != nil {
			return false, err
		}
		r.printf("joined room: %s\n", res.RoomID)
		return false, r.s.EnterRoom(ctx, res.RoomID, res.CurrentURL)

	case "play":
		_ = r.player.Play()
		return false, r.local(r.s.LocalPlayback(ctx, protocol.ActionPlay))

	case "pause":
		r.player.Pause()
		return false, r.local(r.s.LocalPlayback(ctx, protocol.ActionPause))

	case "seek":
		if len(rest) != 1 {
			return false, errors.New("usage: seek <seconds>")
		}
		t, err := strconv.ParseFloat(rest[0], 64)
		if err != nil || t < 0 {
			return false, fmt.Errorf("bad position %q", rest[0])
		}
		r.player.Seek(t)
		return false, r.local(r.s.LocalPlayback(ctx, protocol.ActionSeeked))

	case "nav":
		if len(rest) != 1 {
			return false, errors.New("usage: nav <url>")
		}
		r.nav.Navigate(rest[0])
		return false, r.local(r.s.LocalNavigation(ctx, rest[0]))

	case "say":
		if len(rest) == 0 {
			return false, errors.New("usage: say <text>")
		}
		msg, err := r.m.SendChat(ctx, strings.Join(rest, " "), r.avatar)
		if err != nil {
			return false, err
		}
		r.printf("me: %s\n", msg.Text)
		return false, nil

	case "avatar":
		if len(rest) != 1 {
			return false, errors.New("usage: avatar <emoji>")
		}
		r.avatar = rest[0]
		return false, r.s.UpdateAvatar(ctx, r.avatar)

	case "status":
		st, err := r.m.Status(ctx)
		if err != nil {
			return false, err
		}
		room := st.RoomID
		if room == "" {
			room = "-"
		}
		r.printf("link: %s\nroom: %s\nconnected: %t\n", st.State, room, st.Connected)
		return false, nil

	case "history":
		err := r.s.Reattach(ctx)
		if errors.Is(err, syncer.ErrNotInRoom) {
			r.printf("not in a room\n")
			return false, nil
		}
		return false, err

	case "exit":
		if r.s.RoomID() == "" {
			r.printf("not in a room\n")
			return false, nil
		}
		_, err := r.s.RequestExit(ctx, r.confirm)
		return false, err

	case "quit":
		return true, nil

	case "help":
		r.printf("%s\n", helpText)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func (r *REPL) local(_ bool, err error) error { return err }

// confirm reads a y/N answer from the same input as commands
func (r *REPL) confirm(_ context.Context, prompt string) (bool, error) {
	r.printf("%s [y/N] ", prompt)
	line, err := r.in.ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
