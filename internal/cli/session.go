package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/app"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/client"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/syncer"
)

func newLogger(w io.Writer, level string) *slog.Logger {
	return app.NewLogger(w, "dev", level)
}

// openStore picks the session store; the returned func releases it
func openStore(ctx context.Context, s Settings, log *slog.Logger) (client.Store, func(), error) {
	switch s.Store {
	case "redis":
		rs, err := client.NewRedisStore(ctx, s.RedisAddr, s.RedisDB, s.Session, s.SessionTTL, log)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	case "memory", "":
		return client.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", s.Store)
	}
}

// Session ties a connection manager, a syncer and the terminal together
type Session struct {
	repl       *REPL
	manager    *client.Manager
	closeStore func()

	stopWatch context.CancelFunc
	watching  chan struct{}
}

func openSession(ctx context.Context, s Settings, in io.Reader, out, errOut io.Writer) (*Session, error) {
	log := newLogger(errOut, s.LogLevel)
	store, closeStore, err := openStore(ctx, s, log)
	if err != nil {
		return nil, err
	}

	w := &lockedWriter{w: out}
	player := newTermPlayer(w)
	nav := newTermNav(w)

	m := client.New(client.Options{URL: s.Server, Store: store, Logger: log}, nil)
	sy := syncer.New(m, nav, newTermChat(w), termSignals{w: w}, log)
	sy.AttachPlayer(player)
	m.SetHandler(sy)
	m.Start()

	// periodic player refresh and session recovery
	wctx, stopWatch := context.WithCancel(context.Background())
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		sy.Watch(wctx, func() syncer.Player { return player })
	}()

	return &Session{
		repl:       newREPL(in, w, m, sy, player, nav, s.Avatar),
		manager:    m,
		closeStore: closeStore,
		stopWatch:  stopWatch,
		watching:   watching,
	}, nil
}

// Run resumes a stored room if there is one, runs first, then reads commands
func (s *Session) Run(ctx context.Context, first []string) error {
	s.repl.resume(ctx)
	if len(first) > 0 {
		if _, err := s.repl.exec(ctx, first); err != nil {
			s.repl.printf("error: %v\n", err)
		}
	}
	return s.repl.Run(ctx)
}

func (s *Session) Close() {
	s.stopWatch()
	<-s.watching
	_ = s.manager.Close()
	s.closeStore()
}
