package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	serverKey     = "server"
	storeKey      = "store"
	redisAddrKey  = "redis_addr"
	redisDBKey    = "redis_db"
	sessionKey    = "session"
	sessionTTLKey = "session_ttl"
	avatarKey     = "avatar"
	logLevelKey   = "log_level"
)

// Settings is the resolved client configuration
type Settings struct {
	Server     string
	Store      string // memory | redis
	RedisAddr  string
	RedisDB    int
	Session    string
	SessionTTL time.Duration
	Avatar     string
	LogLevel   string
}

func loadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		Server:     v.GetString(serverKey),
		Store:      strings.ToLower(v.GetString(storeKey)),
		RedisAddr:  v.GetString(redisAddrKey),
		RedisDB:    v.GetInt(redisDBKey),
		Session:    v.GetString(sessionKey),
		SessionTTL: v.GetDuration(sessionTTLKey),
		Avatar:     v.GetString(avatarKey),
		LogLevel:   v.GetString(logLevelKey),
	}
	if s.Server == "" {
		return Settings{}, errors.New("server url is required")
	}
	if s.Store != "memory" && s.Store != "redis" {
		return Settings{}, fmt.Errorf("unknown store %q (memory or redis)", s.Store)
	}
	return s, nil
}

// NewRootCmd builds the syncmate command tree.
// With no subcommand it opens the interactive prompt outside any room.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "syncmate",
		Short:         "Watch videos in lockstep with friends",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile, cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd, v, nil)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.syncmate.yaml)")
	pf.String("server", "ws://localhost:3000/ws", "relay websocket url")
	pf.String("store", "memory", "session store: memory or redis")
	pf.String("redis-addr", "localhost:6379", "redis address for the redis store")
	pf.Int("redis-db", 0, "redis database for the redis store")
	pf.String("session", "default", "session name; scopes stored state")
	pf.Duration("session-ttl", 12*time.Hour, "how long stored session state lives in redis")
	pf.String("avatar", "🦊", "avatar shown next to your messages")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")

	_ = v.BindPFlag(serverKey, pf.Lookup("server"))
	_ = v.BindPFlag(storeKey, pf.Lookup("store"))
	_ = v.BindPFlag(redisAddrKey, pf.Lookup("redis-addr"))
	_ = v.BindPFlag(redisDBKey, pf.Lookup("redis-db"))
	_ = v.BindPFlag(sessionKey, pf.Lookup("session"))
	_ = v.BindPFlag(sessionTTLKey, pf.Lookup("session-ttl"))
	_ = v.BindPFlag(avatarKey, pf.Lookup("avatar"))
	_ = v.BindPFlag(logLevelKey, pf.Lookup("log-level"))

	root.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create a room and start syncing",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runInteractive(cmd, v, []string{"create"})
			},
		},
		&cobra.Command{
			Use:   "join <room-id>",
			Short: "Join a room by its 6 character code",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runInteractive(cmd, v, []string{"join", args[0]})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the stored session without connecting",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return showStored(cmd, v)
			},
		},
	)
	return root
}

// initConfig reads in config file and ENV variables if set.
func initConfig(v *viper.Viper, cfgFile string, errOut io.Writer) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".syncmate")
	}

	v.SetEnvPrefix("SYNCMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		fmt.Fprintln(errOut, "Error reading config file:", err)
		return err
	}
	return nil
}

func runInteractive(cmd *cobra.Command, v *viper.Viper, first []string) error {
	s, err := loadSettings(v)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sess, err := openSession(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.Run(ctx, first)
}

func showStored(cmd *cobra.Command, v *viper.Viper) error {
	s, err := loadSettings(v)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeStore, err := openStore(ctx, s, newLogger(cmd.ErrOrStderr(), s.LogLevel))
	if err != nil {
		return err
	}
	defer closeStore()

	stored, err := store.Load(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if stored.RoomID == "" {
		fmt.Fprintln(out, "not in a room")
		return nil
	}
	fmt.Fprintf(out, "room: %s\nmessages: %d\n", stored.RoomID, len(stored.Chat))
	return nil
}

// Execute runs the root command against the process args
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
