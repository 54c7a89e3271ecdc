package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/protocol"
)

// RedisStore keeps the session in redis so it survives a restart of the client process
type RedisStore struct {
	rdb  *redis.Client
	log  *slog.Logger
	name string
	ttl  time.Duration // 0 keeps keys until Clear
}

// NewRedisStore connects to redis and verifies connectivity.
// name scopes the keys so several clients can share one redis.
func NewRedisStore(ctx context.Context, addr string, db int, name string, ttl time.Duration, log *slog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisStore{rdb: rdb, log: log.With("component", "redis_store"), name: name, ttl: ttl}, nil
}

func (s *RedisStore) Load(ctx context.Context) (Session, error) {
	var sess Session
	room, err := s.rdb.Get(ctx, s.key("room")).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Session{}, fmt.Errorf("load room: %w", err)
	default:
		sess.RoomID = room
	}

	raw, err := s.rdb.LRange(ctx, s.key("chat"), 0, -1).Result()
	if err != nil {
		return Session{}, fmt.Errorf("load chat: %w", err)
	}
	for _, item := range raw {
		var msg protocol.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.log.Warn("store.bad_chat_entry", "err", err)
			continue
		}
		sess.Chat = append(sess.Chat, msg)
	}
	return sess, nil
}

func (s *RedisStore) SetRoom(ctx context.Context, roomID string) error {
	if err := s.rdb.Set(ctx, s.key("room"), roomID, s.ttl).Err(); err != nil {
		return fmt.Errorf("set room: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendChat(ctx context.Context, msg protocol.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, s.key("chat"), raw)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key("chat"), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key("room"), s.key("chat")).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close shuts down the redis connection
func (s *RedisStore) Close() { _ = s.rdb.Close() }

// key namespacing for one client's session
func (s *RedisStore) key(part string) string { return "syncmate:session:" + s.name + ":" + part }
