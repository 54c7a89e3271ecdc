package client

import (
	"context"
	"sync"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/protocol"
)

// Session is the client state that outlives a single link
type Session struct {
	RoomID string                 `json:"currentRoomId,omitempty"`
	Chat   []protocol.ChatMessage `json:"chatHistory,omitempty"`
}

// Store keeps the session across transport loss. Clear is the only way it is emptied.
type Store interface {
	Load(ctx context.Context) (Session, error)
	SetRoom(ctx context.Context, roomID string) error
	AppendChat(ctx context.Context, msg protocol.ChatMessage) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in process memory
type MemoryStore struct {
	mu   sync.Mutex
	sess Session
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Session{RoomID: s.sess.RoomID}
	if len(s.sess.Chat) > 0 {
		out.Chat = append([]protocol.ChatMessage(nil), s.sess.Chat...)
	}
	return out, nil
}

func (s *MemoryStore) SetRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	s.sess.RoomID = roomID
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AppendChat(_ context.Context, msg protocol.ChatMessage) error {
	s.mu.Lock()
	s.sess.Chat = append(s.sess.Chat, msg)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.sess = Session{}
	s.mu.Unlock()
	return nil
}
