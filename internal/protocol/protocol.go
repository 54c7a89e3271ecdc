package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names carried in Envelope.Event
const (
	EventCreateRoom   = "create_room"
	EventJoinRoom     = "join_room"
	EventSyncAction   = "sync_action"
	EventSyncShorts   = "sync_shorts"
	EventSignalPeer   = "signal_peer"
	EventChatMessage  = "chat_message"
	EventUpdateAvatar = "update_avatar"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventPing         = "ping"
	EventAck          = "ack"
)

// Playback action types
const (
	ActionPlay   = "play"
	ActionPause  = "pause"
	ActionSeeked = "seeked"
)

// Envelope is the single frame shape on the wire.
// ID is set on requests that expect an ack and echoed back on the ack.
type Envelope struct {
	Event   string          `json:"event"`
	ID      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SyncAction is a play/pause/seek report from a member's player
type SyncAction struct {
	Type        string  `json:"type"`
	CurrentTime float64 `json:"currentTime"`
	Rate        float64 `json:"rate,omitempty"`
}

// IsPlayback reports whether the action type is one the player understands
func (a SyncAction) IsPlayback() bool {
	switch a.Type {
	case ActionPlay, ActionPause, ActionSeeked:
		return true
	}
	return false
}

// NavUpdate announces a new shared navigation target
type NavUpdate struct {
	URL string `json:"url"`
}

// ChatMessage is relayed as-is. Mine is only kept in local history and never sent.
type ChatMessage struct {
	Text      string `json:"text"`
	Avatar    string `json:"avatar,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Mine      bool   `json:"isMe,omitempty"`
}

// AvatarUpdate is annotated with the sender id by the relay
type AvatarUpdate struct {
	UserID string `json:"userId,omitempty"`
	Avatar string `json:"avatar"`
}

// Presence is pushed by the relay on join/leave
type Presence struct {
	UserID string `json:"userId"`
}

// JoinRequest is the payload of join_room
type JoinRequest struct {
	RoomID string `json:"roomId"`
}

// Error strings carried in Ack.Error
const (
	ErrTextRoomNotFound  = "Room not found"
	ErrTextInvalidRoomID = "Invalid room id"
)

// Ack answers create_room and join_room
type Ack struct {
	Success    bool   `json:"success"`
	RoomID     string `json:"roomId,omitempty"`
	CurrentURL string `json:"currentUrl,omitempty"`
	Error      string `json:"error,omitempty"`
}

// New builds an envelope with a JSON-encoded payload
func New(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	env.Payload = b
	return env, nil
}

// Encode marshals an envelope into a frame
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Marshal is New followed by Encode
func Marshal(event string, payload any) ([]byte, error) {
	env, err := New(event, payload)
	if err != nil {
		return nil, err
	}
	return Encode(env)
}

// Decode parses a frame. Frames without an event name are rejected.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event")
	}
	return env, nil
}

// DecodePayload unmarshals an envelope payload into v
func DecodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", env.Event)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	return nil
}
