package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsFramesWithoutEvent(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{"url":"x"}}`))
	require.Error(t, err)

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestNewKeepsRawPayloadVerbatim(t *testing.T) {
	raw := json.RawMessage(`{"sdp":"v=0","weird":[1,2,3]}`)
	env, err := New(EventSignalPeer, raw)
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(env.Payload))
}

func TestChatMessageMineNotEncodedWhenFalse(t *testing.T) {
	frame, err := Marshal(EventChatMessage, ChatMessage{Text: "hi", Avatar: "🦊"})
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "isMe")

	env, err := Decode(frame)
	require.NoError(t, err)
	var msg ChatMessage
	require.NoError(t, DecodePayload(env, &msg))
	assert.Equal(t, "hi", msg.Text)
	assert.False(t, msg.Mine)
}

func TestSyncActionIsPlayback(t *testing.T) {
	assert.True(t, SyncAction{Type: ActionPlay}.IsPlayback())
	assert.True(t, SyncAction{Type: ActionSeeked}.IsPlayback())
	assert.False(t, SyncAction{Type: "rewind"}.IsPlayback())
}

func TestDecodePayloadEmpty(t *testing.T) {
	var nav NavUpdate
	err := DecodePayload(Envelope{Event: EventSyncShorts}, &nav)
	require.Error(t, err)
}
