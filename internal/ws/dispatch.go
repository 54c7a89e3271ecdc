package ws

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Paarth-dev-lab/SyncMate-3/internal/protocol"
	"github.com/Paarth-dev-lab/SyncMate-3/internal/room"
	"github.com/Paarth-dev-lab/SyncMate-3/pkg/metrics"
)

var errUnknownEvent = errors.New("unknown event")

// safeDispatch runs one inbound frame; any failure drops just that frame
func (h *Hub) safeDispatch(p Peer, frame []byte) {
	event := "invalid"
	if name := gjson.GetBytes(frame, "event"); name.Type == gjson.String {
		event = name.String()
	}
	defer func() {
		if rec := recover(); rec != nil {
			metrics.HandlerFaults.WithLabelValues(event).Inc()
			h.log.Error("hub.fault", "conn", p.ID(), "event", event, "panic", rec)
		}
	}()

	if err := h.dispatch(p, frame); err != nil {
		if errors.Is(err, errUnknownEvent) {
			event = "unknown"
		}
		metrics.HandlerFaults.WithLabelValues(event).Inc()
		h.log.Warn("hub.dropped", "conn", p.ID(), "event", event, "err", err)
	}
}

func (h *Hub) dispatch(p Peer, frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		return err
	}

	switch env.Event {
	case protocol.EventCreateRoom:
		return h.createRoom(p, env)
	case protocol.EventJoinRoom:
		return h.joinRoom(p, env)
	case protocol.EventSyncAction, protocol.EventSignalPeer, protocol.EventChatMessage:
		h.relay(p, env.Event, frame)
		return nil
	case protocol.EventSyncShorts:
		return h.syncShorts(p, env, frame)
	case protocol.EventUpdateAvatar:
		return h.updateAvatar(p, env)
	case protocol.EventPing:
		return nil
	default:
		return fmt.Errorf("%w %q", errUnknownEvent, env.Event)
	}
}

func (h *Hub) createRoom(p Peer, env protocol.Envelope) error {
	id, left, err := h.reg.Create(p.ID())
	if err != nil {
		h.ack(p, env.ID, protocol.Ack{Success: false, Error: err.Error()})
		return err
	}
	h.notifyLeft(p.ID(), left)
	h.updateRoomGauge()
	h.ack(p, env.ID, protocol.Ack{Success: true, RoomID: id})
	return nil
}

func (h *Hub) joinRoom(p Peer, env protocol.Envelope) error {
	var req protocol.JoinRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		h.ack(p, env.ID, protocol.Ack{Success: false, Error: protocol.ErrTextInvalidRoomID})
		return err
	}

	res, err := h.reg.Join(req.RoomID, p.ID())
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			// not a fault, the client just asked for a dead room
			h.ack(p, env.ID, protocol.Ack{Success: false, Error: protocol.ErrTextRoomNotFound})
			return nil
		}
		h.ack(p, env.ID, protocol.Ack{Success: false, Error: err.Error()})
		return err
	}

	h.notifyLeft(p.ID(), res.Left)
	h.updateRoomGauge()
	h.ack(p, env.ID, protocol.Ack{Success: true, RoomID: res.RoomID, CurrentURL: res.CurrentURL})

	joined, err := protocol.Marshal(protocol.EventUserJoined, protocol.Presence{UserID: p.ID()})
	if err != nil {
		return err
	}
	h.sendTo(res.Peers, protocol.EventUserJoined, joined)
	return nil
}

// syncShorts records the url for late joiners before relaying
func (h *Hub) syncShorts(p Peer, env protocol.Envelope, frame []byte) error {
	url := gjson.GetBytes(env.Payload, "url")
	if url.Type != gjson.String || url.String() == "" {
		return fmt.Errorf("%s: missing url", env.Event)
	}
	roomID, ok := h.reg.RoomOf(p.ID())
	if !ok {
		h.log.Debug("hub.not_in_room", "conn", p.ID(), "event", env.Event)
		return nil
	}
	if err := h.reg.SetCurrentURL(roomID, url.String()); err != nil {
		return err
	}
	h.relay(p, env.Event, frame)
	return nil
}

// updateAvatar tags the payload with the sender id so peers know whose avatar changed
func (h *Hub) updateAvatar(p Peer, env protocol.Envelope) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", env.Event)
	}
	tagged, err := sjson.SetBytes(env.Payload, "userId", p.ID())
	if err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	out, err := protocol.Encode(protocol.Envelope{Event: env.Event, Payload: tagged})
	if err != nil {
		return err
	}
	h.relay(p, env.Event, out)
	return nil
}

// relay fans frame out to every other member of the sender's room.
// Senders outside any room are ignored.
func (h *Hub) relay(p Peer, event string, frame []byte) {
	roomID, ok := h.reg.RoomOf(p.ID())
	if !ok {
		h.log.Debug("hub.not_in_room", "conn", p.ID(), "event", event)
		return
	}
	members, err := h.reg.Members(roomID)
	if err != nil {
		return
	}
	others := members[:0]
	for _, m := range members {
		if m != p.ID() {
			others = append(others, m)
		}
	}
	h.sendTo(others, event, frame)
}

func (h *Hub) sendTo(ids []string, event string, frame []byte) {
	for _, id := range ids {
		peer, ok := h.peers[id]
		if !ok {
			continue
		}
		if !peer.Send(frame) {
			metrics.FramesDropped.Inc()
			h.log.Warn("hub.send_queue_full", "conn", id, "event", event)
			continue
		}
		metrics.EventsRelayed.WithLabelValues(event).Inc()
	}
}

func (h *Hub) notifyLeft(memberID string, left *room.LeaveResult) {
	if left == nil {
		return
	}
	h.updateRoomGauge()
	if left.Deleted {
		return
	}
	frame, err := protocol.Marshal(protocol.EventUserLeft, protocol.Presence{UserID: memberID})
	if err != nil {
		h.log.Error("hub.encode", "event", protocol.EventUserLeft, "err", err)
		return
	}
	h.sendTo(left.Remaining, protocol.EventUserLeft, frame)
}

func (h *Hub) ack(p Peer, id uint64, a protocol.Ack) {
	env, err := protocol.New(protocol.EventAck, a)
	if err != nil {
		h.log.Error("hub.encode", "event", protocol.EventAck, "err", err)
		return
	}
	env.ID = id
	frame, err := protocol.Encode(env)
	if err != nil {
		h.log.Error("hub.encode", "event", protocol.EventAck, "err", err)
		return
	}
	if !p.Send(frame) {
		metrics.FramesDropped.Inc()
	}
}

func (h *Hub) updateRoomGauge() {
	metrics.RoomsActive.Set(float64(h.reg.Len()))
}
