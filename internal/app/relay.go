package app

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/rs/zerolog/log"
)

// Encode marshals a structured event into a text frame. Marshal failures are
// programming errors in the event structs; they are logged and yield an empty
// frame rather than taking the room down.
func Encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "app.relay").Err(err).Msg("event marshal")
		return core.Text(nil)
	}
	return core.Text(b)
}

// Relay fans a structured event out to the sender's room. Delivery to each
// member is independent; a slow or closed connection only loses its own copy.
func (h *Hub) Relay(sid core.SessionID, v any, excludeSender bool) error {
	room, _, ok := h.RoomOf(sid)
	if !ok {
		return &NotFoundError{Kind: "room", Key: string(sid)}
	}
	res := room.Broadcast(sid, Encode(v), excludeSender)
	h.handleDrops(room, res)
	return nil
}

// RelayState mutates the room's shared state and fans the event out in one
// critical section, keeping joiner snapshots consistent with relayed order.
// A rejected mutation relays nothing.
func (h *Hub) RelayState(sid core.SessionID, v any, excludeSender bool, mutate func(state any) error) error {
	room, _, ok := h.RoomOf(sid)
	if !ok {
		return &NotFoundError{Kind: "room", Key: string(sid)}
	}
	res, err := room.ApplyState(sid, Encode(v), excludeSender, mutate)
	if err != nil {
		return err
	}
	h.handleDrops(room, res)
	return nil
}

// RelayOpaque fans raw bytes out verbatim, excluding the sender. No
// inspection, no transformation: any CRDT or binary protocol rides on top.
func (h *Hub) RelayOpaque(sid core.SessionID, data []byte, mutate func(state any) error) error {
	room, _, ok := h.RoomOf(sid)
	if !ok {
		return &NotFoundError{Kind: "room", Key: string(sid)}
	}
	res, err := room.ApplyState(sid, core.Binary(data), true, mutate)
	if err != nil {
		return err
	}
	h.handleDrops(room, res)
	return nil
}

// Unicast sends a structured event to one member of the sender's room. A
// missing target fails silently: signaling is advisory and self-heals through
// subsequent messages.
func (h *Hub) Unicast(from, to core.SessionID, v any) {
	room, key, ok := h.RoomOf(from)
	if !ok {
		log.Warn().Str("module", "app.relay").Str("from", string(from)).Msg("unicast from unbound session")
		return
	}
	if err := room.Unicast(to, Encode(v)); err != nil {
		log.Warn().Str("module", "app.relay").Str("room", string(key)).Str("from", string(from)).Str("to", string(to)).Err(err).Msg("unicast dropped")
	}
}

func (h *Hub) handleDrops(room core.RoomService, res core.PublishResult) {
	if h.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch h.Policy.OnBackPressure(room, slow) {
		case KickMember:
			h.Kick(slow)
		case MarkSlow, DropFrame, NoAction:
		}
	}
}
