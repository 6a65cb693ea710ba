package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// EventNames lets a feature rename the presence vocabulary (the call feature
// announces peer-joined/peer-left, everything else member-joined/member-left).
type EventNames struct {
	Joined   string
	Left     string
	Rejoined string
}

func DefaultEventNames() EventNames {
	return EventNames{Joined: "member-joined", Left: "member-left", Rejoined: "member-rejoined"}
}

// PresenceEvent is the join/leave/rejoin fanout payload. Roster is always the
// authoritative full list; clients must not reconcile incrementally.
type PresenceEvent struct {
	Type   string           `json:"type"`
	User   domain.User      `json:"user"`
	Roster []core.MemberDTO `json:"roster"`
}

type sessionEntry struct {
	Key    domain.RoomKey
	MS     core.MemberSession
	Cancel context.CancelFunc
}

// Hub is one feature's presence tracker: the session-to-room binding over the
// feature's room registry. A connection is bound to at most one room here;
// joining another room implicitly leaves the previous one.
type Hub struct {
	Rooms  *Registry
	Policy Policy
	Names  EventNames

	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewHub(rooms *Registry, policy Policy, names EventNames) *Hub {
	if names.Joined == "" {
		names = DefaultEventNames()
	}
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		Rooms:    rooms,
		Policy:   policy,
		Names:    names,
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

// Welcome builds the frames sent to the joiner alone, inside the room's
// critical section. state is the room's shared state, roster the full online
// list including the joiner.
type Welcome func(state any, roster []core.MemberDTO) []core.Frame

// Join binds sid to the room at key, creating the room on first join. The
// joiner receives the welcome frames; everyone else gets a joined (or
// rejoined) presence event carrying the full roster.
func (h *Hub) Join(
	key domain.RoomKey,
	sid core.SessionID,
	member *domain.Member,
	conn core.Conn,
	cancel context.CancelFunc,
	rejoin bool,
	welcome Welcome,
) (core.RoomService, error) {
	if prev, bound := h.roomKeyOf(sid); bound && prev != key {
		h.Leave(sid)
	}

	ms := core.NewMemberSession(member, conn)
	name := h.Names.Joined
	if rejoin {
		name = h.Names.Rejoined
	}
	announce := func(roster []core.MemberDTO) core.Frame {
		return Encode(PresenceEvent{Type: name, User: *member.User, Roster: roster})
	}

	for {
		room := h.Rooms.GetOrCreate(key)
		err := room.JoinSync(sid, ms, announce, welcome)
		switch {
		case err == nil, errors.Is(err, core.ErrWelcomeBackpressure):
			h.mu.Lock()
			h.sessions[sid] = &sessionEntry{Key: key, MS: ms, Cancel: cancel}
			h.mu.Unlock()
			log.Info().Str("module", "app.presence").Str("ns", string(h.Rooms.Namespace())).Str("room", string(key)).Str("sid", string(sid)).Bool("rejoin", rejoin).Msg("joined")
			if err != nil {
				// The member is in but missed part of its welcome. Where a
				// gapped replica cannot recover on its own the policy kicks
				// it, so the client reconnects for a full resync.
				h.handleDrops(room, core.PublishResult{Dropped: []core.SessionID{sid}})
			}
			return room, nil
		case errors.Is(err, core.ErrRoomClosed):
			// Lost the race against garbage collection; re-resolve.
			continue
		case errors.Is(err, core.ErrRoomFull):
			h.Rooms.RemoveIfEmpty(key)
			return nil, &CapacityError{Key: string(key), Limit: room.MemberCount()}
		case errors.Is(err, core.ErrDuplicateUser):
			return nil, &IdentityError{Reason: ReasonDuplicateIdentity}
		default:
			return nil, err
		}
	}
}

// Leave unbinds sid from its room, announces member-left to the remainder and
// garbage-collects an empty room. Idempotent against the abrupt-close path
// racing an explicit leave.
func (h *Hub) Leave(sid core.SessionID) (domain.RoomKey, bool) {
	h.mu.Lock()
	e, ok := h.sessions[sid]
	if ok {
		delete(h.sessions, sid)
	}
	h.mu.Unlock()
	if !ok {
		return "", false
	}

	room, found := h.Rooms.Get(e.Key)
	if !found {
		return e.Key, true
	}
	user := *e.MS.Meta().User
	room.LeaveSync(sid, func(roster []core.MemberDTO) core.Frame {
		return Encode(PresenceEvent{Type: h.Names.Left, User: user, Roster: roster})
	})
	h.Rooms.RemoveIfEmpty(e.Key)
	log.Info().Str("module", "app.presence").Str("ns", string(h.Rooms.Namespace())).Str("room", string(e.Key)).Str("sid", string(sid)).Msg("left")
	return e.Key, true
}

// Kick cancels the session's context; the transport adapter tears the
// connection down, which funnels into the same Leave path as any disconnect.
func (h *Hub) Kick(sid core.SessionID) bool {
	h.mu.RLock()
	e, ok := h.sessions[sid]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.presence").Str("ns", string(h.Rooms.Namespace())).Str("sid", string(sid)).Msg("kicked")
	return true
}

func (h *Hub) roomKeyOf(sid core.SessionID) (domain.RoomKey, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.sessions[sid]
	if !ok {
		return "", false
	}
	return e.Key, true
}

// RoomOf resolves the live room a session is in.
func (h *Hub) RoomOf(sid core.SessionID) (core.RoomService, domain.RoomKey, bool) {
	key, ok := h.roomKeyOf(sid)
	if !ok {
		return nil, "", false
	}
	room, found := h.Rooms.Get(key)
	if !found {
		return nil, key, false
	}
	return room, key, true
}

// MemberOf returns the member bound to sid, if any.
func (h *Hub) MemberOf(sid core.SessionID) (*domain.Member, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.sessions[sid]
	if !ok {
		return nil, false
	}
	return e.MS.Meta(), true
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
