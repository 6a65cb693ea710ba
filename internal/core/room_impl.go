package core

import (
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRoomClosed means the room lost the race against its own garbage
	// collection; the caller should re-resolve it through the registry.
	ErrRoomClosed = errors.New("room closed")

	ErrNoSuchMember = errors.New("no such member")

	ErrRoomFull = errors.New("room full")

	// ErrDuplicateUser means the user identity is already live on another
	// connection in this room and the room does not transfer bindings.
	ErrDuplicateUser = errors.New("duplicate user")

	// ErrWelcomeBackpressure means the member WAS added but part of its
	// welcome could not be delivered. Its replica has a gap only a full
	// resync can close; the caller's policy decides whether it may stay.
	ErrWelcomeBackpressure = errors.New("welcome backpressure")
)

// RoomOptions is the feature-dependent shape of a room: the factory for the
// mutable shared state, the member limit, and what to do when an identity
// joins twice. Zero values mean "no state, no limit, reject duplicates".
type RoomOptions struct {
	NewState           func() any
	MemberLimit        int
	TransferDuplicates bool
}

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room *domain.Room

	mu     sync.RWMutex
	closed bool
	bySID  map[SessionID]MemberSession
	byUser map[domain.UserID]SessionID

	opts  RoomOptions
	state any
}

func NewRoomService(room *domain.Room, opts RoomOptions) RoomService {
	r := &roomImpl{
		room:   room,
		bySID:  make(map[SessionID]MemberSession),
		byUser: make(map[domain.UserID]SessionID),
		opts:   opts,
	}
	if opts.NewState != nil {
		r.state = opts.NewState()
	}
	return r
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) JoinSync(
	sid SessionID,
	ms MemberSession,
	announce func(roster []MemberDTO) Frame,
	welcome func(state any, roster []MemberDTO) []Frame,
) error {
	u := ms.Meta().User.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if prev, ok := r.byUser[u]; ok && prev != sid {
		if !r.opts.TransferDuplicates {
			return ErrDuplicateUser
		}
		// The newer connection takes over the binding; the old one keeps its
		// transport until the adapter tears it down.
		delete(r.bySID, prev)
		log.Info().Str("module", "core.room").Str("room", string(r.room.Key)).Str("user", string(u)).Str("old_sid", string(prev)).Msg("binding transferred")
	}
	if r.opts.MemberLimit > 0 && len(r.bySID) >= r.opts.MemberLimit {
		if _, rejoining := r.bySID[sid]; !rejoining {
			return ErrRoomFull
		}
	}
	r.bySID[sid] = ms
	r.byUser[u] = sid

	roster := r.membersLocked()
	if announce != nil {
		r.fanout(sid, announce(roster), true)
	}
	welcomeDropped := 0
	if welcome != nil {
		for _, f := range welcome(r.state, roster) {
			if err := ms.Conn().TrySend(f); err != nil {
				welcomeDropped++
				log.Warn().Str("module", "core.room").Str("room", string(r.room.Key)).Str("sid", string(sid)).Err(err).Msg("welcome frame dropped")
			}
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.Key)).Str("sid", string(sid)).Str("user", string(u)).Msg("member added")
	if welcomeDropped > 0 {
		return ErrWelcomeBackpressure
	}
	return nil
}

func (r *roomImpl) LeaveSync(sid SessionID, announce func(roster []MemberDTO) Frame) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return len(r.bySID), false
	}
	u := ms.Meta().User.ID
	// A transferred binding may already point byUser at a newer connection.
	if r.byUser[u] == sid {
		delete(r.byUser, u)
	}
	delete(r.bySID, sid)
	if announce != nil && len(r.bySID) > 0 {
		r.fanout(sid, announce(r.membersLocked()), true)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.Key)).Str("sid", string(sid)).Msg("member removed")
	return len(r.bySID), true
}

// membersLocked requires r.mu held.
func (r *roomImpl) membersLocked() []MemberDTO {
	out := make([]MemberDTO, 0, len(r.bySID))
	for sid, ms := range r.bySID {
		u := ms.Meta().User
		out = append(out, MemberDTO{SID: sid, ID: u.ID, DisplayName: u.DisplayName})
	}
	return out
}

func (r *roomImpl) Member(sid SessionID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.bySID[sid]
	return ms, ok
}

func (r *roomImpl) SessionOfUser(id domain.UserID) (SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[id]
	return sid, ok
}

func (r *roomImpl) Broadcast(from SessionID, data Frame, excludeSender bool) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fanout(from, data, excludeSender)
}

// fanout requires r.mu held (read or write). Each TrySend is non-blocking, so
// a slow peer only costs itself the frame.
func (r *roomImpl) fanout(from SessionID, data Frame, excludeSender bool) PublishResult {
	res := PublishResult{}
	for sid, m := range r.bySID {
		if excludeSender && sid == from {
			continue
		}
		if err := m.Conn().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Key)).Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) Unicast(to SessionID, data Frame) error {
	r.mu.RLock()
	ms, ok := r.bySID[to]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSuchMember
	}
	return ms.Conn().TrySend(data)
}

func (r *roomImpl) ApplyState(from SessionID, data Frame, excludeSender bool, mutate func(state any) error) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mutate != nil {
		if err := mutate(r.state); err != nil {
			return PublishResult{}, err
		}
	}
	return r.fanout(from, data, excludeSender), nil
}

func (r *roomImpl) Snapshot(view func(state any) any) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if view == nil {
		return r.state
	}
	return view(r.state)
}

func (r *roomImpl) CloseIfEmpty(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.bySID) > 0 {
		return false
	}
	r.closed = true
	if fn != nil {
		fn()
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.Key)).Msg("room closed")
	return true
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked()
}
