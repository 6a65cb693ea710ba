package core

import "github.com/dkeye/Huddle/internal/domain"

// SessionID identifies one transport connection. It is the connection handle
// of the room model: exactly one member per SessionID.
type SessionID string

// Frame is a transport payload. Binary frames carry opaque bytes (CRDT
// updates and the like) and pass through the relay verbatim.
type Frame struct {
	Binary bool
	Data   []byte
}

func Text(data []byte) Frame   { return Frame{Data: data} }
func Binary(data []byte) Frame { return Frame{Binary: true, Data: data} }

// Conn abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Conn() Conn
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []SessionID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SID         SessionID     `json:"sid"`
	ID          domain.UserID `json:"id"`
	DisplayName string        `json:"displayName"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Member(sid SessionID) (MemberSession, bool)
	SessionOfUser(id domain.UserID) (SessionID, bool)

	// JoinSync adds the member, delivers the welcome frames to it and fans the
	// announce frame out to everyone else, all inside one critical section.
	// The welcome therefore reflects exactly the events relayed before the
	// member could receive any, with no gap and no overlap. If welcome frames
	// could not be delivered the member is still added and JoinSync returns
	// ErrWelcomeBackpressure.
	JoinSync(sid SessionID, ms MemberSession, announce func(roster []MemberDTO) Frame, welcome func(state any, roster []MemberDTO) []Frame) error

	// LeaveSync removes the member by connection handle and fans the announce
	// frame out to the remainder in the same critical section. Idempotent:
	// a second leave for the same handle is a no-op.
	LeaveSync(sid SessionID, announce func(roster []MemberDTO) Frame) (remaining int, removed bool)

	Broadcast(from SessionID, data Frame, excludeSender bool) PublishResult
	Unicast(to SessionID, data Frame) error

	// ApplyState runs mutate on the shared state and fans the frame out
	// inside one critical section, so a concurrent joiner either sees the
	// mutation in its snapshot or receives the frame, never both or neither.
	// If mutate rejects the operation nothing is relayed.
	ApplyState(from SessionID, data Frame, excludeSender bool, mutate func(state any) error) (PublishResult, error)

	Snapshot(view func(state any) any) any

	// CloseIfEmpty marks the room dead and runs fn while still holding the
	// room lock, making check-then-remove atomic against a racing join.
	CloseIfEmpty(fn func()) bool
}

type RoomInfo struct {
	Key         domain.RoomKey `json:"key"`
	MemberCount int            `json:"member_count"`
}
