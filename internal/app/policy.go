package app

import "github.com/dkeye/Huddle/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(room core.RoomService, member core.SessionID) BackpressureAction
}

// SimplePolicy drops the frame for the slow member and moves on. Structured
// events are either advisory or resynced on the next full snapshot, so losing
// one to backpressure is cheaper than disconnecting the member.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member core.SessionID) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects a member that cannot keep up. Used where a gap in
// the stream is worse than a reconnect, e.g. document sync: a replica that
// missed an opaque update can only recover by rejoining for a full replay.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(room core.RoomService, member core.SessionID) BackpressureAction {
	return KickMember
}
