package app

import (
	"errors"
	"fmt"
)

// Every rejection sent to a client carries one of these reason codes, so the
// client can decide to retry, fall back to a fresh join, or surface a message.
const (
	ReasonBadPayload        = "bad_payload"
	ReasonUnknownEvent      = "unknown_event"
	ReasonRoomFull          = "room_full"
	ReasonNotInRoom         = "not_in_room"
	ReasonNoSuchRoom        = "no_such_room"
	ReasonNoSuchTarget      = "no_such_target"
	ReasonUnknownIdentity   = "unknown_identity"
	ReasonDuplicateIdentity = "duplicate_identity"
)

// ValidationError rejects a malformed join or event payload. The connection
// stays open.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Code() string { return e.Reason }

// NotFoundError means the operation referenced a room or target that no
// longer exists. Handlers drop these or reply with a soft error, never crash
// the room.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.Key) }
func (e *NotFoundError) Code() string {
	if e.Kind == "room" {
		return ReasonNoSuchRoom
	}
	return ReasonNoSuchTarget
}

// CapacityError rejects a join against a room at its member limit.
type CapacityError struct {
	Key   string
	Limit int
}

func (e *CapacityError) Error() string { return fmt.Sprintf("room %s at limit %d", e.Key, e.Limit) }
func (e *CapacityError) Code() string  { return ReasonRoomFull }

// PersistenceError wraps a durable-store failure. It is logged and never
// propagated to the relay path.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persist %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// IdentityError rejects an invalid rejoin claim or a duplicate identity.
// No presence state is mutated.
type IdentityError struct {
	Reason string
}

func (e *IdentityError) Error() string { return "identity: " + e.Reason }
func (e *IdentityError) Code() string  { return e.Reason }

type coder interface{ Code() string }

// CodeOf extracts the machine-readable reason from any taxonomy error,
// falling back to bad_payload for anything untyped.
func CodeOf(err error) string {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ReasonBadPayload
}
