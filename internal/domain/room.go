package domain

type (
	// RoomKey is the caller-supplied identifier of a room: a chat session id,
	// a board id, a call id, a document id. Opaque to the core.
	RoomKey string

	// Namespace separates the room tables of the feature adapters, so that
	// the same key may name a chat session and a whiteboard at once.
	Namespace string
)

type Room struct {
	Namespace Namespace
	Key       RoomKey
}
