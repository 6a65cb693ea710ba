// Package store is the durable side of the chat feature: message rows and
// read receipts. Everything here is best-effort from the relay's point of
// view; a failed write never retracts or delays an already-relayed message.
package store

import (
	"context"
	"time"
)

type Message struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ChatStore is the contract the core needs from the durable store.
type ChatStore interface {
	InsertMessage(ctx context.Context, m Message) error
	// QueryMessages returns up to limit rows for the room, oldest first.
	QueryMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
	// InsertReadReceipt is idempotent: a duplicate receipt for the same
	// message+user is a no-op, not an error.
	InsertReadReceipt(ctx context.Context, messageID, userID string) error
	Close() error
}

// Disabled satisfies ChatStore when no DSN is configured; chat still works,
// history just does not survive the process.
type Disabled struct{}

func (Disabled) InsertMessage(context.Context, Message) error { return nil }
func (Disabled) QueryMessages(context.Context, string, int) ([]Message, error) {
	return nil, nil
}
func (Disabled) InsertReadReceipt(context.Context, string, string) error { return nil }
func (Disabled) Close() error                                            { return nil }
