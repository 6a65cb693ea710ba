package domain

import "time"

// IdentityRecord is the bookkeeping behind a rejoin claim. It lives for the
// lifetime of the hosting process and only ever validates a claim; it never
// authorizes privileged actions.
type IdentityRecord struct {
	User *User

	// LastConn is the transport id of the most recent connection bound to
	// this identity. Stored as a plain string to keep domain free of
	// transport types.
	LastConn string

	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	ConnectionCount int
}
