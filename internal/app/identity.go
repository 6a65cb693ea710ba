package app

import (
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Identities is the per-feature identity table behind rejoin. A fresh join
// mints a record; a rejoin claim succeeds only against a previously minted
// id. Records live for the lifetime of the process.
type Identities struct {
	mu      sync.Mutex
	records map[domain.UserID]*domain.IdentityRecord
}

func NewIdentities() *Identities {
	return &Identities{records: make(map[domain.UserID]*domain.IdentityRecord)}
}

// Mint issues a brand-new identity bound to sid.
func (t *Identities) Mint(displayName string, sid core.SessionID) (domain.IdentityRecord, error) {
	user, err := domain.NewUser(displayName)
	if err != nil {
		return domain.IdentityRecord{}, &ValidationError{Reason: ReasonBadPayload, Detail: err.Error()}
	}
	now := time.Now()
	rec := &domain.IdentityRecord{
		User:            user,
		LastConn:        string(sid),
		FirstSeenAt:     now,
		LastSeenAt:      now,
		ConnectionCount: 1,
	}
	t.mu.Lock()
	t.records[user.ID] = rec
	t.mu.Unlock()
	log.Info().Str("module", "app.identity").Str("user", string(user.ID)).Str("sid", string(sid)).Msg("minted identity")
	return *rec, nil
}

// Claim validates a rejoin claim. On success the record is rebound to sid and
// its connection count increments; an unknown id fails without touching any
// state.
func (t *Identities) Claim(id domain.UserID, sid core.SessionID) (domain.IdentityRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		log.Warn().Str("module", "app.identity").Str("user", string(id)).Str("sid", string(sid)).Msg("rejected rejoin claim")
		return domain.IdentityRecord{}, &IdentityError{Reason: ReasonUnknownIdentity}
	}
	rec.LastConn = string(sid)
	rec.LastSeenAt = time.Now()
	rec.ConnectionCount++
	log.Info().Str("module", "app.identity").Str("user", string(id)).Str("sid", string(sid)).Int("connections", rec.ConnectionCount).Msg("identity reclaimed")
	return *rec, nil
}

func (t *Identities) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
