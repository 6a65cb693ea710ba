package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	wsadapter "github.com/dkeye/Huddle/internal/adapters/ws"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

const maxMessageLen = 4096

type session struct {
	f      *Feature
	sid    core.SessionID
	conn   core.Conn
	cancel context.CancelFunc

	// user is set on a successful join. Only touched from the read pump.
	user *domain.User
}

func (f *Feature) NewSession(sid core.SessionID, conn *wsadapter.Conn, cancel context.CancelFunc) wsadapter.Session {
	return &session{f: f, sid: sid, conn: conn, cancel: cancel}
}

type stateEvent struct {
	Type     string           `json:"type"`
	Room     domain.RoomKey   `json:"room"`
	You      domain.User      `json:"you"`
	Roster   []core.MemberDTO `json:"roster"`
	Messages []store.Message  `json:"messages"`
}

type messageEvent struct {
	Type    string        `json:"type"`
	From    domain.UserID `json:"from"`
	Message store.Message `json:"message"`
}

type typingEvent struct {
	Type   string        `json:"type"`
	From   domain.UserID `json:"from"`
	User   domain.User   `json:"user"`
	Active bool          `json:"active"`
}

type readEvent struct {
	Type      string        `json:"type"`
	From      domain.UserID `json:"from"`
	MessageID string        `json:"messageId"`
}

func (s *session) HandleMessage(mt int, data []byte) {
	if mt != websocket.TextMessage {
		s.sendError(app.ReasonBadPayload)
		return
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Str("module", "chat").Err(err).Msg("bad json")
		s.sendError(app.ReasonBadPayload)
		return
	}

	switch env.Type {
	case "join":
		s.handleJoin(data)
	case "leave":
		s.handleLeave()
	case "message":
		s.handleChatMessage(data)
	case "read":
		s.handleRead(data)
	case "typing":
		s.handleTyping(data)
	case "ping":
		s.sendJSON(map[string]string{"type": "pong"})
	default:
		log.Warn().Str("module", "chat").Str("type", env.Type).Msg("unknown event")
		s.sendError(app.ReasonUnknownEvent)
	}
}

func (s *session) handleJoin(data []byte) {
	type joinPayload struct {
		Type       string `json:"type"`
		Room       string `json:"room"`
		Name       string `json:"name"`
		IdentityID string `json:"identityId,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}

	var (
		rec    domain.IdentityRecord
		err    error
		rejoin bool
	)
	if p.IdentityID != "" {
		rec, err = s.f.identities.Claim(domain.UserID(p.IdentityID), s.sid)
		if err != nil {
			// Invalid claim: explicit rejection, no presence mutation. The
			// client retries or falls back to a fresh join.
			s.sendJSON(map[string]string{"type": "rejected", "reason": app.CodeOf(err)})
			return
		}
		rejoin = true
	} else {
		rec, err = s.f.identities.Mint(p.Name, s.sid)
		if err != nil {
			s.sendError(app.CodeOf(err))
			return
		}
	}

	key := domain.RoomKey(p.Room)
	welcome := func(state any, roster []core.MemberDTO) []core.Frame {
		h := state.(*history)
		msgs := make([]store.Message, len(h.msgs))
		copy(msgs, h.msgs)
		return []core.Frame{app.Encode(stateEvent{
			Type:     "room_state",
			Room:     key,
			You:      *rec.User,
			Roster:   roster,
			Messages: msgs,
		})}
	}
	if _, err := s.f.hub.Join(key, s.sid, domain.NewMember(rec.User), s.conn, s.cancel, rejoin, welcome); err != nil {
		s.sendError(app.CodeOf(err))
		return
	}
	s.user = rec.User
}

func (s *session) handleLeave() {
	s.f.hub.Leave(s.sid)
	s.user = nil
	s.sendJSON(map[string]string{"type": "left"})
}

func (s *session) handleChatMessage(data []byte) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type messagePayload struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Text == "" || len(p.Text) > maxMessageLen {
		s.sendError(app.ReasonBadPayload)
		return
	}

	_, key, ok := s.f.hub.RoomOf(s.sid)
	if !ok {
		s.sendError(app.ReasonNotInRoom)
		return
	}

	// The server is the authoritative source here: the confirmed copy with
	// the assigned id and timestamp goes to everyone, sender included,
	// replacing any optimistic local copy.
	m := store.Message{
		ID:          uuid.NewString(),
		RoomID:      string(key),
		UserID:      string(s.user.ID),
		DisplayName: s.user.DisplayName,
		Text:        p.Text,
		CreatedAt:   time.Now(),
	}
	ev := messageEvent{Type: "new-message", From: s.user.ID, Message: m}
	err := s.f.hub.RelayState(s.sid, ev, false, func(state any) error {
		state.(*history).append(m)
		return nil
	})
	if err != nil {
		var nf *app.NotFoundError
		if errors.As(err, &nf) {
			s.sendError(nf.Code())
		}
		return
	}

	// Relay first, persist after: delivery latency beats durability ordering.
	s.f.writer.EnqueueMessage(m)
}

func (s *session) handleRead(data []byte) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type readPayload struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}
	var p readPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	s.f.writer.EnqueueReceipt(p.MessageID, string(s.user.ID))
	_ = s.f.hub.Relay(s.sid, readEvent{Type: "message-read", From: s.user.ID, MessageID: p.MessageID}, true)
}

func (s *session) handleTyping(data []byte) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type typingPayload struct {
		Type   string `json:"type"`
		Active bool   `json:"active"`
	}
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError(app.ReasonBadPayload)
		return
	}
	_ = s.f.hub.Relay(s.sid, typingEvent{Type: "typing", From: s.user.ID, User: *s.user, Active: p.Active}, true)
}

func (s *session) HandleClose() {
	s.f.hub.Leave(s.sid)
}

func (s *session) sendJSON(v any) {
	_ = s.conn.TrySend(app.Encode(v))
}

func (s *session) sendError(code string) {
	s.sendJSON(map[string]string{"type": "error", "error": code})
}
