package canvas

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	wsadapter "github.com/dkeye/Huddle/internal/adapters/ws"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

type session struct {
	f      *Feature
	sid    core.SessionID
	conn   core.Conn
	cancel context.CancelFunc
	user   *domain.User
}

func (f *Feature) NewSession(sid core.SessionID, conn *wsadapter.Conn, cancel context.CancelFunc) wsadapter.Session {
	return &session{f: f, sid: sid, conn: conn, cancel: cancel}
}

type stateEvent struct {
	Type     string           `json:"type"`
	Canvas   domain.RoomKey   `json:"canvas"`
	You      domain.User      `json:"you"`
	Roster   []core.MemberDTO `json:"roster"`
	Snapshot *Snapshot        `json:"snapshot"`
}

type objectEvent struct {
	Type     string          `json:"type"`
	From     domain.UserID   `json:"from"`
	ObjectID string          `json:"objectId"`
	Object   json.RawMessage `json:"object,omitempty"`
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
		log.Error().Str("module", "canvas").Err(err).Msg("bad json")
		s.sendError(app.ReasonBadPayload)
		return
	}

	switch env.Type {
	case "join":
		s.handleJoin(data)
	case "leave":
		s.f.hub.Leave(s.sid)
		s.user = nil
		s.sendJSON(map[string]string{"type": "left"})
	case "object-add":
		s.handleObject(data, "canvas-object-added", false)
	case "object-modify":
		s.handleObject(data, "canvas-object-modified", true)
	case "object-remove":
		s.handleObjectRemove(data)
	case "clear":
		s.handleClear()
	case "ping":
		s.sendJSON(map[string]string{"type": "pong"})
	default:
		log.Warn().Str("module", "canvas").Str("type", env.Type).Msg("unknown event")
		s.sendError(app.ReasonUnknownEvent)
	}
}

func (s *session) handleJoin(data []byte) {
	type joinPayload struct {
		Type   string `json:"type"`
		Canvas string `json:"canvas"`
		Name   string `json:"name"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Canvas == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	user, err := domain.NewUser(p.Name)
	if err != nil {
		s.sendError(app.ReasonBadPayload)
		return
	}

	key := domain.RoomKey(p.Canvas)
	welcome := func(state any, roster []core.MemberDTO) []core.Frame {
		return []core.Frame{app.Encode(stateEvent{
			Type:     "canvas_state",
			Canvas:   key,
			You:      *user,
			Roster:   roster,
			Snapshot: state.(*Snapshot).clone(),
		})}
	}
	if _, err := s.f.hub.Join(key, s.sid, domain.NewMember(user), s.conn, s.cancel, false, welcome); err != nil {
		s.sendError(app.CodeOf(err))
		return
	}
	s.user = user
}

func (s *session) handleObject(data []byte, eventName string, mustExist bool) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type payload struct {
		Type     string          `json:"type"`
		ObjectID string          `json:"objectId"`
		Object   json.RawMessage `json:"object"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.ObjectID == "" || len(p.Object) == 0 {
		s.sendError(app.ReasonBadPayload)
		return
	}
	ev := objectEvent{Type: eventName, From: s.user.ID, ObjectID: p.ObjectID, Object: p.Object}
	s.relayMutation(ev, func(state any) error {
		return state.(*Snapshot).set(p.ObjectID, p.Object, mustExist)
	})
}

func (s *session) handleObjectRemove(data []byte) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type payload struct {
		Type     string `json:"type"`
		ObjectID string `json:"objectId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.ObjectID == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	ev := objectEvent{Type: "canvas-object-removed", From: s.user.ID, ObjectID: p.ObjectID}
	s.relayMutation(ev, func(state any) error {
		return state.(*Snapshot).remove(p.ObjectID)
	})
}

func (s *session) handleClear() {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	ev := map[string]any{"type": "canvas-cleared", "from": s.user.ID}
	s.relayMutation(ev, func(state any) error {
		snap := state.(*Snapshot)
		snap.Objects = make(map[string]json.RawMessage)
		return nil
	})
}

func (s *session) relayMutation(ev any, mutate func(state any) error) {
	if err := s.f.hub.RelayState(s.sid, ev, true, mutate); err != nil {
		var ve *app.ValidationError
		if errors.As(err, &ve) {
			s.sendJSON(map[string]string{"type": "error", "error": ve.Code(), "detail": ve.Detail})
			return
		}
		s.sendError(app.CodeOf(err))
	}
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
