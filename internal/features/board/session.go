package board

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
	Board    domain.RoomKey   `json:"board"`
	You      domain.User      `json:"you"`
	Roster   []core.MemberDTO `json:"roster"`
	Snapshot *Snapshot        `json:"snapshot"`
}

type taskAddedEvent struct {
	Type     string        `json:"type"`
	From     domain.UserID `json:"from"`
	ColumnID string        `json:"columnId"`
	Task     Task          `json:"task"`
}

type taskMovedEvent struct {
	Type     string        `json:"type"`
	From     domain.UserID `json:"from"`
	TaskID   string        `json:"taskId"`
	ColumnID string        `json:"columnId"`
	Index    int           `json:"index"`
}

type taskRemovedEvent struct {
	Type   string        `json:"type"`
	From   domain.UserID `json:"from"`
	TaskID string        `json:"taskId"`
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
		log.Error().Str("module", "board").Err(err).Msg("bad json")
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
	case "task-add":
		s.handleTaskAdd(data)
	case "task-move":
		s.handleTaskMove(data)
	case "task-remove":
		s.handleTaskRemove(data)
	case "ping":
		s.sendJSON(map[string]string{"type": "pong"})
	default:
		log.Warn().Str("module", "board").Str("type", env.Type).Msg("unknown event")
		s.sendError(app.ReasonUnknownEvent)
	}
}

func (s *session) handleJoin(data []byte) {
	type joinPayload struct {
		Type  string `json:"type"`
		Board string `json:"board"`
		Name  string `json:"name"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Board == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	// Identity is re-supplied on every join; no rejoin bookkeeping here.
	user, err := domain.NewUser(p.Name)
	if err != nil {
		s.sendError(app.ReasonBadPayload)
		return
	}

	key := domain.RoomKey(p.Board)
	welcome := func(state any, roster []core.MemberDTO) []core.Frame {
		return []core.Frame{app.Encode(stateEvent{
			Type:     "board_state",
			Board:    key,
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

func (s *session) handleTaskAdd(data []byte) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type payload struct {
		Type     string `json:"type"`
		ColumnID string `json:"columnId"`
		Task     Task   `json:"task"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.ColumnID == "" || p.Task.ID == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	ev := taskAddedEvent{Type: "task-added", From: s.user.ID, ColumnID: p.ColumnID, Task: p.Task}
	s.relayMutation(ev, func(state any) error {
		return state.(*Snapshot).addTask(p.ColumnID, p.Task)
	})
}

func (s *session) handleTaskMove(data []byte) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type payload struct {
		Type     string `json:"type"`
		TaskID   string `json:"taskId"`
		ColumnID string `json:"columnId"`
		Index    int    `json:"index"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.TaskID == "" || p.ColumnID == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	ev := taskMovedEvent{Type: "task-moved", From: s.user.ID, TaskID: p.TaskID, ColumnID: p.ColumnID, Index: p.Index}
	s.relayMutation(ev, func(state any) error {
		return state.(*Snapshot).moveTask(p.TaskID, p.ColumnID, p.Index)
	})
}

func (s *session) handleTaskRemove(data []byte) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type payload struct {
		Type   string `json:"type"`
		TaskID string `json:"taskId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.TaskID == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	ev := taskRemovedEvent{Type: "task-removed", From: s.user.ID, TaskID: p.TaskID}
	s.relayMutation(ev, func(state any) error {
		return state.(*Snapshot).removeTask(p.TaskID)
	})
}

// relayMutation applies the op to the snapshot and relays it to everyone
// else; the sender already applied its optimistic local copy.
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
