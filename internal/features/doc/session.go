package doc

import (
	"context"
	"encoding/json"

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
	Type    string           `json:"type"`
	Doc     domain.RoomKey   `json:"doc"`
	You     domain.User      `json:"you"`
	Roster  []core.MemberDTO `json:"roster"`
	Updates int              `json:"updates"`
}

// HandleMessage: text frames carry control events, binary frames are opaque
// CRDT updates relayed as-is.
func (s *session) HandleMessage(mt int, data []byte) {
	if mt == websocket.BinaryMessage {
		s.handleUpdate(data)
		return
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Str("module", "doc").Err(err).Msg("bad json")
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
	case "ping":
		s.sendJSON(map[string]string{"type": "pong"})
	default:
		log.Warn().Str("module", "doc").Str("type", env.Type).Msg("unknown event")
		s.sendError(app.ReasonUnknownEvent)
	}
}

func (s *session) handleJoin(data []byte) {
	type joinPayload struct {
		Type string `json:"type"`
		Doc  string `json:"doc"`
		Name string `json:"name"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Doc == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	user, err := domain.NewUser(p.Name)
	if err != nil {
		s.sendError(app.ReasonBadPayload)
		return
	}

	key := domain.RoomKey(p.Doc)
	// Instead of a snapshot the joiner gets the accumulated update log,
	// replayed in arrival order, inside the join critical section: no update
	// is ever both replayed and delivered live.
	welcome := func(state any, roster []core.MemberDTO) []core.Frame {
		ul := state.(*updateLog)
		frames := make([]core.Frame, 0, len(ul.updates)+1)
		frames = append(frames, app.Encode(stateEvent{
			Type:    "doc_state",
			Doc:     key,
			You:     *user,
			Roster:  roster,
			Updates: len(ul.updates),
		}))
		for _, u := range ul.updates {
			frames = append(frames, core.Binary(u))
		}
		return frames
	}
	if _, err := s.f.hub.Join(key, s.sid, domain.NewMember(user), s.conn, s.cancel, false, welcome); err != nil {
		s.sendError(app.CodeOf(err))
		return
	}
	s.user = user
}

func (s *session) handleUpdate(data []byte) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	// Copy: the read pump may reuse the buffer once we return.
	update := make([]byte, len(data))
	copy(update, data)
	err := s.f.hub.RelayOpaque(s.sid, update, func(state any) error {
		l := state.(*updateLog)
		l.updates = append(l.updates, update)
		return nil
	})
	if err != nil {
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
