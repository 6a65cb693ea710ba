package call

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
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
	Type  string           `json:"type"`
	Call  domain.RoomKey   `json:"call"`
	You   domain.User      `json:"you"`
	SID   core.SessionID   `json:"sid"`
	Peers []core.MemberDTO `json:"peers"`
}

// sdpEvent relays an offer or answer to exactly one peer. The SDP body is
// parsed only enough to know it is one; it is never touched.
type sdpEvent struct {
	Type string                    `json:"type"`
	From core.SessionID            `json:"from"`
	User domain.User               `json:"user"`
	SDP  webrtc.SessionDescription `json:"sdp"`
}

type candidateEvent struct {
	Type      string                  `json:"type"`
	From      core.SessionID          `json:"from"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
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
		log.Error().Str("module", "call").Err(err).Msg("bad json")
		s.sendError(app.ReasonBadPayload)
		return
	}

	switch env.Type {
	case "join-call":
		s.handleJoin(data)
	case "leave-call":
		s.f.hub.Leave(s.sid)
		s.user = nil
		s.sendJSON(map[string]string{"type": "left"})
	case "offer":
		s.handleSDP(data, "offer", webrtc.SDPTypeOffer)
	case "answer":
		s.handleSDP(data, "answer", webrtc.SDPTypeAnswer)
	case "ice-candidate":
		s.handleCandidate(data)
	case "ping":
		s.sendJSON(map[string]string{"type": "pong"})
	default:
		log.Warn().Str("module", "call").Str("type", env.Type).Msg("unknown event")
		s.sendError(app.ReasonUnknownEvent)
	}
}

func (s *session) handleJoin(data []byte) {
	type joinPayload struct {
		Type string `json:"type"`
		Call string `json:"call"`
		Name string `json:"name"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Call == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	user, err := domain.NewUser(p.Name)
	if err != nil {
		s.sendError(app.ReasonBadPayload)
		return
	}

	key := domain.RoomKey(p.Call)
	welcome := func(_ any, roster []core.MemberDTO) []core.Frame {
		return []core.Frame{app.Encode(stateEvent{
			Type:  "call_state",
			Call:  key,
			You:   *user,
			SID:   s.sid,
			Peers: roster,
		})}
	}
	if _, err := s.f.hub.Join(key, s.sid, domain.NewMember(user), s.conn, s.cancel, false, welcome); err != nil {
		s.sendError(app.CodeOf(err))
		return
	}
	s.user = user
}

// handleSDP relays an offer or answer. Only `to` matters; a gone target is
// dropped silently because signaling self-heals through later messages.
func (s *session) handleSDP(data []byte, eventName string, want webrtc.SDPType) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type payload struct {
		Type string                    `json:"type"`
		To   core.SessionID            `json:"to"`
		SDP  webrtc.SessionDescription `json:"sdp"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" || p.SDP.SDP == "" || p.SDP.Type != want {
		s.sendError(app.ReasonBadPayload)
		return
	}
	s.f.hub.Unicast(s.sid, p.To, sdpEvent{Type: eventName, From: s.sid, User: *s.user, SDP: p.SDP})
}

func (s *session) handleCandidate(data []byte) {
	if s.user == nil {
		s.sendError(app.ReasonNotInRoom)
		return
	}
	type payload struct {
		Type      string                  `json:"type"`
		To        core.SessionID          `json:"to"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" || p.Candidate.Candidate == "" {
		s.sendError(app.ReasonBadPayload)
		return
	}
	s.f.hub.Unicast(s.sid, p.To, candidateEvent{Type: "ice-candidate", From: s.sid, Candidate: p.Candidate})
}

// HandleClose treats an abrupt disconnect exactly like leave-call: remaining
// peers see peer-left and an empty call room is removed.
func (s *session) HandleClose() {
	s.f.hub.Leave(s.sid)
}

func (s *session) sendJSON(v any) {
	_ = s.conn.TrySend(app.Encode(v))
}

func (s *session) sendError(code string) {
	s.sendJSON(map[string]string{"type": "error", "error": code})
}
