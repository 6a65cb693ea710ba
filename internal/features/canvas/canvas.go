// Package canvas is the shared whiteboard feature: a mutable object map per
// room, replayed as a snapshot to every joiner.
package canvas

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

const Namespace = domain.Namespace("canvas")

// Snapshot maps object id to the client-defined object body. The server
// never interprets the bodies; it only keys them.
type Snapshot struct {
	Objects map[string]json.RawMessage `json:"objects"`
}

func newSnapshot() any {
	return &Snapshot{Objects: make(map[string]json.RawMessage)}
}

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{Objects: make(map[string]json.RawMessage, len(s.Objects))}
	for id, obj := range s.Objects {
		out.Objects[id] = obj
	}
	return out
}

func (s *Snapshot) set(id string, obj json.RawMessage, mustExist bool) error {
	if _, ok := s.Objects[id]; mustExist && !ok {
		return &app.ValidationError{Reason: app.ReasonBadPayload, Detail: "unknown object " + id}
	}
	s.Objects[id] = obj
	return nil
}

func (s *Snapshot) remove(id string) error {
	if _, ok := s.Objects[id]; !ok {
		return &app.ValidationError{Reason: app.ReasonBadPayload, Detail: "unknown object " + id}
	}
	delete(s.Objects, id)
	return nil
}

type Feature struct {
	hub *app.Hub
}

func New(memberLimit int) *Feature {
	reg := app.NewRegistry(Namespace, core.RoomOptions{
		NewState:    newSnapshot,
		MemberLimit: memberLimit,
	})
	return &Feature{hub: app.NewHub(reg, app.SimplePolicy{}, app.DefaultEventNames())}
}

func (f *Feature) Hub() *app.Hub { return f.hub }

func (f *Feature) Stats() app.FeatureStats {
	s := f.hub.Stats()
	s.Extra = map[string]int{"objects": 0}
	for _, info := range f.hub.Rooms.List() {
		room, ok := f.hub.Rooms.Get(info.Key)
		if !ok {
			continue
		}
		n := room.Snapshot(func(state any) any { return len(state.(*Snapshot).Objects) })
		s.Extra["objects"] += n.(int)
	}
	return s
}
