// Package doc is the CRDT document co-editing feature. The server never
// interprets document content: each room accumulates the opaque update bytes
// in arrival order, replays the log to joiners so their replicas catch up,
// and fans every later update out verbatim.
package doc

import (
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

const Namespace = domain.Namespace("doc")

// updateLog is the room's shared state: the raw updates in arrival order.
type updateLog struct {
	updates [][]byte
}

func newUpdateLog() any { return &updateLog{} }

type Feature struct {
	hub *app.Hub
}

func New(memberLimit int) *Feature {
	reg := app.NewRegistry(Namespace, core.RoomOptions{
		NewState:    newUpdateLog,
		MemberLimit: memberLimit,
	})
	// A replica that misses an update can only recover by a full replay, so
	// a backpressured member gets disconnected rather than a gap.
	return &Feature{hub: app.NewHub(reg, app.KickPolicy{}, app.DefaultEventNames())}
}

func (f *Feature) Hub() *app.Hub { return f.hub }

func (f *Feature) Stats() app.FeatureStats {
	s := f.hub.Stats()
	s.Extra = map[string]int{"updates": 0}
	for _, info := range f.hub.Rooms.List() {
		room, ok := f.hub.Rooms.Get(info.Key)
		if !ok {
			continue
		}
		n := room.Snapshot(func(state any) any { return len(state.(*updateLog).updates) })
		s.Extra["updates"] += n.(int)
	}
	return s
}
