// Package call is the peer-to-peer video signaling feature. The server keeps
// only membership: join announces the peer so each side can open its own peer
// connection, and offer/answer/ICE flow point-to-point by target session id.
// No media is ever terminated here.
package call

import (
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

const Namespace = domain.Namespace("call")

func callEventNames() app.EventNames {
	return app.EventNames{Joined: "peer-joined", Left: "peer-left", Rejoined: "peer-rejoined"}
}

type Feature struct {
	hub *app.Hub
}

func New(memberLimit int) *Feature {
	reg := app.NewRegistry(Namespace, core.RoomOptions{MemberLimit: memberLimit})
	return &Feature{hub: app.NewHub(reg, app.SimplePolicy{}, callEventNames())}
}

func (f *Feature) Hub() *app.Hub { return f.hub }

func (f *Feature) Stats() app.FeatureStats {
	return f.hub.Stats()
}
