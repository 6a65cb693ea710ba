// Package chat is the session-chat feature: bounded in-room history, rejoin
// with a previously issued identity, typing indicators, and write-through
// persistence of messages and read receipts.
package chat

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

const Namespace = domain.Namespace("chat")

// history is the room's bounded recent-message buffer, mutated only through
// the relay.
type history struct {
	limit int
	msgs  []store.Message
}

func (h *history) append(m store.Message) {
	h.msgs = append(h.msgs, m)
	if len(h.msgs) > h.limit {
		h.msgs = h.msgs[len(h.msgs)-h.limit:]
	}
}

type Feature struct {
	hub        *app.Hub
	identities *app.Identities
	writer     *store.Writer
	st         store.ChatStore
}

type Options struct {
	HistoryLimit int
	MemberLimit  int
}

func New(opts Options, writer *store.Writer, st store.ChatStore) *Feature {
	if opts.HistoryLimit <= 0 || opts.HistoryLimit > 100 {
		opts.HistoryLimit = 100
	}
	reg := app.NewRegistry(Namespace, core.RoomOptions{
		NewState:    func() any { return &history{limit: opts.HistoryLimit} },
		MemberLimit: opts.MemberLimit,
		// A rejoin lands on a fresh connection while the room may still hold
		// the dead one; the new binding wins.
		TransferDuplicates: true,
	})
	return &Feature{
		hub:        app.NewHub(reg, app.SimplePolicy{}, app.DefaultEventNames()),
		identities: app.NewIdentities(),
		writer:     writer,
		st:         st,
	}
}

func (f *Feature) Hub() *app.Hub { return f.hub }

func (f *Feature) Stats() app.FeatureStats {
	s := f.hub.Stats()
	s.Extra = map[string]int{"identities": f.identities.Count(), "messages": 0}
	for _, info := range f.hub.Rooms.List() {
		room, ok := f.hub.Rooms.Get(info.Key)
		if !ok {
			continue
		}
		n := room.Snapshot(func(state any) any { return len(state.(*history).msgs) })
		s.Extra["messages"] += n.(int)
	}
	return s
}

// HandleHistory serves persisted history for a room, oldest first. This is
// the full-state resync a client requests after (re)joining; the in-room
// buffer only covers what the process has seen.
func (f *Feature) HandleHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	msgs, err := f.st.QueryMessages(c.Request.Context(), c.Param("room"), limit)
	if err != nil {
		log.Error().Str("module", "chat").Err(err).Msg("history query")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"room": c.Param("room"), "messages": msgs})
}
