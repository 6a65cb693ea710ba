package canvas

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) events() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f.Data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) lastOfType(typ string) (map[string]any, bool) {
	evs := c.events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i]["type"] == typ {
			return evs[i], true
		}
	}
	return nil, false
}

func connect(f *Feature, sid core.SessionID) (*session, *fakeConn) {
	c := &fakeConn{}
	return &session{f: f, sid: sid, conn: c, cancel: func() {}}, c
}

func send(t *testing.T, s *session, format string, args ...any) {
	t.Helper()
	s.HandleMessage(websocket.TextMessage, []byte(fmt.Sprintf(format, args...)))
}

func joinCanvas(t *testing.T, s *session, c *fakeConn, canvas, name string) map[string]any {
	t.Helper()
	send(t, s, `{"type":"join","canvas":%q,"name":%q}`, canvas, name)
	ev, ok := c.lastOfType("canvas_state")
	require.True(t, ok, "join must answer with canvas_state")
	return ev
}

func objectCount(t *testing.T, f *Feature, canvas string) int {
	t.Helper()
	room, ok := f.hub.Rooms.Get(domain.RoomKey(canvas))
	require.True(t, ok)
	return room.Snapshot(func(state any) any { return len(state.(*Snapshot).Objects) }).(int)
}

func TestObjectAddRelayedAndSnapshotted(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1")
	s2, c2 := connect(f, "s2")
	joinCanvas(t, s1, c1, "w1", "alice")
	joinCanvas(t, s2, c2, "w1", "bob")
	before := len(c1.events())

	send(t, s1, `{"type":"object-add","objectId":"o1","object":{"kind":"rect","x":10}}`)

	ev, ok := c2.lastOfType("canvas-object-added")
	require.True(t, ok)
	assert.Equal(t, "o1", ev["objectId"])
	obj := ev["object"].(map[string]any)
	assert.Equal(t, "rect", obj["kind"], "object body passes through untouched")
	assert.Len(t, c1.events(), before, "sender applied optimistically, no echo")

	s3, c3 := connect(f, "s3")
	st := joinCanvas(t, s3, c3, "w1", "carol")
	objs := st["snapshot"].(map[string]any)["objects"].(map[string]any)
	assert.Contains(t, objs, "o1")
}

func TestObjectModifyRequiresExisting(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1")
	joinCanvas(t, s1, c1, "w1", "alice")

	send(t, s1, `{"type":"object-modify","objectId":"o1","object":{"x":1}}`)
	ev, ok := c1.lastOfType("error")
	require.True(t, ok)
	assert.Contains(t, ev["detail"], "unknown object")

	send(t, s1, `{"type":"object-add","objectId":"o1","object":{"x":1}}`)
	send(t, s1, `{"type":"object-modify","objectId":"o1","object":{"x":2}}`)
	assert.Equal(t, 1, objectCount(t, f, "w1"))
}

func TestObjectRemove(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1")
	s2, c2 := connect(f, "s2")
	joinCanvas(t, s1, c1, "w1", "alice")
	joinCanvas(t, s2, c2, "w1", "bob")
	send(t, s1, `{"type":"object-add","objectId":"o1","object":{"x":1}}`)

	send(t, s1, `{"type":"object-remove","objectId":"o1"}`)

	_, ok := c2.lastOfType("canvas-object-removed")
	assert.True(t, ok)
	assert.Zero(t, objectCount(t, f, "w1"))

	send(t, s1, `{"type":"object-remove","objectId":"o1"}`)
	ev, ok := c1.lastOfType("error")
	require.True(t, ok)
	assert.Contains(t, ev["detail"], "unknown object")
}

func TestClearEmptiesCanvas(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1")
	s2, c2 := connect(f, "s2")
	joinCanvas(t, s1, c1, "w1", "alice")
	joinCanvas(t, s2, c2, "w1", "bob")
	send(t, s1, `{"type":"object-add","objectId":"o1","object":{"x":1}}`)
	send(t, s1, `{"type":"object-add","objectId":"o2","object":{"x":2}}`)

	send(t, s1, `{"type":"clear"}`)

	_, ok := c2.lastOfType("canvas-cleared")
	assert.True(t, ok)
	assert.Zero(t, objectCount(t, f, "w1"))
}

func TestOpsRequireJoin(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1")

	send(t, s1, `{"type":"object-add","objectId":"o1","object":{}}`)
	ev, ok := c1.lastOfType("error")
	require.True(t, ok)
	assert.Equal(t, "not_in_room", ev["error"])
}
