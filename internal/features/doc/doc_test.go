package doc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/core"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fakeConn struct {
	mu       sync.Mutex
	frames   []core.Frame
	fail     bool
	capacity int // frames accepted before backpressure, 0 = unbounded
	closed   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || (c.capacity > 0 && len(c.frames) >= c.capacity) {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) binaryFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, f := range c.frames {
		if f.Binary {
			out = append(out, f.Data)
		}
	}
	return out
}

func (c *fakeConn) lastOfType(typ string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Binary {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(c.frames[i].Data, &m); err == nil && m["type"] == typ {
			return m, true
		}
	}
	return nil, false
}

func connect(f *Feature, sid core.SessionID, cancel func()) (*session, *fakeConn) {
	if cancel == nil {
		cancel = func() {}
	}
	c := &fakeConn{}
	return &session{f: f, sid: sid, conn: c, cancel: cancel}, c
}

func joinDoc(t *testing.T, s *session, c *fakeConn, doc, name string) map[string]any {
	t.Helper()
	s.HandleMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"type":"join","doc":%q,"name":%q}`, doc, name)))
	ev, ok := c.lastOfType("doc_state")
	require.True(t, ok, "join must answer with doc_state")
	return ev
}

func sendUpdate(s *session, payload []byte) {
	s.HandleMessage(websocket.BinaryMessage, payload)
}

func TestUpdateBroadcastExcludesSender(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1", nil)
	s2, c2 := connect(f, "s2", nil)
	joinDoc(t, s1, c1, "d1", "alice")
	joinDoc(t, s2, c2, "d1", "bob")

	sendUpdate(s1, []byte{0x01, 0x02, 0x03})

	got := c2.binaryFrames()
	require.Len(t, got, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got[0])
	assert.Empty(t, c1.binaryFrames(), "sender's replica already has its own update")
}

func TestJoinerReceivesReplayInArrivalOrder(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1", nil)
	joinDoc(t, s1, c1, "d1", "alice")
	sendUpdate(s1, []byte("u1"))
	sendUpdate(s1, []byte("u2"))
	sendUpdate(s1, []byte("u3"))

	s2, c2 := connect(f, "s2", nil)
	st := joinDoc(t, s2, c2, "d1", "bob")

	assert.Equal(t, float64(3), st["updates"])
	got := c2.binaryFrames()
	require.Len(t, got, 3, "exactly the logged updates, no duplicates")
	assert.Equal(t, []byte("u1"), got[0])
	assert.Equal(t, []byte("u3"), got[2])
}

func TestUpdateBufferCopied(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1", nil)
	joinDoc(t, s1, c1, "d1", "alice")

	buf := []byte("original")
	sendUpdate(s1, buf)
	copy(buf, "clobber!")

	s2, c2 := connect(f, "s2", nil)
	joinDoc(t, s2, c2, "d1", "bob")
	got := c2.binaryFrames()
	require.Len(t, got, 1)
	assert.Equal(t, []byte("original"), got[0], "log owns its bytes, not the read buffer")
}

func TestBackpressuredMemberKicked(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1", nil)
	kicked := false
	s2, c2 := connect(f, "s2", func() { kicked = true })
	joinDoc(t, s1, c1, "d1", "alice")
	joinDoc(t, s2, c2, "d1", "bob")
	c2.fail = true

	sendUpdate(s1, []byte("u1"))

	assert.True(t, kicked, "a replica that misses an update cannot stay")
}

func TestJoinerBehindOnReplayKicked(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1", nil)
	joinDoc(t, s1, c1, "d1", "alice")
	for i := 0; i < 8; i++ {
		sendUpdate(s1, []byte{byte(i)})
	}

	// The joiner's buffer drains only part of the replay; a replica with a
	// gap cannot catch up and must reconnect for a full resync.
	kicked := false
	s2, c2 := connect(f, "s2", func() { kicked = true })
	c2.capacity = 4
	s2.HandleMessage(websocket.TextMessage, []byte(`{"type":"join","doc":"d1","name":"bob"}`))

	assert.Less(t, len(c2.binaryFrames()), 8, "replay was truncated")
	assert.True(t, kicked, "a partially welcomed replica may not stay")
}

func TestUpdateBeforeJoinRejected(t *testing.T) {
	f := New(0)
	s1, c1 := connect(f, "s1", nil)

	sendUpdate(s1, []byte("u1"))

	ev, ok := c1.lastOfType("error")
	require.True(t, ok)
	assert.Equal(t, "not_in_room", ev["error"])
}

func TestRoomRemovalDropsLog(t *testing.T) {
	// The room is removed with its log when the last member leaves; a fresh
	// join starts a fresh document.
	f := New(0)
	s1, c1 := connect(f, "s1", nil)
	joinDoc(t, s1, c1, "d1", "alice")
	sendUpdate(s1, []byte("u1"))
	s1.HandleClose()

	s2, c2 := connect(f, "s2", nil)
	st := joinDoc(t, s2, c2, "d1", "bob")
	assert.Equal(t, float64(0), st["updates"])
	assert.Empty(t, c2.binaryFrames())
}
