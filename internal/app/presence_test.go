package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

func newHub(opts core.RoomOptions) *Hub {
	return NewHub(NewRegistry("test", opts), nil, EventNames{})
}

func join(t *testing.T, h *Hub, key domain.RoomKey, sid core.SessionID, name string, conn core.Conn) {
	t.Helper()
	member := domain.NewMember(mustUser(t, name))
	_, err := h.Join(key, sid, member, conn, nil, false, nil)
	require.NoError(t, err)
}

func TestJoinAnnouncesToOthersOnly(t *testing.T) {
	h := newHub(core.RoomOptions{})
	alice, bob := &fakeConn{}, &fakeConn{}

	join(t, h, "r1", "s1", "alice", alice)
	welcome := func(state any, roster []core.MemberDTO) []core.Frame {
		assert.Len(t, roster, 2, "welcome roster includes the joiner")
		return []core.Frame{core.Text([]byte(`{"type":"room_state"}`))}
	}
	member := domain.NewMember(mustUser(t, "bob"))
	_, err := h.Join("r1", "s2", member, bob, nil, false, welcome)
	require.NoError(t, err)

	require.Equal(t, []string{"member-joined"}, alice.eventTypes())
	ev := alice.events()[0]
	assert.Len(t, ev["roster"], 2, "announce carries the full roster")
	assert.Equal(t, []string{"room_state"}, bob.eventTypes(), "joiner sees the welcome, not its own announce")
}

func TestJoinSwitchingRoomsLeavesPrevious(t *testing.T) {
	h := newHub(core.RoomOptions{})
	stayer := &fakeConn{}
	join(t, h, "a", "s0", "bob", stayer)
	join(t, h, "a", "s1", "alice", &fakeConn{})

	join(t, h, "b", "s1", "alice", &fakeConn{})

	assert.Contains(t, stayer.eventTypes(), "member-left")
	_, key, ok := h.RoomOf("s1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomKey("b"), key)
	roomA, ok := h.Rooms.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, roomA.MemberCount())
}

func TestLastLeaveDestroysRoom(t *testing.T) {
	h := newHub(core.RoomOptions{})
	join(t, h, "r1", "s1", "alice", &fakeConn{})

	key, left := h.Leave("s1")
	assert.True(t, left)
	assert.Equal(t, domain.RoomKey("r1"), key)
	_, ok := h.Rooms.Get("r1")
	assert.False(t, ok, "empty room is garbage-collected")
	assert.Zero(t, h.SessionCount())

	_, left = h.Leave("s1")
	assert.False(t, left, "leave is idempotent")
}

func TestLeaveAnnouncesRemainingRoster(t *testing.T) {
	h := newHub(core.RoomOptions{})
	stayer := &fakeConn{}
	join(t, h, "r1", "s1", "alice", stayer)
	join(t, h, "r1", "s2", "bob", &fakeConn{})

	h.Leave("s2")

	types := stayer.eventTypes()
	require.Equal(t, []string{"member-joined", "member-left"}, types)
	last := stayer.events()[1]
	assert.Len(t, last["roster"], 1, "roster reflects the live set after the leave")
	room, ok := h.Rooms.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())
}

func TestJoinAtCapacity(t *testing.T) {
	h := newHub(core.RoomOptions{MemberLimit: 1})
	join(t, h, "r1", "s1", "alice", &fakeConn{})

	member := domain.NewMember(mustUser(t, "bob"))
	_, err := h.Join("r1", "s2", member, &fakeConn{}, nil, false, nil)
	require.Error(t, err)
	assert.Equal(t, ReasonRoomFull, CodeOf(err))
	_, _, bound := h.RoomOf("s2")
	assert.False(t, bound, "a rejected join binds nothing")
}

func TestJoinDuplicateIdentityRejected(t *testing.T) {
	h := newHub(core.RoomOptions{})
	user := mustUser(t, "alice")
	_, err := h.Join("r1", "s1", domain.NewMember(user), &fakeConn{}, nil, false, nil)
	require.NoError(t, err)

	_, err = h.Join("r1", "s2", domain.NewMember(user), &fakeConn{}, nil, false, nil)
	require.Error(t, err)
	assert.Equal(t, ReasonDuplicateIdentity, CodeOf(err))
	room, ok := h.Rooms.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount(), "rejection mutates no presence state")
}

func TestRejoinAnnouncement(t *testing.T) {
	h := newHub(core.RoomOptions{})
	stayer := &fakeConn{}
	join(t, h, "r1", "s1", "alice", stayer)

	member := domain.NewMember(mustUser(t, "bob"))
	_, err := h.Join("r1", "s2", member, &fakeConn{}, nil, true, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"member-rejoined"}, stayer.eventTypes())
}

func TestKickCancelsSession(t *testing.T) {
	h := newHub(core.RoomOptions{})
	canceled := false
	member := domain.NewMember(mustUser(t, "alice"))
	_, err := h.Join("r1", "s1", member, &fakeConn{}, func() { canceled = true }, false, nil)
	require.NoError(t, err)

	assert.True(t, h.Kick("s1"))
	assert.True(t, canceled)
	assert.False(t, h.Kick("s9"), "unknown session")
}
