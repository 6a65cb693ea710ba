package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

func TestStatsListRooms(t *testing.T) {
	h := newHub(core.RoomOptions{})
	join(t, h, "r1", "s1", "alice", &fakeConn{})
	join(t, h, "r1", "s2", "bob", &fakeConn{})
	join(t, h, "r2", "s3", "carol", &fakeConn{})

	s := h.Stats()
	assert.Equal(t, "test", s.Feature)
	assert.Equal(t, 2, s.Rooms)
	assert.Equal(t, 3, s.Members)

	counts := make(map[domain.RoomKey]int, len(s.RoomList))
	for _, info := range s.RoomList {
		counts[info.Key] = info.MemberCount
	}
	require.Len(t, counts, 2)
	assert.Equal(t, 2, counts["r1"])
	assert.Equal(t, 1, counts["r2"])
}
