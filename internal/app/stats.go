package app

import "github.com/dkeye/Huddle/internal/core"

// FeatureStats is the read-only operational view of one feature adapter,
// served by the admin API. RoomList names each live room with its member
// count; Extra carries feature-specific sizes (message, task, object counts).
type FeatureStats struct {
	Feature  string          `json:"feature"`
	Rooms    int             `json:"rooms"`
	Members  int             `json:"members"`
	RoomList []core.RoomInfo `json:"room_list,omitempty"`
	Extra    map[string]int  `json:"extra,omitempty"`
}

// Stats snapshots the hub. Room and member counts are taken per room, so the
// numbers are consistent per row, not across rows.
func (h *Hub) Stats() FeatureStats {
	s := FeatureStats{Feature: string(h.Rooms.Namespace())}
	s.RoomList = h.Rooms.List()
	for _, info := range s.RoomList {
		s.Rooms++
		s.Members += info.MemberCount
	}
	return s
}
