package app

import (
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry owns the room table of one feature namespace. Rooms are created
// lazily on first join and removed when the last member leaves; nothing else
// ever destroys a room.
type Registry struct {
	ns   domain.Namespace
	opts core.RoomOptions

	mu    sync.RWMutex
	rooms map[domain.RoomKey]core.RoomService
}

func NewRegistry(ns domain.Namespace, opts core.RoomOptions) *Registry {
	return &Registry{
		ns:    ns,
		opts:  opts,
		rooms: make(map[domain.RoomKey]core.RoomService),
	}
}

func (f *Registry) Namespace() domain.Namespace { return f.ns }

// GetOrCreate resolves the live room for key, creating it if absent.
// Concurrent first joins observe one instance: first caller wins.
func (f *Registry) GetOrCreate(key domain.RoomKey) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[key]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[key]; ok {
		return room
	}
	room = core.NewRoomService(&domain.Room{Namespace: f.ns, Key: key}, f.opts)
	f.rooms[key] = room
	log.Info().Str("module", "app.registry").Str("ns", string(f.ns)).Str("room", string(key)).Msg("room created")
	return room
}

func (f *Registry) Get(key domain.RoomKey) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[key]
	return room, ok
}

// RemoveIfEmpty garbage-collects the room if its member set is empty.
// Idempotent, and a no-op if members were added between the caller's empty
// check and this call: the emptiness test and the table removal run inside
// the room's own critical section.
func (f *Registry) RemoveIfEmpty(key domain.RoomKey) bool {
	f.mu.RLock()
	room, ok := f.rooms[key]
	f.mu.RUnlock()
	if !ok {
		return false
	}
	closed := room.CloseIfEmpty(func() {
		f.mu.Lock()
		// Only drop the exact instance we checked; a racing recreate under
		// the same key must survive.
		if cur, ok := f.rooms[key]; ok && cur == room {
			delete(f.rooms, key)
		}
		f.mu.Unlock()
	})
	if closed {
		log.Info().Str("module", "app.registry").Str("ns", string(f.ns)).Str("room", string(key)).Msg("room removed")
	}
	return closed
}

func (f *Registry) List() []core.RoomInfo {
	// Counting takes each room's lock, so snapshot the table first; holding
	// f.mu across MemberCount would invert the room->registry lock order
	// used by RemoveIfEmpty.
	f.mu.RLock()
	keys := make([]domain.RoomKey, 0, len(f.rooms))
	rooms := make([]core.RoomService, 0, len(f.rooms))
	for key, r := range f.rooms {
		keys = append(keys, key)
		rooms = append(rooms, r)
	}
	f.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for i, r := range rooms {
		out = append(out, core.RoomInfo{Key: keys[i], MemberCount: r.MemberCount()})
	}
	return out
}
