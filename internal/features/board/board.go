// Package board is the shared task-board feature. Each board room keeps a
// full mutable snapshot, mutated synchronously by relayed operations so a new
// joiner's snapshot is always current.
package board

import (
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

const Namespace = domain.Namespace("board")

type Task struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Column struct {
	ID    string `json:"id"`
	Tasks []Task `json:"tasks"`
}

// Snapshot is the board's shared state. Column order is fixed at creation.
type Snapshot struct {
	Columns []Column `json:"columns"`
}

func newSnapshot() any {
	return &Snapshot{Columns: []Column{
		{ID: "todo", Tasks: []Task{}},
		{ID: "doing", Tasks: []Task{}},
		{ID: "done", Tasks: []Task{}},
	}}
}

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{Columns: make([]Column, len(s.Columns))}
	for i, col := range s.Columns {
		tasks := make([]Task, len(col.Tasks))
		copy(tasks, col.Tasks)
		out.Columns[i] = Column{ID: col.ID, Tasks: tasks}
	}
	return out
}

func (s *Snapshot) column(id string) *Column {
	for i := range s.Columns {
		if s.Columns[i].ID == id {
			return &s.Columns[i]
		}
	}
	return nil
}

// findTask returns the column holding the task and its index there.
func (s *Snapshot) findTask(id string) (*Column, int) {
	for i := range s.Columns {
		for j, t := range s.Columns[i].Tasks {
			if t.ID == id {
				return &s.Columns[i], j
			}
		}
	}
	return nil, -1
}

func (s *Snapshot) taskCount() int {
	n := 0
	for _, col := range s.Columns {
		n += len(col.Tasks)
	}
	return n
}

func (s *Snapshot) addTask(columnID string, t Task) error {
	col := s.column(columnID)
	if col == nil {
		return &app.ValidationError{Reason: app.ReasonBadPayload, Detail: "unknown column " + columnID}
	}
	if _, idx := s.findTask(t.ID); idx >= 0 {
		return &app.ValidationError{Reason: app.ReasonBadPayload, Detail: "duplicate task " + t.ID}
	}
	col.Tasks = append(col.Tasks, t)
	return nil
}

func (s *Snapshot) moveTask(taskID, toColumnID string, index int) error {
	to := s.column(toColumnID)
	if to == nil {
		return &app.ValidationError{Reason: app.ReasonBadPayload, Detail: "unknown column " + toColumnID}
	}
	from, idx := s.findTask(taskID)
	if idx < 0 {
		return &app.ValidationError{Reason: app.ReasonBadPayload, Detail: "unknown task " + taskID}
	}
	t := from.Tasks[idx]
	from.Tasks = append(from.Tasks[:idx], from.Tasks[idx+1:]...)
	if index < 0 || index > len(to.Tasks) {
		index = len(to.Tasks)
	}
	to.Tasks = append(to.Tasks[:index], append([]Task{t}, to.Tasks[index:]...)...)
	return nil
}

func (s *Snapshot) removeTask(taskID string) error {
	from, idx := s.findTask(taskID)
	if idx < 0 {
		return &app.ValidationError{Reason: app.ReasonBadPayload, Detail: "unknown task " + taskID}
	}
	from.Tasks = append(from.Tasks[:idx], from.Tasks[idx+1:]...)
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
	s.Extra = map[string]int{"tasks": 0}
	for _, info := range f.hub.Rooms.List() {
		room, ok := f.hub.Rooms.Get(info.Key)
		if !ok {
			continue
		}
		n := room.Snapshot(func(state any) any { return state.(*Snapshot).taskCount() })
		s.Extra["tasks"] += n.(int)
	}
	return s
}
