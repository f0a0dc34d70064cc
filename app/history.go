package app

import (
	"errors"
	"sort"

	"taskboard/model"
)

const undoStackLimit = 20

var ErrNothingToUndo = errors.New("nothing to undo")

// Snapshot is a deep copy of the restorable parts of a State.
type Snapshot struct {
	Tasks       []model.Task
	Filters     model.Filters
	Stats       model.Stats
	NextOrderID int
}

// CreateSnapshot captures tasks, filters and stats.
func (s *State) CreateSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// RestoreSnapshot replaces the current tasks, filters and stats with snap.
// The snapshot itself is copied, so it can be restored again later.
func (s *State) RestoreSnapshot(snap Snapshot) {
	s.mu.Lock()
	s.restore(snap)
	s.mu.Unlock()

	s.changed("restore")
}

// Undo reverts the latest mutating call.
func (s *State) Undo() error {
	s.mu.Lock()
	if len(s.undo) == 0 {
		s.mu.Unlock()
		return ErrNothingToUndo
	}
	last := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.restore(last)
	s.mu.Unlock()

	s.changed("undo")
	return nil
}

// CanUndo reports whether Undo has anything to revert.
func (s *State) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo) > 0
}

func (s *State) snapshot() Snapshot {
	tasks := make([]model.Task, len(s.tasks))
	copy(tasks, s.tasks)
	return Snapshot{
		Tasks:       tasks,
		Filters:     s.filters,
		Stats:       s.stats,
		NextOrderID: s.nextOrderID,
	}
}

func (s *State) restore(snap Snapshot) {
	tasks := make([]model.Task, len(snap.Tasks))
	copy(tasks, snap.Tasks)
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
	s.tasks = tasks
	s.filters = snap.Filters.Normalize()
	s.renumber()
	s.recompute()
}

func (s *State) pushUndo() {
	s.undo = append(s.undo, s.snapshot())
	if len(s.undo) > undoStackLimit {
		s.undo = s.undo[len(s.undo)-undoStackLimit:]
	}
}
