package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"taskboard/event"
	"taskboard/model"
	"taskboard/validate"
)

var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrDuplicateTask       = errors.New("task id already present")
	ErrInvalidTask         = errors.New("invalid task")
	ErrTaskAlreadyAtTop    = errors.New("task is already at top")
	ErrTaskAlreadyAtBottom = errors.New("task is already at bottom")
	ErrInvalidState        = errors.New("invalid state data")
)

// State owns the task collection, its derived stats and the active filters.
//
// Tasks handed out by State are copies; changes go through UpdateTask so that
// order and stats stay consistent. Events are published after the internal
// lock is released, so handlers may call back into State.
type State struct {
	mu sync.Mutex

	// tasks is kept sorted by Order, and Order values are 0..len-1.
	tasks       []model.Task
	nextOrderID int
	stats       model.Stats
	filters     model.Filters
	lastSync    *time.Time
	undo        []Snapshot

	now    func() time.Time
	logger *slog.Logger
	bus    *event.Bus
}

// Option configures a State.
type Option func(*State)

func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBus shares an event bus with other components.
func WithBus(bus *event.Bus) Option {
	return func(s *State) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// New returns an empty state.
func New(opts ...Option) *State {
	s := &State{
		tasks:   []model.Task{},
		filters: model.DefaultFilters(),
		undo:    []Snapshot{},
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
		bus:     event.NewBus(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bus returns the bus events are published on.
func (s *State) Bus() *event.Bus {
	return s.bus
}

// Subscribe registers h for every event on the state's bus.
func (s *State) Subscribe(h event.Handler) func() {
	return s.bus.Subscribe(h)
}

// CreateTask validates, sanitizes and adds a task built from c.
func (s *State) CreateTask(c validate.Candidate) (model.Task, validate.Result) {
	result := validate.ValidateTask(c)
	if !result.Valid {
		return model.Task{}, result
	}
	clean := validate.SanitizeTask(c)
	task, err := model.NewTask(clean.Text,
		model.WithCompleted(clean.Completed),
		model.WithPriority(model.Priority(clean.Priority)),
		model.WithCategory(clean.Category),
		model.WithClock(s.now),
	)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return model.Task{}, result
	}
	added, err := s.AddTask(task)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return model.Task{}, result
	}
	return added, result
}

// AddTask appends task at the end of the display order.
func (s *State) AddTask(task model.Task) (model.Task, error) {
	s.mu.Lock()
	if s.indexOf(task.ID) != -1 {
		s.mu.Unlock()
		return model.Task{}, fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	task.Order = s.nextOrderID
	if !task.IsValid() {
		s.mu.Unlock()
		return model.Task{}, fmt.Errorf("%w: %s", ErrInvalidTask, task.ID)
	}
	s.pushUndo()
	s.nextOrderID++
	s.tasks = append(s.tasks, task)
	s.recompute()
	s.mu.Unlock()

	s.logger.Debug("task added", "id", task.ID, "order", task.Order)
	s.changed("add")
	return task, nil
}

// UpdateTask applies p to the task with the given id. It returns false when
// no such task exists. A patch carrying Order moves the task to that index.
func (s *State) UpdateTask(id string, p model.Patch) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx == -1 {
		s.mu.Unlock()
		return false
	}
	s.pushUndo()
	p = s.cleanPatch(p)
	if p.Order != nil {
		idx = s.moveTo(idx, *p.Order)
		p.Order = nil
	}
	s.tasks[idx].Update(p, s.now())
	s.recompute()
	s.mu.Unlock()

	s.changed("update")
	return true
}

// UpdateFields validates and sanitizes a generic field map, then applies it.
func (s *State) UpdateFields(id string, fields map[string]any) (bool, validate.Result) {
	result := validate.ValidateUpdate(fields)
	if !result.Valid {
		return false, result
	}
	patch := model.PatchFromFields(validate.SanitizeUpdate(fields))
	return s.UpdateTask(id, patch), result
}

// ToggleTask flips the completed flag.
func (s *State) ToggleTask(id string) bool {
	task, ok := s.GetTask(id)
	if !ok {
		return false
	}
	done := !task.Completed
	return s.UpdateTask(id, model.Patch{Completed: &done})
}

// RemoveTask deletes the task and renumbers the rest.
func (s *State) RemoveTask(id string) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx == -1 {
		s.mu.Unlock()
		return false
	}
	s.pushUndo()
	s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
	s.renumber()
	s.recompute()
	s.mu.Unlock()

	s.logger.Debug("task removed", "id", id)
	s.changed("remove")
	return true
}

// ClearCompleted removes every completed task and returns how many went.
func (s *State) ClearCompleted() int {
	s.mu.Lock()
	kept := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.Completed {
			kept = append(kept, t)
		}
	}
	removed := len(s.tasks) - len(kept)
	if removed == 0 {
		s.mu.Unlock()
		return 0
	}
	s.pushUndo()
	s.tasks = kept
	s.renumber()
	s.recompute()
	s.mu.Unlock()

	s.changed("clear-completed")
	return removed
}

func (s *State) MoveTaskUp(id string) error {
	return s.MoveTask(id, -1)
}

func (s *State) MoveTaskDown(id string) error {
	return s.MoveTask(id, 1)
}

// MoveTask shifts a task by delta positions.
func (s *State) MoveTask(id string, delta int) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx == -1 {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	target := idx + delta
	if target < 0 {
		s.mu.Unlock()
		return ErrTaskAlreadyAtTop
	}
	if target >= len(s.tasks) {
		s.mu.Unlock()
		return ErrTaskAlreadyAtBottom
	}
	s.pushUndo()
	idx = s.moveTo(idx, target)
	now := s.now().UTC()
	s.tasks[idx].UpdatedAt = now
	s.mu.Unlock()

	s.changed("move")
	return nil
}

// MoveTaskTo places a task at index, clamped to the collection bounds.
func (s *State) MoveTaskTo(id string, index int) error {
	order := index
	if order < 0 {
		order = 0
	}
	if !s.UpdateTask(id, model.Patch{Order: &order}) {
		return ErrTaskNotFound
	}
	return nil
}

// GetTask returns a copy of the task with the given id.
func (s *State) GetTask(id string) (model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx == -1 {
		return model.Task{}, false
	}
	return s.tasks[idx], true
}

// Tasks returns every task sorted by order.
func (s *State) Tasks() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// FilteredTasks applies the current filters. The result is computed on
// every call.
func (s *State) FilteredTasks() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if s.filters.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// Categories lists the distinct categories in use, sorted.
func (s *State) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, t := range s.tasks {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	sort.Strings(out)
	return out
}

// Stats returns a snapshot of the derived counters.
func (s *State) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// FilterPatch holds the filter keys to change; nil keys keep their value.
type FilterPatch struct {
	Category *string
	Priority *string
	Status   *model.Status
	Search   *string
}

// SetFilters merges p into the current filters.
func (s *State) SetFilters(p FilterPatch) model.Filters {
	s.mu.Lock()
	if p.Category != nil {
		s.filters.Category = strings.TrimSpace(*p.Category)
	}
	if p.Priority != nil {
		s.filters.Priority = strings.ToLower(strings.TrimSpace(*p.Priority))
	}
	if p.Status != nil {
		s.filters.Status = *p.Status
	}
	if p.Search != nil {
		s.filters.Search = strings.TrimSpace(*p.Search)
	}
	s.filters = s.filters.Normalize()
	f := s.filters
	s.mu.Unlock()

	s.changed("filter")
	return f
}

func (s *State) Filters() model.Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// LastSync reports when the state was last persisted.
func (s *State) LastSync() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync == nil {
		return time.Time{}, false
	}
	return *s.lastSync, true
}

// MarkSynced records a successful persistence at t.
func (s *State) MarkSynced(t time.Time) {
	t = t.UTC()
	s.mu.Lock()
	s.lastSync = &t
	s.mu.Unlock()
}

// Serialize returns the full record form of the state.
func (s *State) Serialize() model.StateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serialize()
}

func (s *State) serialize() model.StateRecord {
	rec := model.StateRecord{
		Tasks:       make([]model.TaskRecord, 0, len(s.tasks)),
		Filters:     s.filters,
		NextOrderID: s.nextOrderID,
	}
	for _, t := range s.tasks {
		rec.Tasks = append(rec.Tasks, t.Serialize())
	}
	if s.lastSync != nil {
		ts := s.lastSync.UTC().Format(model.TimestampLayout)
		rec.LastSync = &ts
	}
	return rec
}

// Deserialize replaces the state with rec. Tasks that fail validation or
// repeat an id are dropped; the returned error lists them. Orders are
// renumbered and the counter reset to the task count.
func (s *State) Deserialize(rec model.StateRecord) error {
	tasks, lastSync, err := s.decode(rec)

	s.mu.Lock()
	s.tasks = tasks
	s.nextOrderID = len(tasks)
	s.filters = rec.Filters.Normalize()
	s.lastSync = lastSync
	s.undo = s.undo[:0]
	s.recompute()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("state loaded with dropped tasks", "error", err)
	}
	s.changed("load")
	return err
}

// DeserializeJSON decodes data produced by model.Encode. Undecodable input
// resets the state to empty and returns an ErrInvalidState error.
func (s *State) DeserializeJSON(data []byte) error {
	var rec model.StateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.Reset()
		s.logger.Error("state decode failed, reset to empty", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return s.Deserialize(rec)
}

// Reset empties the state.
func (s *State) Reset() {
	s.mu.Lock()
	s.tasks = []model.Task{}
	s.nextOrderID = 0
	s.filters = model.DefaultFilters()
	s.lastSync = nil
	s.undo = s.undo[:0]
	s.recompute()
	s.mu.Unlock()

	s.changed("reset")
}

// Replace adopts rec wholesale when its canonical encoding differs from the
// current one. It reports whether anything changed.
func (s *State) Replace(rec model.StateRecord) (bool, error) {
	incoming := New(WithClock(s.now))
	decodeErr := incoming.Deserialize(rec)
	next, err := model.Encode(incoming.Serialize())
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	current, err := model.Encode(s.serialize())
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if string(current) == string(next) {
		s.mu.Unlock()
		return false, nil
	}
	incoming.mu.Lock()
	s.tasks = incoming.tasks
	s.nextOrderID = incoming.nextOrderID
	s.filters = incoming.filters
	s.lastSync = incoming.lastSync
	incoming.mu.Unlock()
	s.undo = s.undo[:0]
	s.recompute()
	s.mu.Unlock()

	s.changed("replace")
	return true, decodeErr
}

func (s *State) decode(rec model.StateRecord) ([]model.Task, *time.Time, error) {
	var errs []error
	tasks := make([]model.Task, 0, len(rec.Tasks))
	seen := make(map[string]bool, len(rec.Tasks))
	for i, tr := range rec.Tasks {
		t, err := model.DeserializeTask(tr)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %d: %w", i, err))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("task %d: %w: %s", i, ErrDuplicateTask, t.ID))
			continue
		}
		seen[t.ID] = true
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Order < tasks[j].Order
	})
	for i := range tasks {
		tasks[i].Order = i
	}

	var lastSync *time.Time
	if rec.LastSync != nil && *rec.LastSync != "" {
		ts, err := time.Parse(model.TimestampLayout, *rec.LastSync)
		if err != nil {
			errs = append(errs, fmt.Errorf("lastSync: %w", err))
		} else {
			ts = ts.UTC()
			lastSync = &ts
		}
	}
	return tasks, lastSync, errors.Join(errs...)
}

// cleanPatch drops values that would break task invariants.
func (s *State) cleanPatch(p model.Patch) model.Patch {
	if p.Text != nil {
		text := validate.SanitizeText(*p.Text)
		if text == "" {
			s.logger.Warn("ignoring empty task text in update")
			p.Text = nil
		} else {
			p.Text = &text
		}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		s.logger.Warn("ignoring invalid priority in update", "priority", *p.Priority)
		p.Priority = nil
	}
	if p.Category != nil {
		category := validate.SanitizeCategory(*p.Category)
		p.Category = &category
	}
	if p.Order != nil && *p.Order < 0 {
		p.Order = nil
	}
	return p
}

func (s *State) indexOf(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// moveTo moves tasks[idx] to target (clamped) and returns its new index.
func (s *State) moveTo(idx, target int) int {
	if target >= len(s.tasks) {
		target = len(s.tasks) - 1
	}
	if target < 0 {
		target = 0
	}
	if target == idx {
		return idx
	}
	task := s.tasks[idx]
	s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
	s.tasks = append(s.tasks[:target], append([]model.Task{task}, s.tasks[target:]...)...)
	s.renumber()
	return target
}

func (s *State) renumber() {
	for i := range s.tasks {
		s.tasks[i].Order = i
	}
	s.nextOrderID = len(s.tasks)
}

func (s *State) recompute() {
	s.stats = model.ComputeStats(s.tasks)
}

func (s *State) changed(op string) {
	s.bus.Publish(event.Event{Kind: event.StateChanged, Op: op, Time: s.now().UTC()})
}
