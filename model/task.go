package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxTextLength     = 255
	MaxCategoryLength = 50
	DefaultCategory   = "general"

	// TimestampLayout is used for every persisted timestamp.
	TimestampLayout = time.RFC3339Nano
)

var (
	ErrEmptyText       = errors.New("task text must not be empty")
	ErrTextTooLong     = fmt.Errorf("task text must be at most %d characters", MaxTextLength)
	ErrInvalidPriority = errors.New("invalid priority")
	ErrInvalidRecord   = errors.New("invalid task record")
)

// Priority is the task importance.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DefaultPriority is assigned when none (or an unknown one) is given.
const DefaultPriority = PriorityMedium

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// ParsePriority maps case-insensitive input to a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

// ValidationError is returned by NewTask when the input violates a field rule.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Task is an individual todo item.
//
// ID is assigned by NewTask and is never changed by Update.
type Task struct {
	ID        string
	Text      string
	Completed bool
	Priority  Priority
	Category  string
	Order     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskRecord is the plain serialized form of a Task.
type TaskRecord struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Completed bool     `json:"completed"`
	Priority  Priority `json:"priority"`
	Category  string   `json:"category"`
	Order     int      `json:"order"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

type taskOptions struct {
	completed bool
	priority  Priority
	category  string
	now       func() time.Time
}

// TaskOption customizes NewTask.
type TaskOption func(*taskOptions)

func WithCompleted(completed bool) TaskOption {
	return func(o *taskOptions) { o.completed = completed }
}

func WithPriority(p Priority) TaskOption {
	return func(o *taskOptions) { o.priority = p }
}

func WithCategory(category string) TaskOption {
	return func(o *taskOptions) { o.category = category }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) TaskOption {
	return func(o *taskOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewTask builds a task with a fresh id and both timestamps set to now.
// Text is trimmed; empty or over-length text is rejected.
func NewTask(text string, opts ...TaskOption) (Task, error) {
	o := taskOptions{
		priority: DefaultPriority,
		category: DefaultCategory,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Task{}, &ValidationError{Field: "text", Err: ErrEmptyText}
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return Task{}, &ValidationError{Field: "text", Err: ErrTextTooLong}
	}
	if !o.priority.Valid() {
		return Task{}, &ValidationError{Field: "priority", Err: fmt.Errorf("%w: %q", ErrInvalidPriority, o.priority)}
	}
	category := strings.TrimSpace(o.category)
	if category == "" {
		category = DefaultCategory
	}

	now := o.now().UTC()
	return Task{
		ID:        uuid.NewString(),
		Text:      text,
		Completed: o.completed,
		Priority:  o.priority,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Patch lists the fields Update may change. Nil fields are left alone.
type Patch struct {
	Text      *string
	Completed *bool
	Priority  *Priority
	Category  *string
	Order     *int
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Text == nil && p.Completed == nil && p.Priority == nil && p.Category == nil && p.Order == nil
}

// PatchFromFields converts a generic field map into a Patch. Keys outside the
// update whitelist and values of the wrong type are ignored.
func PatchFromFields(fields map[string]any) Patch {
	var p Patch
	for key, value := range fields {
		switch key {
		case "text":
			if s, ok := value.(string); ok {
				p.Text = &s
			}
		case "completed":
			if b, ok := value.(bool); ok {
				p.Completed = &b
			}
		case "priority":
			switch v := value.(type) {
			case string:
				pr := Priority(v)
				p.Priority = &pr
			case Priority:
				p.Priority = &v
			}
		case "category":
			if s, ok := value.(string); ok {
				p.Category = &s
			}
		case "order":
			if n, ok := AsOrder(value); ok {
				p.Order = &n
			}
		}
	}
	return p
}

// AsOrder extracts a non-negative integer order from the numeric kinds that
// appear in decoded input.
func AsOrder(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, v >= 0
	case int32:
		return int(v), v >= 0
	case int64:
		return int(v), v >= 0
	case float64:
		if v < 0 || v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// Update applies the patch and refreshes UpdatedAt.
func (t *Task) Update(p Patch, now time.Time) {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	t.UpdatedAt = now.UTC()
}

// IsValid is a structural self-check used after decoding untrusted data.
func (t Task) IsValid() bool {
	return t.ID != "" &&
		strings.TrimSpace(t.Text) != "" &&
		t.Priority.Valid() &&
		!t.CreatedAt.IsZero() &&
		!t.UpdatedAt.IsZero() &&
		t.Order >= 0
}

// Serialize returns the plain record form.
func (t Task) Serialize() TaskRecord {
	return TaskRecord{
		ID:        t.ID,
		Text:      t.Text,
		Completed: t.Completed,
		Priority:  t.Priority,
		Category:  t.Category,
		Order:     t.Order,
		CreatedAt: t.CreatedAt.UTC().Format(TimestampLayout),
		UpdatedAt: t.UpdatedAt.UTC().Format(TimestampLayout),
	}
}

// DeserializeTask rebuilds a task from its record and validates the result.
func DeserializeTask(rec TaskRecord) (Task, error) {
	createdAt, err := time.Parse(TimestampLayout, rec.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("%w: createdAt: %v", ErrInvalidRecord, err)
	}
	updatedAt, err := time.Parse(TimestampLayout, rec.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("%w: updatedAt: %v", ErrInvalidRecord, err)
	}
	t := Task{
		ID:        rec.ID,
		Text:      rec.Text,
		Completed: rec.Completed,
		Priority:  rec.Priority,
		Category:  rec.Category,
		Order:     rec.Order,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	if t.Category == "" {
		t.Category = DefaultCategory
	}
	if !t.IsValid() {
		return Task{}, fmt.Errorf("%w: id=%q", ErrInvalidRecord, rec.ID)
	}
	return t, nil
}
