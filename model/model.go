package model

import (
	"encoding/json"
	"math"
	"strings"
)

// FilterAll disables the category or priority filter.
const FilterAll = "all"

// Status represents which completion state should be shown.
type Status string

const (
	StatusAll       Status = "all"
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAll, StatusCompleted, StatusPending:
		return true
	default:
		return false
	}
}

// Filters is the current view filter. All conditions are AND-combined.
type Filters struct {
	Category string `json:"category"`
	Priority string `json:"priority"`
	Status   Status `json:"status"`
	Search   string `json:"search"`
}

// DefaultFilters shows everything.
func DefaultFilters() Filters {
	return Filters{
		Category: FilterAll,
		Priority: FilterAll,
		Status:   StatusAll,
		Search:   "",
	}
}

// Normalize fills empty or unknown values with their defaults.
func (f Filters) Normalize() Filters {
	if strings.TrimSpace(f.Category) == "" {
		f.Category = FilterAll
	}
	if strings.TrimSpace(f.Priority) == "" {
		f.Priority = FilterAll
	}
	if !f.Status.Valid() {
		f.Status = StatusAll
	}
	return f
}

// Matches reports whether t passes category, priority, status and search,
// checked in that order.
func (f Filters) Matches(t Task) bool {
	if f.Category != FilterAll && f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Priority != FilterAll && f.Priority != "" && string(t.Priority) != f.Priority {
		return false
	}
	switch f.Status {
	case StatusCompleted:
		if !t.Completed {
			return false
		}
	case StatusPending:
		if t.Completed {
			return false
		}
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(t.Text), q) {
			return false
		}
	}
	return true
}

// Stats are derived counters over the task collection.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Pending        int `json:"pending"`
	CompletionRate int `json:"completionRate"`
}

// ComputeStats counts tasks. CompletionRate is a rounded percentage, 0 for
// an empty collection.
func ComputeStats(tasks []Task) Stats {
	s := Stats{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			s.Completed++
		}
	}
	s.Pending = s.Total - s.Completed
	if s.Total > 0 {
		s.CompletionRate = int(math.Round(float64(s.Completed) / float64(s.Total) * 100))
	}
	return s
}

// StateRecord is the full serialized application state.
type StateRecord struct {
	Tasks       []TaskRecord `json:"tasks"`
	Filters     Filters      `json:"filters"`
	NextOrderID int          `json:"nextOrderId"`
	LastSync    *string      `json:"lastSync"`
}

// NewStateRecord returns an initialized empty state record.
func NewStateRecord() StateRecord {
	return StateRecord{
		Tasks:       []TaskRecord{},
		Filters:     DefaultFilters(),
		NextOrderID: 0,
	}
}

// Encode is the canonical serialization of a state record: compact JSON
// with tasks in order. Checksums and change detection compare these bytes.
func Encode(rec StateRecord) ([]byte, error) {
	if rec.Tasks == nil {
		rec.Tasks = []TaskRecord{}
	}
	return json.Marshal(rec)
}
