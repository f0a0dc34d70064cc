package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("key not found")
	ErrUnavailable       = errors.New("storage unavailable")
	ErrQuotaExceeded     = errors.New("storage quota exceeded")
	ErrCorrupted         = errors.New("stored data corrupted")
	ErrTimeout           = errors.New("storage operation timed out")
	ErrWriteFailed       = errors.New("storage write failed")
	ErrWatchNotSupported = errors.New("backend does not support change notification")
)

// Backend is a durable key-value store holding UTF-8 text blobs.
type Backend interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete returns ErrNotFound when key is absent.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Change describes a write made to the store by another context.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Watcher is implemented by backends that can report foreign writes. Watch
// returns once the subscription is set up; fn is called until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, fn func(Change)) error
}

// Backup is one earlier copy of a stored value, newest first.
type Backup struct {
	Name string
	Data []byte
}

// Recoverer is implemented by backends that keep earlier copies of values.
type Recoverer interface {
	Backups(ctx context.Context, key string) ([]Backup, error)
	// Quarantine moves the current value aside and returns where it went.
	Quarantine(ctx context.Context, key string) (string, error)
}

// Error is returned by every Service operation that fails. Kind is one of
// the package sentinel errors; Err is the underlying cause, if any.
type Error struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil || (errors.Is(e.Err, e.Kind) && e.Err.Error() == e.Kind.Error()) {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Key, e.Kind)
	}
	return fmt.Sprintf("store: %s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classify maps a backend error onto one of the sentinel kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrQuotaExceeded):
		return ErrQuotaExceeded
	case errors.Is(err, ErrUnavailable):
		return ErrUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return ErrTimeout
	case errors.Is(err, ErrCorrupted):
		return ErrCorrupted
	default:
		return ErrWriteFailed
	}
}
