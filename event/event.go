// Package event is a small synchronous publish/subscribe bus shared by the
// state container, the storage service and the UI.
package event

import (
	"slices"
	"sync"
	"time"
)

// Kind identifies an event class.
type Kind string

const (
	StateChanged Kind = "state.changed"
	Saved        Kind = "storage.saved"
	LoadFailed   Kind = "storage.load_failed"
	SyncApplied  Kind = "sync.applied"

	// Diagnostics published by the storage service.
	SaveFailed       Kind = "storage.save_failed"
	QuotaExceeded    Kind = "storage.quota_exceeded"
	Unavailable      Kind = "storage.unavailable"
	Corrupted        Kind = "storage.corrupted"
	IntegrityWarning Kind = "storage.integrity_warning"
	Recovered        Kind = "storage.recovered"
)

// Event is delivered to every subscriber.
type Event struct {
	Kind    Kind
	Time    time.Time
	Message string
	Err     error
	// Op names the operation that produced the event (e.g. "add", "save").
	Op string
}

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(Event)

// Bus fans events out to subscribers. The zero value is ready to use.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish calls every handler in subscription order. A nil bus drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.mu.Lock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}
