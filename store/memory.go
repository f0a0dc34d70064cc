package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process key-value medium shared by several backends, the
// way one origin's storage is shared by its browser tabs. A write made
// through one backend is reported to the watchers of every other backend.
type Memory struct {
	mu          sync.Mutex
	data        map[string][]byte
	quota       int
	unavailable bool
	nextID      int
	watchers    map[int]memoryWatcher
}

type memoryWatcher struct {
	owner int
	fn    func(Change)
}

func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		watchers: make(map[int]memoryWatcher),
	}
}

// SetQuota limits the total stored bytes; 0 means unlimited.
func (m *Memory) SetQuota(bytes int) {
	m.mu.Lock()
	m.quota = bytes
	m.mu.Unlock()
}

// SetUnavailable makes every operation fail with ErrUnavailable.
func (m *Memory) SetUnavailable(unavailable bool) {
	m.mu.Lock()
	m.unavailable = unavailable
	m.mu.Unlock()
}

// Raw returns the stored value without going through a backend.
func (m *Memory) Raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return append([]byte(nil), v...), ok
}

// SetRaw overwrites a value without notifying anyone.
func (m *Memory) SetRaw(key string, value []byte) {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
}

// Open returns a backend attached to this medium.
func (m *Memory) Open() *MemoryBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return &MemoryBackend{mem: m, id: m.nextID}
}

// MemoryBackend is one context's view of a shared Memory.
type MemoryBackend struct {
	mem *Memory
	id  int
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m := b.mem
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, ErrUnavailable
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *MemoryBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := b.mem
	m.mu.Lock()
	if m.unavailable {
		m.mu.Unlock()
		return ErrUnavailable
	}
	if m.quota > 0 {
		used := len(value)
		for k, v := range m.data {
			if k != key {
				used += len(v)
			}
		}
		if used > m.quota {
			m.mu.Unlock()
			return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, used, m.quota)
		}
	}
	m.data[key] = append([]byte(nil), value...)
	watchers := m.othersLocked(b.id)
	m.mu.Unlock()

	change := Change{Key: key, Value: append([]byte(nil), value...)}
	for _, fn := range watchers {
		fn(change)
	}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	m := b.mem
	m.mu.Lock()
	if m.unavailable {
		m.mu.Unlock()
		return ErrUnavailable
	}
	if _, ok := m.data[key]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.data, key)
	watchers := m.othersLocked(b.id)
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(Change{Key: key, Deleted: true})
	}
	return nil
}

// Watch reports writes made through other backends of the same Memory.
func (b *MemoryBackend) Watch(ctx context.Context, fn func(Change)) error {
	m := b.mem
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = memoryWatcher{owner: b.id, fn: fn}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}()
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

func (m *Memory) othersLocked(owner int) []func(Change) {
	out := make([]func(Change), 0, len(m.watchers))
	for _, w := range m.watchers {
		if w.owner != owner {
			out = append(out, w.fn)
		}
	}
	return out
}
