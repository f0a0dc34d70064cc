package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"taskboard/app"
	"taskboard/event"
	"taskboard/model"
)

const (
	DefaultKey      = "taskboard-state"
	DefaultMaxBytes = 5 << 20

	availabilityKey = "__taskboard_availability__"

	// ownWriteHistory bounds how many of our own writes are remembered so
	// that their change notifications can be ignored.
	ownWriteHistory = 16
)

// Service persists an app.State through a Backend as a checksummed
// envelope.
type Service struct {
	backend   Backend
	key       string
	maxBytes  int
	algorithm string
	timeout   time.Duration
	logger    *slog.Logger
	bus       *event.Bus
	now       func() time.Time

	mu       sync.Mutex
	written  []string
	nextID   int
	handlers map[int]func(*app.State)
	// bound holds the buses of states kept in step by Bind. Diagnostics
	// from operations that have no state of their own go to these too.
	bound map[int]*event.Bus
}

type ServiceOption func(*Service)

func WithKey(key string) ServiceOption {
	return func(s *Service) {
		if key != "" {
			s.key = key
		}
	}
}

// WithMaxBytes caps the size of a serialized envelope; 0 disables the cap.
func WithMaxBytes(n int) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.maxBytes = n
		}
	}
}

// WithAlgorithm selects the checksum used for new envelopes. Stored
// envelopes are verified with whatever algorithm they name.
func WithAlgorithm(name string) ServiceOption {
	return func(s *Service) {
		if ValidAlgorithm(name) {
			s.algorithm = name
		}
	}
}

// WithTimeout bounds every backend call; 0 means no bound.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBus sets where diagnostics are published. Without it they go to the
// bus of the state being saved or loaded.
func WithBus(bus *event.Bus) ServiceOption {
	return func(s *Service) {
		s.bus = bus
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(backend Backend, opts ...ServiceOption) *Service {
	s := &Service{
		backend:   backend,
		key:       DefaultKey,
		maxBytes:  DefaultMaxBytes,
		algorithm: AlgorithmSHA256,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
		handlers:  make(map[int]func(*app.State)),
		bound:     make(map[int]*event.Bus),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the storage key the service reads and writes.
func (s *Service) Key() string {
	return s.key
}

// IsAvailable writes and deletes a throwaway value.
func (s *Service) IsAvailable(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("availability check panicked", "panic", r)
			ok = false
		}
	}()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.backend.Put(ctx, availabilityKey, []byte("ok")); err != nil {
		s.logger.Debug("availability check failed", "error", err)
		return false
	}
	if err := s.backend.Delete(ctx, availabilityKey); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Debug("availability check cleanup failed", "error", err)
		return false
	}
	return true
}

// Save writes st under the service key. The record carries the sync time
// of this save, and st is marked synced only when the write succeeds.
func (s *Service) Save(ctx context.Context, st *app.State) error {
	bus := s.busFor(st)
	now := s.now().UTC()
	rec := st.Serialize()
	stamp := now.Format(model.TimestampLayout)
	rec.LastSync = &stamp

	raw, err := sealEnvelope(rec, s.algorithm, stamp)
	if err != nil {
		return s.saveFailed(bus, &Error{Op: "save", Key: s.key, Kind: ErrWriteFailed, Err: err})
	}
	if s.maxBytes > 0 && len(raw) > s.maxBytes {
		err := fmt.Errorf("record is %s, limit %s", humanize.Bytes(uint64(len(raw))), humanize.Bytes(uint64(s.maxBytes)))
		return s.saveFailed(bus, &Error{Op: "save", Key: s.key, Kind: ErrQuotaExceeded, Err: err})
	}

	s.remember(raw)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.backend.Put(ctx, s.key, raw); err != nil {
		kind := classify(err)
		if kind == ErrNotFound || kind == ErrCorrupted {
			kind = ErrWriteFailed
		}
		return s.saveFailed(bus, &Error{Op: "save", Key: s.key, Kind: kind, Err: err})
	}

	st.MarkSynced(now)
	s.logger.Debug("state saved", "key", s.key, "bytes", len(raw), "tasks", len(rec.Tasks))
	bus.Publish(event.Event{Kind: event.Saved, Op: "save", Message: humanize.Bytes(uint64(len(raw)))})
	return nil
}

func (s *Service) saveFailed(bus *event.Bus, serr *Error) error {
	kind := event.SaveFailed
	switch serr.Kind {
	case ErrQuotaExceeded:
		kind = event.QuotaExceeded
	case ErrUnavailable:
		kind = event.Unavailable
	}
	s.logger.Error("state save failed", "key", s.key, "kind", serr.Kind, "error", serr.Err)
	bus.Publish(event.Event{Kind: kind, Op: "save", Err: serr, Message: serr.Error()})
	return serr
}

// Load reads the stored state into a new app.State. The returned state is
// always usable: when nothing is stored, or the record cannot be read, it
// is empty (or recovered from a backup) and the error says why.
func (s *Service) Load(ctx context.Context, opts ...app.Option) (*app.State, error) {
	st := app.New(opts...)
	err := s.LoadInto(ctx, st)
	return st, err
}

// LoadInto replaces st with the stored state. st is left untouched when the
// backend cannot be read.
func (s *Service) LoadInto(ctx context.Context, st *app.State) error {
	bus := s.busFor(st)
	rec, err := s.read(ctx, bus)
	switch {
	case err == nil && rec == nil:
		st.Reset()
		return nil
	case err != nil && !errors.Is(err, ErrCorrupted):
		return err
	}

	if rec == nil {
		st.Reset()
		return err
	}
	if derr := st.Deserialize(*rec); derr != nil {
		s.logger.Warn("stored state had invalid tasks", "key", s.key, "error", derr)
	}
	return err
}

// read returns the stored record, nil when absent. On structural
// corruption it returns the recovered record (or nil) with an ErrCorrupted
// error.
func (s *Service) read(ctx context.Context, bus *event.Bus) (*model.StateRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		kind := classify(err)
		if kind == ErrWriteFailed {
			kind = ErrUnavailable
		}
		serr := &Error{Op: "load", Key: s.key, Kind: kind, Err: err}
		s.logger.Error("state load failed", "key", s.key, "error", err)
		evKind := event.LoadFailed
		if kind == ErrUnavailable {
			evKind = event.Unavailable
		}
		bus.Publish(event.Event{Kind: evKind, Op: "load", Err: serr, Message: serr.Error()})
		return nil, serr
	}

	env, rec, err := openEnvelope(raw)
	if err != nil {
		serr := &Error{Op: "load", Key: s.key, Kind: ErrCorrupted, Err: err}
		s.logger.Error("stored state corrupted", "key", s.key, "error", err)
		bus.Publish(event.Event{Kind: event.Corrupted, Op: "load", Err: serr, Message: serr.Error()})
		recovered := s.recover(ctx, bus)
		return recovered, serr
	}

	s.checkIntegrity(bus.Publish, "load", env)
	return &rec, nil
}

// recover quarantines the corrupt record and restores the newest backup
// that opens cleanly.
func (s *Service) recover(ctx context.Context, bus *event.Bus) *model.StateRecord {
	r, ok := s.backend.(Recoverer)
	if !ok {
		return nil
	}
	backups, err := r.Backups(ctx, s.key)
	if err != nil {
		s.logger.Warn("listing backups failed", "key", s.key, "error", err)
		return nil
	}
	for _, b := range backups {
		env, rec, err := openEnvelope(b.Data)
		if err != nil {
			continue
		}
		if valid, err := verifyEnvelope(env); err != nil || !valid {
			continue
		}
		moved, err := r.Quarantine(ctx, s.key)
		if err != nil {
			s.logger.Warn("quarantine failed", "key", s.key, "error", err)
		}
		if err := s.backend.Put(ctx, s.key, b.Data); err != nil {
			s.logger.Warn("restoring backup failed", "key", s.key, "backup", b.Name, "error", err)
		}
		s.logger.Info("state recovered from backup", "key", s.key, "backup", b.Name, "quarantined", moved)
		bus.Publish(event.Event{Kind: event.Recovered, Op: "load", Message: b.Name})
		return &rec
	}
	return nil
}

func (s *Service) checkIntegrity(report func(event.Event), op string, env Envelope) bool {
	valid, err := verifyEnvelope(env)
	if err == nil && valid {
		return true
	}
	if err == nil {
		err = errors.New("checksum mismatch")
	}
	s.logger.Warn("stored state failed integrity check", "key", s.key, "op", op, "error", err)
	report(event.Event{Kind: event.IntegrityWarning, Op: op, Err: err, Message: err.Error()})
	return false
}

// Clear removes the stored record. Clearing an absent record succeeds.
func (s *Service) Clear(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.backend.Delete(ctx, s.key)
	if err == nil || errors.Is(err, ErrNotFound) {
		return nil
	}
	kind := classify(err)
	if kind == ErrWriteFailed {
		kind = ErrUnavailable
	}
	serr := &Error{Op: "clear", Key: s.key, Kind: kind, Err: err}
	s.logger.Error("clearing storage failed", "key", s.key, "error", err)
	s.publish(event.Event{Kind: event.Unavailable, Op: "clear", Err: serr, Message: serr.Error()})
	return serr
}

// Export returns the stored envelope verbatim.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return nil, &Error{Op: "export", Key: s.key, Kind: classify(err), Err: err}
	}
	return raw, nil
}

// Import stores raw verbatim after checking that it is a well-formed
// envelope. A checksum mismatch is reported but does not block the import.
func (s *Service) Import(ctx context.Context, raw []byte) error {
	env, _, err := openEnvelope(raw)
	if err != nil {
		return &Error{Op: "import", Key: s.key, Kind: ErrCorrupted, Err: err}
	}
	s.checkIntegrity(s.publish, "import", env)
	if s.maxBytes > 0 && len(raw) > s.maxBytes {
		err := fmt.Errorf("record is %s, limit %s", humanize.Bytes(uint64(len(raw))), humanize.Bytes(uint64(s.maxBytes)))
		return &Error{Op: "import", Key: s.key, Kind: ErrQuotaExceeded, Err: err}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.backend.Put(ctx, s.key, raw); err != nil {
		return &Error{Op: "import", Key: s.key, Kind: classify(err), Err: err}
	}
	s.logger.Info("state imported", "key", s.key, "bytes", len(raw))
	return nil
}

// OnExternalChange registers fn to receive the state written by another
// context once Watch is running. It returns a function that removes fn.
func (s *Service) OnExternalChange(fn func(*app.State)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// Watch delivers foreign writes of the service key to the OnExternalChange
// handlers until ctx is done. It returns ErrWatchNotSupported when the
// backend cannot report changes.
func (s *Service) Watch(ctx context.Context) error {
	return s.watch(ctx, s.publish, func(st *app.State) {
		s.mu.Lock()
		handlers := make([]func(*app.State), 0, len(s.handlers))
		for _, fn := range s.handlers {
			handlers = append(handlers, fn)
		}
		s.mu.Unlock()
		for _, fn := range handlers {
			fn(st)
		}
	})
}

// Bind keeps st in step with writes made by other contexts. A foreign
// write replaces st only when it encodes differently.
func (s *Service) Bind(ctx context.Context, st *app.State) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	bus := s.busFor(st)
	err := s.watch(ctx, bus.Publish, func(next *app.State) {
		changed, err := st.Replace(next.Serialize())
		if err != nil {
			s.logger.Warn("external state had invalid tasks", "key", s.key, "error", err)
		}
		if changed {
			s.logger.Info("external change applied", "key", s.key, "tasks", len(st.Tasks()))
			bus.Publish(event.Event{Kind: event.SyncApplied, Op: "sync"})
		}
	})
	if err != nil {
		cancel()
		return func() {}, err
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.bound[id] = bus
	s.mu.Unlock()

	return func() {
		cancel()
		s.mu.Lock()
		delete(s.bound, id)
		s.mu.Unlock()
	}, nil
}

func (s *Service) watch(ctx context.Context, report func(event.Event), deliver func(*app.State)) error {
	w, ok := s.backend.(Watcher)
	if !ok {
		return &Error{Op: "watch", Key: s.key, Kind: ErrWatchNotSupported}
	}
	err := w.Watch(ctx, func(c Change) {
		if c.Key != s.key {
			return
		}
		if c.Deleted {
			deliver(app.New())
			return
		}
		if s.isOwnWrite(c.Value) {
			return
		}
		env, rec, err := openEnvelope(c.Value)
		if err != nil {
			s.logger.Warn("ignoring corrupt external change", "key", s.key, "error", err)
			return
		}
		s.checkIntegrity(report, "sync", env)
		next := app.New()
		if err := next.Deserialize(rec); err != nil {
			s.logger.Warn("external state had invalid tasks", "key", s.key, "error", err)
		}
		deliver(next)
	})
	if err != nil {
		return &Error{Op: "watch", Key: s.key, Kind: classify(err), Err: err}
	}
	return nil
}

// Info describes the stored record.
type Info struct {
	Key           string
	Exists        bool
	Size          int
	Version       string
	Timestamp     string
	Algorithm     string
	Tasks         int
	ChecksumValid bool
	// Problem is set when the record exists but cannot be opened.
	Problem string
}

func (s *Service) Info(ctx context.Context) (Info, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	info := Info{Key: s.key}
	raw, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return info, nil
		}
		return info, &Error{Op: "info", Key: s.key, Kind: classify(err), Err: err}
	}
	info.Exists = true
	info.Size = len(raw)

	env, rec, err := openEnvelope(raw)
	if err != nil {
		info.Problem = err.Error()
		return info, nil
	}
	info.Version = env.Version
	info.Timestamp = env.Timestamp
	info.Algorithm = env.Algorithm
	if info.Algorithm == "" {
		info.Algorithm = AlgorithmSHA256
	}
	info.Tasks = len(rec.Tasks)
	info.ChecksumValid, _ = verifyEnvelope(env)
	return info, nil
}

// Close closes the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) busFor(st *app.State) *event.Bus {
	if s.bus != nil || st == nil {
		return s.bus
	}
	return st.Bus()
}

// publish sends ev to the service bus and to every bound state's bus.
func (s *Service) publish(ev event.Event) {
	s.mu.Lock()
	buses := make([]*event.Bus, 0, len(s.bound)+1)
	if s.bus != nil {
		buses = append(buses, s.bus)
	}
	for _, b := range s.bound {
		if !slices.Contains(buses, b) {
			buses = append(buses, b)
		}
	}
	s.mu.Unlock()

	for _, b := range buses {
		b.Publish(ev)
	}
}

func (s *Service) remember(raw []byte) {
	sum, _ := Checksum(AlgorithmBLAKE3, raw)
	s.mu.Lock()
	s.written = append(s.written, sum)
	if len(s.written) > ownWriteHistory {
		s.written = s.written[len(s.written)-ownWriteHistory:]
	}
	s.mu.Unlock()
}

func (s *Service) isOwnWrite(raw []byte) bool {
	sum, _ := Checksum(AlgorithmBLAKE3, raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.written {
		if w == sum {
			return true
		}
	}
	return false
}
