package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"taskboard/app"
	"taskboard/event"
	"taskboard/validate"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTaskState(t *testing.T, bus *event.Bus, texts ...string) *app.State {
	t.Helper()
	opts := []app.Option{app.WithClock(fixedClock)}
	if bus != nil {
		opts = append(opts, app.WithBus(bus))
	}
	st := app.New(opts...)
	for _, text := range texts {
		if _, res := st.CreateTask(validate.Candidate{Text: text}); !res.Valid {
			t.Fatalf("create %q failed: %v", text, res.Errors)
		}
	}
	return st
}

func taskTexts(st *app.State) []string {
	out := []string{}
	for _, task := range st.Tasks() {
		out = append(out, task.Text)
	}
	return out
}

// recorder collects the kinds published on a bus.
type recorder struct {
	mu    sync.Mutex
	kinds []event.Kind
}

func record(bus *event.Bus) *recorder {
	r := &recorder{}
	bus.Subscribe(func(e event.Event) {
		r.mu.Lock()
		r.kinds = append(r.kinds, e.Kind)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) has(kind event.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func TestLoadWithNothingStoredReturnsEmptyState(t *testing.T) {
	svc := New(NewMemory().Open())

	st, err := svc.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(st.Tasks()) != 0 {
		t.Fatalf("expected empty state, got %d tasks", len(st.Tasks()))
	}
	if _, ok := st.LastSync(); ok {
		t.Fatalf("expected no last sync on a fresh state")
	}
}

func TestSaveThenLoad(t *testing.T) {
	svc := New(NewMemory().Open(), WithClock(fixedClock))
	want := newTaskState(t, nil, "Buy milk", "Walk dog", "Call mom")
	want.ToggleTask(want.Tasks()[1].ID)

	if err := svc.Save(context.Background(), want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := svc.Load(context.Background(), app.WithClock(fixedClock))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if !reflect.DeepEqual(want.Serialize(), got.Serialize()) {
		t.Fatalf("save/load mismatch\nwant=%+v\ngot=%+v", want.Serialize(), got.Serialize())
	}
	if got.Stats() != want.Stats() {
		t.Fatalf("stats mismatch: want %+v got %+v", want.Stats(), got.Stats())
	}
}

func TestSaveStampsLastSync(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open(), WithClock(fixedClock))
	st := newTaskState(t, nil, "Buy milk")

	if err := svc.Save(context.Background(), st); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	synced, ok := st.LastSync()
	if !ok || !synced.Equal(testNow) {
		t.Fatalf("expected last sync %v, got %v (ok=%v)", testNow, synced, ok)
	}

	raw, _ := mem.Raw(DefaultKey)
	_, rec, err := openEnvelope(raw)
	if err != nil {
		t.Fatalf("open stored envelope: %v", err)
	}
	if want := st.Serialize().LastSync; rec.LastSync == nil || want == nil || *rec.LastSync != *want {
		t.Fatalf("stored lastSync %v does not match state", rec.LastSync)
	}
}

func TestEnvelopeLayout(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open(), WithClock(fixedClock))
	if err := svc.Save(context.Background(), newTaskState(t, nil, "Buy milk")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, _ := mem.Raw(DefaultKey)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("stored value is not JSON: %v", err)
	}
	for _, name := range []string{"version", "timestamp", "state", "checksum"} {
		if _, ok := fields[name]; !ok {
			t.Fatalf("envelope missing %q: %s", name, raw)
		}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Version != SchemaVersion {
		t.Fatalf("expected version %q, got %q", SchemaVersion, env.Version)
	}
	sum, _ := Checksum(AlgorithmSHA256, env.State)
	if sum != env.Checksum {
		t.Fatalf("checksum does not cover the state payload")
	}
}

func TestChecksumMismatchWarnsAndLoads(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open(), WithClock(fixedClock))
	if err := svc.Save(context.Background(), newTaskState(t, nil, "Task 1", "Task 2", "Task 3")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, _ := mem.Raw(DefaultKey)
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	env.Checksum = "0000"
	tampered, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	mem.SetRaw(DefaultKey, tampered)

	bus := event.NewBus()
	events := record(bus)
	st, err := svc.Load(context.Background(), app.WithBus(bus))
	if err != nil {
		t.Fatalf("checksum mismatch should not fail load: %v", err)
	}
	if !events.has(event.IntegrityWarning) {
		t.Fatalf("expected an integrity warning, got %v", events.kinds)
	}
	if got := len(st.Tasks()); got != 3 {
		t.Fatalf("expected 3 tasks, got %d", got)
	}
}

func TestTamperedPayloadIsDetected(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open(), WithAlgorithm(AlgorithmBLAKE3))
	if err := svc.Save(context.Background(), newTaskState(t, nil, "Pay rent")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, _ := mem.Raw(DefaultKey)
	mem.SetRaw(DefaultKey, bytes.Replace(raw, []byte("Pay rent"), []byte("Pay nothing"), 1))

	bus := event.NewBus()
	events := record(bus)
	st, err := svc.Load(context.Background(), app.WithBus(bus))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !events.has(event.IntegrityWarning) {
		t.Fatalf("expected an integrity warning after tampering")
	}
	if got := taskTexts(st); !reflect.DeepEqual(got, []string{"Pay nothing"}) {
		t.Fatalf("expected tampered data to load, got %v", got)
	}
}

func TestStructuralCorruptionStartsFresh(t *testing.T) {
	cases := map[string]string{
		"not json":        `{bad json`,
		"missing fields":  `{"version":"1.0","state":{"tasks":[]}}`,
		"tasks not array": `{"version":"1.0","timestamp":"x","checksum":"y","state":{"tasks":{}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			mem := NewMemory()
			mem.SetRaw(DefaultKey, []byte(raw))
			svc := New(mem.Open())

			bus := event.NewBus()
			events := record(bus)
			st, err := svc.Load(context.Background(), app.WithBus(bus))
			if !errors.Is(err, ErrCorrupted) {
				t.Fatalf("expected ErrCorrupted, got %v", err)
			}
			var serr *Error
			if !errors.As(err, &serr) || serr.Op != "load" {
				t.Fatalf("expected a load *Error, got %#v", err)
			}
			if st == nil || len(st.Tasks()) != 0 {
				t.Fatalf("expected a usable empty state")
			}
			if !events.has(event.Corrupted) {
				t.Fatalf("expected a corruption diagnostic")
			}
		})
	}
}

func TestSaveOverQuotaFails(t *testing.T) {
	mem := NewMemory()
	mem.SetQuota(64)
	bus := event.NewBus()
	events := record(bus)
	svc := New(mem.Open(), WithBus(bus))
	st := newTaskState(t, nil, "Buy milk")

	err := svc.Save(context.Background(), st)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if !events.has(event.QuotaExceeded) || events.has(event.SaveFailed) {
		t.Fatalf("expected only the quota diagnostic, got %v", events.kinds)
	}
	if _, ok := st.LastSync(); ok {
		t.Fatalf("failed save must not mark the state synced")
	}
}

func TestSaveOverMaxBytesFails(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open(), WithMaxBytes(32))

	err := svc.Save(context.Background(), newTaskState(t, nil, "Buy milk"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if _, ok := mem.Raw(DefaultKey); ok {
		t.Fatalf("oversized record must not reach the backend")
	}
}

func TestUnavailableStorage(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open())
	st := newTaskState(t, nil, "Buy milk")
	if err := svc.Save(context.Background(), st); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	mem.SetUnavailable(true)

	if svc.IsAvailable(context.Background()) {
		t.Fatalf("expected storage to report unavailable")
	}
	if err := svc.Save(context.Background(), st); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from save, got %v", err)
	}
	if err := svc.Clear(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from clear, got %v", err)
	}

	before := st.Serialize()
	if err := svc.LoadInto(context.Background(), st); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from load, got %v", err)
	}
	if !reflect.DeepEqual(before, st.Serialize()) {
		t.Fatalf("failed load must leave the state untouched")
	}
}

func TestIsAvailableLeavesNoValue(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open())
	if !svc.IsAvailable(context.Background()) {
		t.Fatalf("expected memory storage to be available")
	}
	if _, ok := mem.Raw(availabilityKey); ok {
		t.Fatalf("availability value left behind")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open())
	if err := svc.Save(context.Background(), newTaskState(t, nil, "Buy milk")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.Clear(context.Background()); err != nil {
			t.Fatalf("clear %d failed: %v", i, err)
		}
	}
	if _, ok := mem.Raw(DefaultKey); ok {
		t.Fatalf("expected record to be gone")
	}
}

// stallBackend blocks every write until the context is done. It does not
// support watching.
type stallBackend struct{ Backend }

func (b stallBackend) Put(ctx context.Context, _ string, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSaveTimesOut(t *testing.T) {
	svc := New(stallBackend{NewMemory().Open()}, WithTimeout(10*time.Millisecond))

	err := svc.Save(context.Background(), newTaskState(t, nil, "Buy milk"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestExportImport(t *testing.T) {
	src := New(NewMemory().Open(), WithClock(fixedClock))
	st := newTaskState(t, nil, "Buy milk", "Walk dog")
	if err := src.Save(context.Background(), st); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	raw, err := src.Export(context.Background())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	dstMem := NewMemory()
	dst := New(dstMem.Open())
	if err := dst.Import(context.Background(), raw); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if stored, _ := dstMem.Raw(DefaultKey); !bytes.Equal(stored, raw) {
		t.Fatalf("import must store the envelope verbatim")
	}
	got, err := dst.Load(context.Background())
	if err != nil {
		t.Fatalf("load after import failed: %v", err)
	}
	if !reflect.DeepEqual(taskTexts(got), []string{"Buy milk", "Walk dog"}) {
		t.Fatalf("unexpected tasks after import: %v", taskTexts(got))
	}

	if err := dst.Import(context.Background(), []byte(`{"tasks":[]}`)); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected malformed import to be rejected, got %v", err)
	}
	if _, err := New(NewMemory().Open()).Export(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound exporting nothing, got %v", err)
	}
}

func TestBindAppliesForeignWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := NewMemory()
	tabA := New(mem.Open(), WithClock(fixedClock))
	tabB := New(mem.Open(), WithClock(fixedClock))

	stateA := newTaskState(t, nil, "Buy milk")
	busB := event.NewBus()
	events := record(busB)
	stateB := newTaskState(t, busB)

	stop, err := tabB.Bind(ctx, stateB)
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer stop()

	if err := tabA.Save(ctx, stateA); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !reflect.DeepEqual(taskTexts(stateB), []string{"Buy milk"}) {
		t.Fatalf("expected tab B to adopt tab A's write, got %v", taskTexts(stateB))
	}
	if !events.has(event.SyncApplied) {
		t.Fatalf("expected a sync diagnostic")
	}
	if !reflect.DeepEqual(stateA.Serialize(), stateB.Serialize()) {
		t.Fatalf("tabs diverged\nA=%+v\nB=%+v", stateA.Serialize(), stateB.Serialize())
	}

	if err := tabA.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if len(stateB.Tasks()) != 0 {
		t.Fatalf("expected cleared storage to empty tab B")
	}
}

func TestBindReportsTamperedForeignWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := NewMemory()
	tabB := New(mem.Open(), WithClock(fixedClock))
	stateB := newTaskState(t, nil)
	events := record(stateB.Bus())

	stop, err := tabB.Bind(ctx, stateB)
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer stop()

	scratch := NewMemory()
	if err := New(scratch.Open(), WithClock(fixedClock)).Save(ctx, newTaskState(t, nil, "Buy milk")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	raw, _ := scratch.Raw(DefaultKey)
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	flipped := byte('a')
	if env.Checksum[0] == flipped {
		flipped = 'b'
	}
	env.Checksum = string(flipped) + env.Checksum[1:]
	tampered, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}

	if err := mem.Open().Put(ctx, DefaultKey, tampered); err != nil {
		t.Fatalf("foreign put failed: %v", err)
	}
	if !reflect.DeepEqual(taskTexts(stateB), []string{"Buy milk"}) {
		t.Fatalf("expected tampered write to be applied, got %v", taskTexts(stateB))
	}
	if !events.has(event.IntegrityWarning) {
		t.Fatalf("expected an integrity warning on the bound state's bus, got %v", events.kinds)
	}
}

func TestStatelessDiagnosticsReachBoundState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := NewMemory()
	svc := New(mem.Open(), WithClock(fixedClock))
	st := newTaskState(t, nil)
	events := record(st.Bus())
	stop, err := svc.Bind(ctx, st)
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	mem.SetUnavailable(true)
	if err := svc.Clear(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !events.has(event.Unavailable) {
		t.Fatalf("expected clear failure on the bound state's bus, got %v", events.kinds)
	}

	stop()
	after := record(st.Bus())
	if err := svc.Clear(ctx); err == nil {
		t.Fatalf("expected clear to keep failing")
	}
	if after.has(event.Unavailable) {
		t.Fatalf("expected no diagnostics after stop")
	}
}

func TestWatchIgnoresOtherKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := NewMemory()
	watcher := New(mem.Open())
	var calls int
	unsubscribe := watcher.OnExternalChange(func(*app.State) { calls++ })
	defer unsubscribe()
	if err := watcher.Watch(ctx); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	other := New(mem.Open(), WithKey("other-board"))
	if err := other.Save(ctx, newTaskState(t, nil, "Elsewhere")); err != nil {
		t.Fatalf("save other key failed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no notification for another key, got %d", calls)
	}

	same := New(mem.Open())
	if err := same.Save(ctx, newTaskState(t, nil, "Here")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
}

func TestWatchUnsupported(t *testing.T) {
	svc := New(stallBackend{NewMemory().Open()})
	if err := svc.Watch(context.Background()); !errors.Is(err, ErrWatchNotSupported) {
		t.Fatalf("expected ErrWatchNotSupported, got %v", err)
	}
}

func TestInfo(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open(), WithAlgorithm(AlgorithmBLAKE3), WithClock(fixedClock))

	info, err := svc.Info(context.Background())
	if err != nil || info.Exists {
		t.Fatalf("expected no record, got %+v (%v)", info, err)
	}

	if err := svc.Save(context.Background(), newTaskState(t, nil, "a", "b", "c")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	info, err = svc.Info(context.Background())
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if !info.Exists || info.Tasks != 3 || !info.ChecksumValid || info.Algorithm != AlgorithmBLAKE3 {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Version != SchemaVersion || info.Size == 0 {
		t.Fatalf("unexpected envelope details %+v", info)
	}
}

func TestErrorMessageNamesKindOnce(t *testing.T) {
	mem := NewMemory()
	svc := New(mem.Open())
	mem.SetUnavailable(true)

	err := svc.Clear(context.Background())
	if got, want := err.Error(), "store: clear "+DefaultKey+": storage unavailable"; got != want {
		t.Fatalf("unexpected message\nwant=%q\ngot=%q", want, got)
	}

	wrapped := &Error{Op: "save", Key: "k", Kind: ErrQuotaExceeded, Err: errors.New("disk full")}
	if got, want := wrapped.Error(), "store: save k: storage quota exceeded: disk full"; got != want {
		t.Fatalf("unexpected message\nwant=%q\ngot=%q", want, got)
	}
}
