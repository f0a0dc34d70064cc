package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taskboard/app"
	"taskboard/config"
	"taskboard/store"
	"taskboard/validate"
)

func isolate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv("HOME", root)
	return filepath.Join(root, "board")
}

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--path", dir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	if err != nil {
		t.Fatalf("taskboard %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestAddListDoneStats(t *testing.T) {
	dir := isolate(t)

	if out := mustRun(t, dir, "add", "Buy", "milk", "-p", "high", "-c", "home"); !strings.Contains(out, "Added #1 Buy milk") {
		t.Fatalf("unexpected add output %q", out)
	}
	mustRun(t, dir, "add", "Write report")

	out := mustRun(t, dir, "list")
	if !strings.Contains(out, "1. [ ] Buy milk  (high, home)") || !strings.Contains(out, "2. [ ] Write report  (medium, general)") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	if out := mustRun(t, dir, "done", "#2"); !strings.Contains(out, "Completed Write report") {
		t.Fatalf("unexpected done output %q", out)
	}

	out = mustRun(t, dir, "list", "--status", "completed")
	if strings.Contains(out, "Buy milk") || !strings.Contains(out, "[x] Write report") {
		t.Fatalf("expected only the completed task:\n%s", out)
	}

	out = mustRun(t, dir, "stats")
	for _, want := range []string{"Total:     2", "Completed: 1", "Progress:  50%", "Categories: general, home"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in stats:\n%s", want, out)
		}
	}
}

func TestEditMoveAndRemove(t *testing.T) {
	dir := isolate(t)
	mustRun(t, dir, "add", "first")
	mustRun(t, dir, "add", "second")

	mustRun(t, dir, "edit", "1", "--text", "first, revised", "--priority", "low")
	if out := mustRun(t, dir, "move", "1", "bottom"); !strings.Contains(out, "Moved first, revised to #2") {
		t.Fatalf("unexpected move output %q", out)
	}

	out := mustRun(t, dir, "list")
	if !strings.Contains(out, "1. [ ] second") || !strings.Contains(out, "2. [ ] first, revised  (low, general)") {
		t.Fatalf("unexpected order:\n%s", out)
	}

	if _, err := run(t, dir, "move", "1", "up"); !errors.Is(err, app.ErrTaskAlreadyAtTop) {
		t.Fatalf("expected ErrTaskAlreadyAtTop, got %v", err)
	}

	mustRun(t, dir, "rm", "2")
	if out := mustRun(t, dir, "list"); strings.Contains(out, "first") {
		t.Fatalf("expected task to be removed:\n%s", out)
	}
}

func TestEditRejectsInvalidPriority(t *testing.T) {
	dir := isolate(t)
	mustRun(t, dir, "add", "task")

	_, err := run(t, dir, "edit", "1", "--priority", "urgent")
	var res validate.Result
	if !errors.As(err, &res) || res.Valid {
		t.Fatalf("expected a validation result error, got %v", err)
	}

	if _, err := run(t, dir, "edit", "1"); err == nil {
		t.Fatalf("expected an error when no field is given")
	}
}

func TestResolveTask(t *testing.T) {
	st := app.New()
	a, _ := st.CreateTask(validate.Candidate{Text: "alpha"})
	b, _ := st.CreateTask(validate.Candidate{Text: "beta"})

	cases := []struct {
		ref  string
		want string
		err  error
	}{
		{ref: "1", want: a.ID},
		{ref: "#2", want: b.ID},
		{ref: "3", err: errNoMatch},
		{ref: "0", err: errNoMatch},
		{ref: b.ID[:12], want: b.ID},
		{ref: "zzz", err: errNoMatch},
	}
	for _, tc := range cases {
		t.Run(tc.ref, func(t *testing.T) {
			got, err := resolveTask(st, tc.ref)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil || got.ID != tc.want {
				t.Fatalf("resolveTask(%q) = %s, %v; want %s", tc.ref, got.ID, err, tc.want)
			}
		})
	}
}

func TestExportImportReset(t *testing.T) {
	dir := isolate(t)
	mustRun(t, dir, "add", "keep me")

	file := filepath.Join(t.TempDir(), "board.json")
	mustRun(t, dir, "export", file)
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("expected export file: %v", err)
	}

	if _, err := run(t, dir, "reset"); err == nil {
		t.Fatalf("expected reset without --yes to fail")
	}
	if out := mustRun(t, dir, "reset", "--yes"); !strings.Contains(out, "Storage cleared.") {
		t.Fatalf("unexpected reset output %q", out)
	}
	if out := mustRun(t, dir, "list"); !strings.Contains(out, "No tasks.") {
		t.Fatalf("expected empty board after reset:\n%s", out)
	}
	if _, err := run(t, dir, "export"); err == nil {
		t.Fatalf("expected export of an empty store to fail")
	}

	mustRun(t, dir, "import", file)
	if out := mustRun(t, dir, "list"); !strings.Contains(out, "keep me") {
		t.Fatalf("expected imported task:\n%s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, dir, "import", bad); err == nil {
		t.Fatalf("expected import of a malformed file to fail")
	}
}

func TestStatusAndConfig(t *testing.T) {
	dir := isolate(t)
	mustRun(t, dir, "add", "one")

	out := mustRun(t, dir, "status")
	for _, want := range []string{"Backend:   file", "Available: true", "Tasks:     1", "Checksum:  sha256"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in status:\n%s", want, out)
		}
	}

	out = mustRun(t, dir, "--backend", "memory", "config")
	if !strings.Contains(out, "backend: memory") {
		t.Fatalf("expected effective config, got:\n%s", out)
	}
}

func TestOpenBoardWithUnavailableStorage(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := store.New(mem.Open())
	saved := app.New()
	if _, res := saved.CreateTask(validate.Candidate{Text: "stored task"}); !res.Valid {
		t.Fatalf("create failed: %v", res.Errors)
	}
	if err := svc.Save(ctx, saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	before, _ := mem.Raw(store.DefaultKey)
	mem.SetUnavailable(true)

	e := &env{cfg: config.Default(), logger: slog.New(slog.DiscardHandler), svc: svc}
	st, boardSvc, status, err := e.openBoard(ctx)
	if err != nil {
		t.Fatalf("expected the board to open, got %v", err)
	}
	if boardSvc != nil {
		t.Fatalf("expected a session without persistence")
	}
	if status != storageUnavailableStatus {
		t.Fatalf("unexpected startup status %q", status)
	}
	if len(st.Tasks()) != 0 {
		t.Fatalf("expected an empty board, got %d tasks", len(st.Tasks()))
	}

	mem.SetUnavailable(false)
	if after, _ := mem.Raw(store.DefaultKey); !bytes.Equal(before, after) {
		t.Fatalf("stored board must be left as it was")
	}
}

func TestInteractiveSessionStartsWhenStorageCannotOpen(t *testing.T) {
	isolate(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(blocker, "board")

	if _, err := run(t, dir, "list"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected scripting commands to fail with ErrUnavailable, got %v", err)
	}

	orig := stdioIsTerminal
	stdioIsTerminal = func() bool { return false }
	defer func() { stdioIsTerminal = orig }()

	_, err := run(t, dir, "tui")
	if err == nil || !strings.Contains(err.Error(), "needs a terminal") {
		t.Fatalf("expected setup to pass and stop at the terminal check, got %v", err)
	}
}
