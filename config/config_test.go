package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Storage.Backend != BackendFile {
		t.Fatalf("expected file backend, got %q", cfg.Storage.Backend)
	}
	if want := filepath.Join(dir, "data", "taskboard"); cfg.Storage.Path != want {
		t.Fatalf("expected storage path %q, got %q", want, cfg.Storage.Path)
	}
	if cfg.Storage.MaxBytes != 5<<20 || cfg.Storage.Key != "taskboard-state" {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Storage.Timeout != 2*time.Second || !cfg.Sync.Enabled {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFileThenEnvThenFlags(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "taskboard.yaml")
	yaml := `storage:
  backend: sqlite
  key: from-file
  checksum: blake3
  timeout: 750ms
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	t.Setenv("TASKBOARD_STORAGE_KEY", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("backend", "", "")
	flags.String("key", "", "")
	flags.Bool("no-sync", false, "")
	if err := flags.Parse([]string{"--backend", "memory", "--no-sync"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Fatalf("expected flag to win for backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Key != "from-env" {
		t.Fatalf("expected env to win for key, got %q", cfg.Storage.Key)
	}
	if cfg.Storage.Checksum != "blake3" || cfg.Storage.Timeout != 750*time.Millisecond {
		t.Fatalf("expected file values, got %+v", cfg.Storage)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected file log level, got %q", cfg.Log.Level)
	}
	if cfg.Sync.Enabled {
		t.Fatalf("expected --no-sync to disable sync")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	if _, err := Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Fatalf("expected an error for a missing explicit config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "redis"
	cfg.Storage.Checksum = "md5"
	cfg.Storage.MaxBytes = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	for _, fragment := range []string{"storage.backend", "storage.checksum", "storage.max_bytes", "log.format"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %q", fragment, err.Error())
		}
	}
}
