package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

const (
	defaultRotatingBackups = 10
	lockRetryDelay         = 20 * time.Millisecond
	// lockFile serializes writers of every key in the directory.
	lockFile = ".taskboard.lock"
)

// FileBackend stores each key as <dir>/<key>.json. Writes go through a temp
// file and an atomic rename while holding the directory's lock file, and keep a
// latest backup (.bak) plus a rotating timestamped backup set.
type FileBackend struct {
	dir     string
	backups int
	logger  *slog.Logger
}

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithBackups sets how many rotating backups are kept; 0 disables them.
func WithBackups(n int) FileOption {
	return func(b *FileBackend) {
		if n >= 0 {
			b.backups = n
		}
	}
}

func WithFileLogger(logger *slog.Logger) FileOption {
	return func(b *FileBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string, opts ...FileOption) (*FileBackend, error) {
	b := &FileBackend{
		dir:     dir,
		backups: defaultRotatingBackups,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return b, nil
}

// Dir returns the storage directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.dir, key+".json"), nil
}

func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", classifyFS(err), err)
	}
	return data, nil
}

// Put backs up the current value, then replaces it atomically.
func (b *FileBackend) Put(ctx context.Context, key string, value []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	unlock, err := b.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := b.backup(path); err != nil {
		return fmt.Errorf("%w: backup: %v", classifyFS(err), err)
	}
	if err := writeAtomic(path, value); err != nil {
		return fmt.Errorf("%w: %v", classifyFS(err), err)
	}
	return nil
}

func (b *FileBackend) Delete(ctx context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	unlock, err := b.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", classifyFS(err), err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

// Backups lists the latest and rotating backups, newest first.
func (b *FileBackend) Backups(_ context.Context, key string) ([]Backup, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0, b.backups+1)
	latest := path + ".bak"
	if _, err := os.Stat(latest); err == nil {
		candidates = append(candidates, latest)
	}
	rotating, err := filepath.Glob(path + ".bak.*")
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(rotating)))
	candidates = append(candidates, rotating...)

	out := make([]Backup, 0, len(candidates))
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		out = append(out, Backup{Name: filepath.Base(candidate), Data: data})
	}
	return out, nil
}

// Quarantine renames the current file to <key>.corrupt-<timestamp>.json.
func (b *FileBackend) Quarantine(_ context.Context, key string) (string, error) {
	path, err := b.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	timestamp := time.Now().UTC().Format("20060102-150405.000")
	corruptPath := filepath.Join(b.dir, fmt.Sprintf("%s.corrupt-%s.json", key, timestamp))
	if err := os.Rename(path, corruptPath); err != nil {
		return "", err
	}
	b.logger.Warn("corrupt record quarantined", "key", key, "path", corruptPath)
	return corruptPath, nil
}

// Watch reports writes to <key>.json files in the directory, including the
// ones made by this process.
func (b *FileBackend) Watch(ctx context.Context, fn func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatchNotSupported, err)
	}
	if err := watcher.Add(b.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("%w: %v", classifyFS(err), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				key, ok := keyFromFile(ev.Name)
				if !ok {
					continue
				}
				switch {
				case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
					data, err := os.ReadFile(ev.Name)
					if err != nil {
						continue
					}
					fn(Change{Key: key, Value: data})
				case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
					if _, err := os.Stat(ev.Name); errors.Is(err, os.ErrNotExist) {
						fn(Change{Key: key, Deleted: true})
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				b.logger.Warn("file watch error", "dir", b.dir, "error", err)
			}
		}
	}()
	return nil
}

func keyFromFile(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".json") || strings.Contains(base, ".corrupt-") {
		return "", false
	}
	return strings.TrimSuffix(base, ".json"), true
}

func (b *FileBackend) lock(ctx context.Context) (func(), error) {
	path := filepath.Join(b.dir, lockFile)
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", ErrTimeout, filepath.Base(path), err)
		}
		return nil, fmt.Errorf("%w: lock: %v", classifyFS(err), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: lock %s not acquired", ErrTimeout, filepath.Base(path))
	}
	return func() { _ = fl.Unlock() }, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (b *FileBackend) backup(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if err := os.WriteFile(path+".bak", data, 0o644); err != nil {
		return err
	}
	if b.backups == 0 {
		return nil
	}

	timestamp := time.Now().UTC().Format("20060102-150405.000000000")
	rotatingPath := fmt.Sprintf("%s.bak.%s", path, timestamp)
	if err := os.WriteFile(rotatingPath, data, 0o644); err != nil {
		return err
	}

	return b.pruneRotatingBackups(path)
}

func (b *FileBackend) pruneRotatingBackups(path string) error {
	files, err := filepath.Glob(path + ".bak.*")
	if err != nil {
		return err
	}
	if len(files) <= b.backups {
		return nil
	}

	sort.Strings(files)
	toDelete := files[:len(files)-b.backups]
	for _, old := range toDelete {
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// classifyFS maps filesystem errors onto storage kinds.
func classifyFS(err error) error {
	switch {
	case isNoSpace(err):
		return ErrQuotaExceeded
	case errors.Is(err, fs.ErrPermission), isReadOnly(err):
		return ErrUnavailable
	default:
		return ErrWriteFailed
	}
}
