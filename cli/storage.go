package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"taskboard/config"
	"taskboard/store"
)

const sqliteFile = "taskboard.db"

// OpenBackend opens the backend named by cfg.
func OpenBackend(cfg *config.Config, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		return store.NewFileBackend(cfg.Storage.Path,
			store.WithBackups(cfg.Storage.Backups),
			store.WithFileLogger(logger),
		)
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return store.OpenSQLite(filepath.Join(cfg.Storage.Path, sqliteFile),
			store.WithPollInterval(cfg.Sync.PollInterval),
			store.WithSQLiteLogger(logger),
		)
	case config.BackendMemory:
		return store.NewMemory().Open(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// OpenService wraps the configured backend in a storage service.
func OpenService(cfg *config.Config, logger *slog.Logger) (*store.Service, error) {
	backend, err := OpenBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	return store.New(backend,
		store.WithKey(cfg.Storage.Key),
		store.WithMaxBytes(cfg.Storage.MaxBytes),
		store.WithAlgorithm(cfg.Storage.Checksum),
		store.WithTimeout(cfg.Storage.Timeout),
		store.WithLogger(logger),
	), nil
}
