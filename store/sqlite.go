package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const (
	defaultSQLitePoolSize = 4
	defaultPollInterval   = 500 * time.Millisecond
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL
);
`

// SQLiteBackend keeps values in a single kv table. Several processes may
// open the same database file; Watch polls row versions to report their
// writes.
type SQLiteBackend struct {
	pool         *sqlitex.Pool
	path         string
	pollInterval time.Duration
	logger       *slog.Logger
}

// SQLiteOption configures a SQLiteBackend.
type SQLiteOption func(*SQLiteBackend)

// WithPollInterval sets how often Watch checks for foreign writes.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(b *SQLiteBackend) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

func WithSQLiteLogger(logger *slog.Logger) SQLiteOption {
	return func(b *SQLiteBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteBackend, error) {
	b := &SQLiteBackend{
		path:         path,
		pollInterval: defaultPollInterval,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    defaultSQLitePoolSize,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrUnavailable, path, err)
	}
	b.pool = pool
	b.logger.Info("sqlite store opened", "path", path)
	return b, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return nil, classifySQLite(err)
	}
	defer b.pool.Put(conn)

	var (
		value []byte
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = []byte(stmt.ColumnText(0))
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, classifySQLite(err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, value []byte) error {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return classifySQLite(err)
	}
	defer b.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO kv (key, value, version, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv.version + 1,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{key, string(value), time.Now().UnixNano()}},
	)
	if err != nil {
		return classifySQLite(err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return classifySQLite(err)
	}
	defer b.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?", &sqlitex.ExecOptions{Args: []any{key}}); err != nil {
		return classifySQLite(err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close blocks until borrowed connections are returned.
func (b *SQLiteBackend) Close() error {
	return b.pool.Close()
}

type rowVersion struct {
	version int64
	value   []byte
}

// Watch polls the table and reports rows whose version changed or that
// disappeared. The first poll only records the baseline.
func (b *SQLiteBackend) Watch(ctx context.Context, fn func(Change)) error {
	baseline, err := b.versions(ctx)
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		seen := baseline
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			current, err := b.versions(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("sqlite watch poll failed", "path", b.path, "error", err)
				}
				continue
			}
			for key, row := range current {
				if prev, ok := seen[key]; !ok || prev.version != row.version {
					fn(Change{Key: key, Value: row.value})
				}
			}
			for key := range seen {
				if _, ok := current[key]; !ok {
					fn(Change{Key: key, Deleted: true})
				}
			}
			seen = current
		}
	}()
	return nil
}

func (b *SQLiteBackend) versions(ctx context.Context) (map[string]rowVersion, error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return nil, classifySQLite(err)
	}
	defer b.pool.Put(conn)

	out := make(map[string]rowVersion)
	err = sqlitex.Execute(conn, "SELECT key, version, value FROM kv", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out[stmt.ColumnText(0)] = rowVersion{
				version: stmt.ColumnInt64(1),
				value:   []byte(stmt.ColumnText(2)),
			}
			return nil
		},
	})
	if err != nil {
		return nil, classifySQLite(err)
	}
	return out, nil
}

func classifySQLite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultFull:
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	case sqlite.ResultReadOnly, sqlite.ResultCantOpen, sqlite.ResultPerm, sqlite.ResultBusy, sqlite.ResultLocked:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case sqlite.ResultInterrupt:
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
}
