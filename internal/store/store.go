// Package store is the SQLite database behind the NetReach inventory,
// reconciliation history and settings. Each plugin owns its tables and
// versions them through Migrate.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/HerbHall/netreach/pkg/plugin"
)

var _ plugin.Store = (*SQLiteStore)(nil)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Reconciliation passes write a few hundred rows in one transaction while
// HTTP handlers read; WAL keeps readers off the writer's lock and the busy
// timeout covers the checkpoint.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA cache_size=-20000",
}

// SQLiteStore implements plugin.Store on modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu         sync.Mutex // serializes migrations
	tableReady bool
}

// New opens or creates the database at path. The parent directory is
// created when missing.
func New(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store: database path is empty")
	}
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %q: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: a second one would see a different in-memory
	// database, and on disk SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the path the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// Tx runs fn in a transaction, committing when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppliedVersion returns the highest schema version recorded for owner, or
// 0 when none has been applied.
func (s *SQLiteStore) AppliedVersion(ctx context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureTable(ctx); err != nil {
		return 0, err
	}
	return s.appliedVersion(ctx, owner)
}

// Migrate applies the migrations of owner newer than its recorded version.
// Versions must be strictly ascending. Each migration runs in its own
// transaction together with its bookkeeping row.
func (s *SQLiteStore) Migrate(ctx context.Context, owner string, migrations []plugin.Migration) error {
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			return fmt.Errorf("migrations for %s: version %d follows %d",
				owner, migrations[i].Version, migrations[i-1].Version)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureTable(ctx); err != nil {
		return err
	}
	current, err := s.appliedVersion(ctx, owner)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (owner, version, description) VALUES (?, ?, ?)`,
				owner, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", owner, m.Version, m.Description, err)
		}
	}
	return nil
}

// Checkpoint folds the write-ahead log back into the main database file.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Close checkpoints the log and closes the database.
func (s *SQLiteStore) Close() error {
	if s.path != MemoryPath {
		_ = s.Checkpoint(context.Background())
	}
	return s.db.Close()
}

// ensureTable creates schema_migrations. A failed attempt is retried on
// the next call. Callers hold s.mu.
func (s *SQLiteStore) ensureTable(ctx context.Context) error {
	if s.tableReady {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			owner       TEXT     NOT NULL,
			version     INTEGER  NOT NULL,
			description TEXT     NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner, version)
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	s.tableReady = true
	return nil
}

func (s *SQLiteStore) appliedVersion(ctx context.Context, owner string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations WHERE owner = ?`, owner,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("applied version %s: %w", owner, err)
	}
	return int(version.Int64), nil
}
