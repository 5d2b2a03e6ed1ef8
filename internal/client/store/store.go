// Package store owns the lifecycle of the local SQLite database: opening it
// with the right pragmas, applying migrations and closing it. Nothing here is
// global; every Store is an independent instance.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/finkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/filex"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

type Store struct {
	db   *sql.DB
	path string
}

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

func dsn(path string) string {
	if path == MemoryPath {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Open opens (creating if needed) the database at path and migrates it.
// Failures are reported as common.ErrStoreUnavailable.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != MemoryPath && !strings.HasPrefix(path, "file:") {
		if _, err := filex.EnsureParentDir(path); err != nil {
			return nil, Unavailable(err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, Unavailable(err)
	}
	// One connection serializes writers and keeps :memory: a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Unavailable(err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, Unavailable(fmt.Errorf("migrations: %w", err))
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Path() string { return s.path }

// NotifyPath is the file touched after every local mutation so that other
// processes sharing this store can react. Empty for in-memory stores.
func (s *Store) NotifyPath() string {
	if s.path == MemoryPath {
		return ""
	}
	return s.path + ".notify"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Unavailable marks err as a local storage failure.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}
