// Package dbopen opens the SQLite databases used for batch history.
//
// Every connection gets the same pragmas: foreign keys on, WAL journal,
// NORMAL synchronous and a busy timeout. Schemas passed with WithSchema run
// once, after the pragmas.
//
//	db, err := dbopen.Open("var/mailmerge.db", dbopen.WithSchema(observability.Schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

type options struct {
	busyTimeout int
	synchronous string
	schemas     []string
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default NORMAL.
func WithSynchronous(mode string) Option { return func(o *options) { o.synchronous = mode } }

// WithSchema queues DDL to run after the pragmas.
func WithSchema(ddl string) Option { return func(o *options) { o.schemas = append(o.schemas, ddl) } }

// Open opens the SQLite database at path, creating its directory if needed.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, opt := range opts {
		opt(&o)
	}

	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if path == Memory {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	stmts := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", o.synchronous),
	}
	stmts = append(stmts, o.schemas...)
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: %.40q: %w", s, err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database closed at the end of the test.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(Memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
