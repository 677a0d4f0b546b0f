package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version. Version 1 added the
// unique (timestamp, device_id) indexes that make duplicate cycles no-ops.
const schemaVersion = 1

// DefaultAuthority is the address authority used when none is configured.
const DefaultAuthority = "com.aware.plugin.yamnet.provider.yamnet"

// Store is the dual-collection record store.
//
// Thread-safety: all methods are safe for concurrent use. Mutations are
// serialized by mu; reads go straight to the connection.
type Store struct {
	db        *sql.DB
	authority string
	logger    *slog.Logger

	mu sync.Mutex // serializes mutating transactions

	subMu  sync.RWMutex
	subs   map[int]func(ChangeEvent)
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithAuthority sets the authority component of collection addresses.
func WithAuthority(authority string) Option {
	return func(s *Store) {
		s.authority = authority
	}
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens the database at path, creating it if needed, and brings
// its schema up to date. Opening an up-to-date database changes nothing.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return newStore(db, opts...), nil
}

// prepare pins the pool to one connection, applies pragmas and migrates.
// The single connection is also the process-wide writer.
func prepare(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec("PRAGMA " + p.name + " = " + p.value); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return migrate(db)
}

// newStore wraps an already-prepared connection. Tests use it with sqlmock.
func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:        db,
		authority: DefaultAuthority,
		logger:    slog.Default(),
		subs:      make(map[int]func(ChangeEvent)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the connection. Closing twice is harmless.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Authority returns the authority used in collection addresses.
func (s *Store) Authority() string {
	return s.authority
}

var pragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
}

var migrations = map[int][]string{
	1: {
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_plugin_yamnet_sample
		 ON plugin_yamnet(timestamp, device_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_plugin_yamnet_audio_sample
		 ON plugin_yamnet_audio(timestamp, device_id)`,
	},
}

// migrate runs every migration above the stored user_version in order.
// Databases created from the current schema.sql already match, so the
// statements are written to be no-ops for them.
func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := current + 1; v <= schemaVersion; v++ {
		for _, stmt := range migrations[v] {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to v%d: %w", v, err)
			}
		}
	}
	if current == schemaVersion {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// pragma reads a pragma's current value.
func (s *Store) pragma(name string) (string, error) {
	var value string
	err := s.db.QueryRow("PRAGMA " + name).Scan(&value)
	return value, err
}

// withTx runs fn inside a transaction while holding the write lock.
// The transaction is always either committed or rolled back; any failure
// is reported as a *TxError.
func (s *Store) withTx(ctx context.Context, op Op, c Collection, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &TxError{Op: op, Collection: c, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return &TxError{Op: op, Collection: c, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &TxError{Op: op, Collection: c, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}
