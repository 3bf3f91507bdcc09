// Package sqlite implements the runtime store on an embedded SQLite
// database. The driver is a WASM build, so the binary stays
// self-contained with no cgo involved.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver" // registers the sqlite3 driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the sqlite WASM binary
	"github.com/tetratelabs/wazero"

	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// The embedded engine runs inside a wazero sandbox. Cap its linear
// memory at 512 pages (32 MiB): the runtime schema is tiny and a
// runaway query must not balloon the host process.
func init() {
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithMemoryLimitPages(512)
}

// busyTimeoutMs bounds how long a statement waits on a competing writer
// before the failure surfaces as RuntimeBusy.
const busyTimeoutMs = 1000

// SQLiteStore implements storage.Store on a single database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ storage.Store = (*SQLiteStore)(nil)

// New opens (creating if necessary) the runtime database at path,
// applies the base schema and any pending migrations, and returns the
// store. WAL journaling permits concurrent readers alongside the single
// writer; _txlock=immediate makes write transactions take their lock up
// front instead of deadlocking on a later upgrade.
func New(ctx context.Context, path string) (*SQLiteStore, error) {
	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)",
		path, busyTimeoutMs,
	)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open runtime database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, classify(fmt.Errorf("failed to apply base schema: %w", err))
	}
	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file backing this store.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RunInTx runs fn inside one write transaction, rolling back on error
// or panic and committing otherwise.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&runtimeTx{tx: tx})
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// runtimeTx adapts *sql.Tx to storage.Tx. All method implementations
// live next to their store-level counterparts in agents.go, leases.go,
// messages.go, and events.go.
type runtimeTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*runtimeTx)(nil)

// classify maps driver failures onto the closed error set so callers
// can tell retriable contention apart from a damaged database file.
// Already-coded errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var coded *protocol.Error
	if errors.As(err, &coded) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked"):
		return protocol.NewError(protocol.CodeRuntimeBusy, "runtime database is busy, retry shortly").WithDetail("cause", msg)
	case strings.Contains(msg, "SQLITE_CORRUPT") ||
		strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database"):
		return protocol.NewError(protocol.CodeRuntimeCorrupt, "runtime database is corrupt; delete it and re-run init to rebuild").WithDetail("cause", msg)
	}
	return err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows so scan
// helpers serve point lookups and list queries alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func encodeStringList(list []string) (string, error) {
	if len(list) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(raw), nil
}

func decodeStringList(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("failed to decode string list: %w", err)
	}
	return list, nil
}

func encodeStringMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode string map: %w", err)
	}
	return string(raw), nil
}

func decodeStringMap(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode string map: %w", err)
	}
	return m, nil
}
