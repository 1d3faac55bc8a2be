package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/kvlet/internal/record"
	"github.com/loykin/kvlet/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	*store.SQLStore
}

// New opens a SQLite database at path, creating parent directories as needed.
func New(path string, opts ...store.Option) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, &record.StorageError{Op: "open", Err: errors.New("empty sqlite path")}
	}
	if p != ":memory:" {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, &record.StorageError{Op: "open", Err: fmt.Errorf("create db dir: %w", err)}
			}
		}
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, &record.StorageError{Op: "open", Err: err}
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks from other processes
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{SQLStore: store.NewSQLStore(d, store.DialectSQLite, opts...)}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	return s.Exec(ctx, []string{
		// rowid (implicit) records insertion order for List
		`CREATE TABLE IF NOT EXISTS kvlet(
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			info TEXT NULL,
			method TEXT NULL,
			url TEXT NULL,
			response_code INTEGER NULL,
			response TEXT NULL,
			create_at INTEGER NOT NULL,
			update_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kvlet_state ON kvlet(state);`,
		`CREATE INDEX IF NOT EXISTS idx_kvlet_create_at ON kvlet(create_at);`,
	})
}
