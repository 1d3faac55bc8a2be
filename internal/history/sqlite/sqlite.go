package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/kvlet/internal/history"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	// Handle sqlite:// prefix
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kvlet_history(
			event_id TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			event TEXT NOT NULL,
			id TEXT NOT NULL,
			state TEXT NOT NULL,
			method TEXT NULL,
			url TEXT NULL,
			status_code INTEGER NULL,
			error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kvlet_history_id ON kvlet_history(id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kvlet_history(`+history.Columns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.Args()...)
	return err
}

// Events returns the history of one record, oldest first.
func (s *Sink) Events(ctx context.Context, id string) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+history.Columns+` FROM kvlet_history WHERE id = ? ORDER BY occurred_at, rowid;`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return history.ScanEvents(rows)
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
