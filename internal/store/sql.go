package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/kvlet/internal/record"
)

// Dialect selects placeholder syntax for the shared SQL implementation.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Option customizes a SQLStore.
type Option func(*SQLStore)

// WithClock overrides the time source used for create_at/update_at.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPool configures the connection pool. Zero values keep driver defaults.
func WithPool(maxOpen, maxIdle int, maxAge time.Duration) Option {
	return func(s *SQLStore) {
		if maxOpen > 0 {
			s.db.SetMaxOpenConns(maxOpen)
		}
		if maxIdle > 0 {
			s.db.SetMaxIdleConns(maxIdle)
		}
		if maxAge > 0 {
			s.db.SetConnMaxLifetime(maxAge)
		}
	}
}

// SQLStore implements Store on top of database/sql. The sqlite and postgres
// packages own driver setup and schema; SQLStore owns the record semantics.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect, opts ...Option) *SQLStore {
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// Ping tests the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &record.StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Exec runs schema statements in order.
func (s *SQLStore) Exec(ctx context.Context, stmts []string) error {
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return &record.StorageError{Op: "ensure schema", Err: err}
		}
	}
	return nil
}

// bind rewrites '?' placeholders to '$n' for postgres.
func (s *SQLStore) bind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertOrder names the column that increases with every insert. It breaks
// ties between records created in the same millisecond.
func (s *SQLStore) insertOrder() string {
	if s.dialect == DialectPostgres {
		return "seq"
	}
	return "rowid"
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) lookup(ctx context.Context, q querier, id string) (*record.Record, error) {
	r, err := scanRow(q.QueryRowContext(ctx, s.bind(`SELECT `+Columns+` FROM kvlet WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := r.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) Lookup(ctx context.Context, id string) (*record.Record, error) {
	rec, err := s.lookup(ctx, s.db, id)
	if err != nil {
		return nil, &record.StorageError{Op: "lookup", ID: id, Err: err}
	}
	return rec, nil
}

func (s *SQLStore) ReconcileWrite(ctx context.Context, w record.Write) (record.Record, bool, error) {
	var (
		out     record.Record
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := s.lookup(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		created = prev == nil
		out = record.Reconcile(prev, w, s.now())
		r := fromRecord(out)
		if prev == nil {
			_, err = tx.ExecContext(ctx, s.bind(`
				INSERT INTO kvlet(id, state, info, method, url, response_code, response, create_at, update_at)
				VALUES(?, ?, ?, ?, ?, NULL, NULL, ?, ?)`),
				r.ID, r.State, r.Info, r.Method, r.URL, r.CreateAt, r.UpdateAt)
			return err
		}
		_, err = tx.ExecContext(ctx, s.bind(`
			UPDATE kvlet SET state = ?, info = ?, method = ?, url = ?, update_at = ?
			WHERE id = ?`),
			r.State, r.Info, r.Method, r.URL, r.UpdateAt, r.ID)
		return err
	})
	if err != nil {
		return record.Record{}, false, &record.StorageError{Op: "reconcile write", ID: w.ID, Err: err}
	}
	return out, created, nil
}

func (s *SQLStore) RecordOutcome(ctx context.Context, id string, statusCode uint16, body string) error {
	now := record.Millis(s.now())
	res, err := s.db.ExecContext(ctx, s.bind(`
		UPDATE kvlet
		SET response_code = ?, response = ?,
			update_at = CASE WHEN update_at >= ? THEN update_at + 1 ELSE ? END
		WHERE id = ?`),
		int64(statusCode), body, now, now, id)
	if err != nil {
		return &record.StorageError{Op: "record outcome", ID: id, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &record.StorageError{Op: "record outcome", ID: id, Err: err}
	}
	if n == 0 {
		return &record.StorageError{Op: "record outcome", ID: id, Err: record.ErrNotFound}
	}
	return nil
}

func (s *SQLStore) UpdateTarget(ctx context.Context, id string, target *record.Target) (*record.Record, error) {
	var out *record.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := s.lookup(ctx, tx, id)
		if err != nil || prev == nil {
			return err
		}
		rec := *prev
		rec.Target = record.MergeTarget(target, prev.Target)
		rec.UpdatedAt = record.NextUpdate(prev.UpdatedAt, s.now())
		r := fromRecord(rec)
		if _, err := tx.ExecContext(ctx, s.bind(`UPDATE kvlet SET method = ?, url = ?, update_at = ? WHERE id = ?`),
			r.Method, r.URL, r.UpdateAt, r.ID); err != nil {
			return err
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, &record.StorageError{Op: "update target", ID: id, Err: err}
	}
	return out, nil
}

func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]record.Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	q := `SELECT ` + Columns + ` FROM kvlet`
	args := make([]any, 0, 2)
	if opts.State != "" {
		q += ` WHERE state = ?`
		args = append(args, opts.State)
	}
	q += ` ORDER BY create_at DESC, ` + s.insertOrder() + ` DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.bind(q), args...)
	if err != nil {
		return nil, &record.StorageError{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()
	out := make([]record.Record, 0, limit)
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, &record.StorageError{Op: "list", Err: err}
		}
		rec, err := r.toRecord()
		if err != nil {
			return nil, &record.StorageError{Op: "list", ID: r.ID, Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &record.StorageError{Op: "list", Err: err}
	}
	return out, nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
