package factory

import (
	"errors"
	"strings"

	"github.com/loykin/kvlet/internal/record"
	"github.com/loykin/kvlet/internal/store"
	pg "github.com/loykin/kvlet/internal/store/postgres"
	sq "github.com/loykin/kvlet/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string, opts ...store.Option) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, &record.StorageError{Op: "open", Err: errors.New("empty DSN")}
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		db, err := pg.New(d, opts...)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	if strings.HasPrefix(ld, "sqlite://") {
		d = d[len("sqlite://"):]
	} else if strings.Contains(ld, "://") {
		return nil, &record.StorageError{Op: "open", Err: errors.New("unsupported DSN scheme: " + d)}
	}
	db, err := sq.New(d, opts...)
	if err != nil {
		return nil, err
	}
	return db, nil
}
