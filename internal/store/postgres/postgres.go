package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/kvlet/internal/record"
	"github.com/loykin/kvlet/internal/store"
)

type DB struct {
	*store.SQLStore
}

func New(dsn string, opts ...store.Option) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, &record.StorageError{Op: "open", Err: err}
	}
	return &DB{SQLStore: store.NewSQLStore(d, store.DialectPostgres, opts...)}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	return p.Exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS kvlet(
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			info TEXT NULL,
			method TEXT NULL,
			url TEXT NULL,
			response_code INTEGER NULL,
			response TEXT NULL,
			create_at BIGINT NOT NULL,
			update_at BIGINT NOT NULL,
			seq BIGSERIAL NOT NULL
		);`,
		// tables created before seq existed get it backfilled
		`ALTER TABLE kvlet ADD COLUMN IF NOT EXISTS seq BIGSERIAL NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_kvlet_state ON kvlet(state);`,
		`CREATE INDEX IF NOT EXISTS idx_kvlet_create_at ON kvlet(create_at);`,
	})
}
