package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool opens a pgx connection pool against dsn, using the library's
// standard defaults. Grounded on the teacher's
// internal/persistence/databases/pool.go.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}
