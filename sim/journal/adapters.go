package journal

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

// execer is the database operation the journal needs.
type execer interface {
	Exec(ctx context.Context, query string) error
}

// pgxExecer executes through a pgx pool.
type pgxExecer struct {
	pool *pgxpool.Pool
}

func (p pgxExecer) Exec(ctx context.Context, query string) error {
	_, err := p.pool.Exec(ctx, query)
	return err
}

// sqlxExecer executes through a sqlx database.
type sqlxExecer struct {
	db *sqlx.DB
}

func (s sqlxExecer) Exec(ctx context.Context, query string) error {
	_, err := s.db.ExecContext(ctx, query)
	return err
}
