package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver for sqlx

	"github.com/simloop/simloop/sim/journal"
)

const (
	journalDriverPGX  = "pgx"
	journalDriverSQLX = "sqlx"
)

// openJournal connects to Postgres with the chosen driver, creates the journal table
// if needed and returns the journal with a function releasing the connection.
func openJournal(ctx context.Context, driver, dsn, table string) (*journal.Journal, func(), error) {
	var (
		j       *journal.Journal
		closeDB func()
		err     error
	)
	switch driver {
	case journalDriverPGX:
		pool, poolErr := pgxpool.New(ctx, dsn)
		if poolErr != nil {
			return nil, nil, fmt.Errorf("connecting with pgx: %w", poolErr)
		}
		closeDB = pool.Close
		j, err = journal.NewFromPGXPool(pool, journal.WithTableName(table))
	case journalDriverSQLX:
		db, dbErr := sqlx.ConnectContext(ctx, "postgres", dsn)
		if dbErr != nil {
			return nil, nil, fmt.Errorf("connecting with sqlx: %w", dbErr)
		}
		closeDB = func() { _ = db.Close() }
		j, err = journal.NewFromSQLX(db, journal.WithTableName(table))
	default:
		return nil, nil, fmt.Errorf("unknown journal driver %q; valid: pgx, sqlx", driver)
	}
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	if err := j.EnsureTable(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}
	return j, closeDB, nil
}
