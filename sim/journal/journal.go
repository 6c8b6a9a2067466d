// Package journal persists every handled exit to a Postgres table, so runs can be
// inspected after the fact. A Journal is a sim.ExitObserver.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/simloop/simloop/sim"
)

const (
	defaultTableName = "exit_journal"
	defaultTimeout   = 5 * time.Second
	dialectPostgres  = "postgres"
	castJsonb        = "?::jsonb"
	colSessionID     = "session_id"
	colTick          = "tick"
	colHandlerID     = "handler_id"
	colCause         = "cause"
	colCode          = "code"
	colDescription   = "description"
	colTerminate     = "terminate"
	colPayload       = "payload"
)

var (
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrEmptyTableName        = errors.New("journal table name must not be empty")
	ErrInvalidTableName      = errors.New("journal table name must not contain double quotes or NUL")
	ErrNilSessionID          = errors.New("journal session id must not be nil")
	ErrInvalidTimeout        = errors.New("journal timeout must be positive")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Journal writes one row per handled exit.
type Journal struct {
	db        execer
	tableName string
	sessionID uuid.UUID
	timeout   time.Duration
}

// Option configures a Journal.
type Option func(*Journal) error

// WithTableName sets the journal table.
func WithTableName(tableName string) Option {
	return func(j *Journal) error {
		if tableName == "" {
			return ErrEmptyTableName
		}
		// goqu quotes identifiers without escaping them.
		if strings.ContainsAny(tableName, "\"\x00") {
			return fmt.Errorf("%w: %q", ErrInvalidTableName, tableName)
		}
		j.tableName = tableName
		return nil
	}
}

// WithSessionID sets the id written with every row. By default each Journal gets a
// new time-ordered id.
func WithSessionID(id uuid.UUID) Option {
	return func(j *Journal) error {
		if id == uuid.Nil {
			return ErrNilSessionID
		}
		j.sessionID = id
		return nil
	}
}

// WithTimeout bounds each write.
func WithTimeout(d time.Duration) Option {
	return func(j *Journal) error {
		if d <= 0 {
			return ErrInvalidTimeout
		}
		j.timeout = d
		return nil
	}
}

// NewFromPGXPool creates a Journal writing through a pgx pool.
func NewFromPGXPool(pool *pgxpool.Pool, options ...Option) (*Journal, error) {
	if pool == nil {
		return nil, ErrNilDatabaseConnection
	}
	return newJournal(pgxExecer{pool: pool}, options...)
}

// NewFromSQLX creates a Journal writing through a sqlx database.
func NewFromSQLX(db *sqlx.DB, options ...Option) (*Journal, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}
	return newJournal(sqlxExecer{db: db}, options...)
}

func newJournal(db execer, options ...Option) (*Journal, error) {
	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	j := &Journal{
		db:        db,
		tableName: defaultTableName,
		sessionID: sessionID,
		timeout:   defaultTimeout,
	}
	for _, option := range options {
		if err := option(j); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// SessionID returns the id written with every row of this journal.
func (j *Journal) SessionID() uuid.UUID {
	return j.sessionID
}

// CreateTableSQL returns the DDL for the journal table.
func (j *Journal) CreateTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	session_id UUID NOT NULL,
	tick NUMERIC(20) NOT NULL,
	handler_id BIGINT NOT NULL,
	cause TEXT NOT NULL,
	code INTEGER NOT NULL,
	description TEXT NOT NULL,
	terminate BOOLEAN NOT NULL,
	payload JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, pq.QuoteIdentifier(j.tableName))
}

// EnsureTable creates the journal table if it does not exist.
func (j *Journal) EnsureTable(ctx context.Context) error {
	if err := j.db.Exec(ctx, j.CreateTableSQL()); err != nil {
		return fmt.Errorf("creating journal table %s: %w", j.tableName, err)
	}
	return nil
}

// InsertSQL builds the insert statement for one exit.
func (j *Journal) InsertSQL(rec sim.ExitRecord) (string, error) {
	payload := rec.Payload
	if payload == nil {
		payload = sim.Payload{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding exit payload: %w", err)
	}
	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(j.tableName).
		Rows(goqu.Record{
			colSessionID:   j.sessionID.String(),
			colTick:        rec.Tick,
			colHandlerID:   uint32(rec.HandlerID),
			colCause:       rec.Cause,
			colCode:        rec.Code,
			colDescription: rec.Description,
			colTerminate:   rec.Terminate,
			colPayload:     goqu.L(castJsonb, string(payloadJSON)),
		})
	sqlQuery, _, err := insertStmt.ToSQL()
	if err != nil {
		return "", fmt.Errorf("building journal insert: %w", err)
	}
	return sqlQuery, nil
}

// ObserveExit writes rec. Failures are logged; the simulation is never interrupted
// by the journal.
func (j *Journal) ObserveExit(rec sim.ExitRecord) {
	sqlQuery, err := j.InsertSQL(rec)
	if err != nil {
		logrus.Errorf("[tick %07d] journal: %v", rec.Tick, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.db.Exec(ctx, sqlQuery); err != nil {
		logrus.Errorf("[tick %07d] journal: writing exit to %s: %v", rec.Tick, j.tableName, err)
	}
}
