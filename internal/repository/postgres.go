package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgreSQL error codes handled by the store.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgTx binds every repository to one pgx transaction.
type pgTx struct {
	*AccountRepository
	*LedgerRepository
	*MatchRepository
	*TeamRepository
	*RoomRepository
}

// PostgresStore runs units of work as PostgreSQL transactions.
type PostgresStore struct {
	pool    *pgxpool.Pool
	retries int
}

// NewPostgresStore creates a store on pool. Transactions that fail with a
// serialization failure or deadlock are retried up to retries times.
func NewPostgresStore(pool *pgxpool.Pool, retries int) *PostgresStore {
	if retries < 0 {
		retries = 0
	}
	return &PostgresStore{pool: pool, retries: retries}
}

// InTx runs fn inside a read-committed transaction. Row locks taken through
// the Lock* methods serialize writers on the same match, entry or account.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= s.retries {
			return err
		}
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("Retrying transaction after serialization failure")
	}
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(newPgTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func newPgTx(q querier) *pgTx {
	return &pgTx{
		AccountRepository: NewAccountRepository(q),
		LedgerRepository:  NewLedgerRepository(q),
		MatchRepository:   NewMatchRepository(q),
		TeamRepository:    NewTeamRepository(q),
		RoomRepository:    NewRoomRepository(q),
	}
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

func isRetryable(err error) bool {
	code := pgErrorCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

// writeError maps constraint violations onto repository sentinels.
func writeError(op string, err error) error {
	if isUniqueViolation(err) {
		var pgErr *pgconn.PgError
		errors.As(err, &pgErr)
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
