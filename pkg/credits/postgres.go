package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgx methods the ledger uses. *pgxpool.Pool and
// pgx.Tx both satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSchema creates the ledger tables. Deductions reference balances,
// so a deduction for an unknown caller fails instead of being recorded.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS credit_balances (
    caller_id  TEXT        PRIMARY KEY,
    balance    BIGINT      NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_deductions (
    invocation_id TEXT        PRIMARY KEY,
    caller_id     TEXT        NOT NULL REFERENCES credit_balances (caller_id),
    amount        BIGINT      NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_credit_deductions_caller ON credit_deductions (caller_id);
`

// Deduction insert and debit run as one statement; when the invocation id
// already exists the insert returns no row and the update touches nothing.
const deductSQL = `
WITH ins AS (
    INSERT INTO credit_deductions (invocation_id, caller_id, amount)
    VALUES ($3, $1, $2)
    ON CONFLICT (invocation_id) DO NOTHING
    RETURNING invocation_id
)
UPDATE credit_balances
SET balance = balance - $2, updated_at = now()
WHERE caller_id = $1 AND EXISTS (SELECT 1 FROM ins)`

const topUpSQL = `
INSERT INTO credit_balances (caller_id, balance) VALUES ($1, $2)
ON CONFLICT (caller_id) DO UPDATE
SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = now()`

// PostgresLedger is a Ledger backed by PostgreSQL.
type PostgresLedger struct {
	db   DB
	pool *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger wraps an existing connection. Call Migrate before use
// if the tables may not exist.
func NewPostgresLedger(db DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// OpenPostgres connects to dsn, verifies the connection and migrates.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresLedger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("credits: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("credits: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("credits: ping: %w", err)
	}

	l := &PostgresLedger{db: pool, pool: pool}
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// Migrate creates the ledger tables. It is idempotent.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("credits: migrate: %w", err)
	}
	return nil
}

func (l *PostgresLedger) CheckBalance(ctx context.Context, callerID string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx,
		`SELECT balance FROM credit_balances WHERE caller_id = $1`, callerID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCaller, callerID)
	}
	if err != nil {
		return 0, fmt.Errorf("credits: check balance: %w", err)
	}
	return balance, nil
}

// Deduct debits amount once per invocation id.
func (l *PostgresLedger) Deduct(ctx context.Context, callerID string, amount int64, invocationID string) error {
	if err := checkDeduct(callerID, amount, invocationID); err != nil {
		return err
	}

	if _, err := l.db.Exec(ctx, deductSQL, callerID, amount, invocationID); err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", ErrUnknownCaller, callerID)
		}
		return fmt.Errorf("credits: deduct: %w", err)
	}
	return nil
}

func (l *PostgresLedger) TopUp(ctx context.Context, callerID string, amount int64) error {
	if err := checkTopUp(callerID, amount); err != nil {
		return err
	}
	if _, err := l.db.Exec(ctx, topUpSQL, callerID, amount); err != nil {
		return fmt.Errorf("credits: top up: %w", err)
	}
	return nil
}

// Close releases the pool when the ledger opened it.
func (l *PostgresLedger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// isForeignKeyError reports a foreign_key_violation (23503).
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
