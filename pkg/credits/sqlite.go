package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS credit_balances (
		caller_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credit_deductions (
		invocation_id TEXT PRIMARY KEY,
		caller_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credit_deductions_caller ON credit_deductions(caller_id);
`

// SQLiteLedger stores balances and applied deductions in SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

var _ Ledger = (*SQLiteLedger)(nil)

// OpenSQLite opens (creating if needed) a ledger database at path.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; keeps deductions serialized without SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	l, err := NewSQLiteLedger(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewSQLiteLedger uses an existing handle and creates the tables.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) CheckBalance(ctx context.Context, callerID string) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE caller_id = ?`, callerID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCaller, callerID)
	}
	if err != nil {
		return 0, fmt.Errorf("credits: check balance: %w", err)
	}
	return balance, nil
}

// Deduct records the deduction and debits the balance in one transaction.
// A repeated invocation id is a no-op.
func (l *SQLiteLedger) Deduct(ctx context.Context, callerID string, amount int64, invocationID string) error {
	if err := checkDeduct(callerID, amount, invocationID); err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credits: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO credit_deductions (invocation_id, caller_id, amount, created_at) VALUES (?, ?, ?, ?)`,
		invocationID, callerID, amount, now,
	)
	if err != nil {
		return fmt.Errorf("credits: record deduction: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credits: record deduction: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE credit_balances SET balance = balance - ?, updated_at = ? WHERE caller_id = ?`,
		amount, now, callerID,
	)
	if err != nil {
		return fmt.Errorf("credits: debit: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credits: debit: %w", err)
	}
	if updated == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCaller, callerID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credits: commit: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) TopUp(ctx context.Context, callerID string, amount int64) error {
	if err := checkTopUp(callerID, amount); err != nil {
		return err
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO credit_balances (caller_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(caller_id) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = excluded.updated_at`,
		callerID, amount, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("credits: top up: %w", err)
	}
	return nil
}

// Deductions counts applied deductions for a caller.
func (l *SQLiteLedger) Deductions(ctx context.Context, callerID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credit_deductions WHERE caller_id = ?`, callerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("credits: count deductions: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
