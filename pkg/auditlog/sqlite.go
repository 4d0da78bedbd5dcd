package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harun/toolgate/pkg/toolregistry"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS invocations (
		invocation_id TEXT PRIMARY KEY,
		tool_name TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		masked_caller_id TEXT NOT NULL,
		args_summary TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER,
		request_id TEXT NOT NULL,
		thread_id TEXT NOT NULL DEFAULT '',
		depth INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at);
	CREATE INDEX IF NOT EXISTS idx_invocations_tool ON invocations(tool_name);
`

// SQLiteStore is an append-only table of invocation records.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) an audit database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record inserts rec. A record with an existing invocation id is ignored.
func (s *SQLiteStore) Record(ctx context.Context, rec toolregistry.InvocationRecord) error {
	var latency sql.NullInt64
	if rec.LatencyMs != nil {
		latency = sql.NullInt64{Int64: *rec.LatencyMs, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO invocations (
			invocation_id, tool_name, version, masked_caller_id, args_summary,
			outcome, error_message, latency_ms, request_id, thread_id, depth, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.InvocationID, rec.ToolName, rec.Version, rec.MaskedCallerID, rec.ArgsSummary,
		rec.Outcome, rec.ErrorMessage, latency, rec.RequestID, rec.ThreadID, rec.Depth,
		rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("auditlog: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]toolregistry.InvocationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT invocation_id, tool_name, version, masked_caller_id, args_summary,
			outcome, error_message, latency_ms, request_id, thread_id, depth, created_at
		FROM invocations
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query: %w", err)
	}
	defer rows.Close()

	var out []toolregistry.InvocationRecord
	for rows.Next() {
		var (
			rec     toolregistry.InvocationRecord
			latency sql.NullInt64
			created int64
		)
		if err := rows.Scan(
			&rec.InvocationID, &rec.ToolName, &rec.Version, &rec.MaskedCallerID, &rec.ArgsSummary,
			&rec.Outcome, &rec.ErrorMessage, &latency, &rec.RequestID, &rec.ThreadID, &rec.Depth, &created,
		); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		if latency.Valid {
			v := latency.Int64
			rec.LatencyMs = &v
		}
		rec.Timestamp = time.UnixMilli(created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records older than cutoff and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("auditlog: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
