package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Runs
	CREATE TABLE IF NOT EXISTS verification_runs (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		api_url TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		already_verified INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	-- Per-artifact results
	CREATE TABLE IF NOT EXISTS verification_results (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES verification_runs(id) ON DELETE CASCADE,
		artifact_key TEXT NOT NULL,
		contract_name TEXT NOT NULL,
		address TEXT,
		outcome TEXT NOT NULL,
		guid TEXT,
		message TEXT,
		UNIQUE(run_id, artifact_key)
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_runs_started ON verification_runs(started_at, id);
	CREATE INDEX IF NOT EXISTS idx_runs_network ON verification_runs(network);
	CREATE INDEX IF NOT EXISTS idx_results_address ON verification_results(address);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Debug("database migrations complete")
	return nil
}

// RecordRun stores a run and its results in one transaction
func (s *SQLiteStore) RecordRun(ctx context.Context, run *Run) error {
	prepareRun(run)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verification_runs (id, network, chain_id, api_url, started_at, finished_at,
			already_verified, succeeded, failed, skipped, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Network, run.ChainID, run.APIURL, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.AlreadyVerified, run.Succeeded, run.Failed, run.Skipped, run.Error)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, r := range run.Results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO verification_results (id, run_id, artifact_key, contract_name, address, outcome, guid, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.RunID, r.ArtifactKey, r.ContractName, r.Address, r.Outcome, r.GUID, r.Message)
		if err != nil {
			return fmt.Errorf("inserting result for %s: %w", r.ArtifactKey, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run with its results
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, network, chain_id, COALESCE(api_url, ''), started_at, finished_at,
			already_verified, succeeded, failed, skipped, COALESCE(error, '')
		FROM verification_runs
		WHERE id = ?
	`, id)

	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, artifact_key, contract_name, COALESCE(address, ''), outcome,
			COALESCE(guid, ''), COALESCE(message, '')
		FROM verification_results
		WHERE run_id = ?
		ORDER BY artifact_key
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.RunID, &r.ArtifactKey, &r.ContractName, &r.Address, &r.Outcome, &r.GUID, &r.Message); err != nil {
			return nil, err
		}
		r.RecordedAt = run.StartedAt
		run.Results = append(run.Results, r)
	}
	return run, rows.Err()
}

// ListRuns lists runs newest first with cursor-based pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error) {
	limit := normalizeLimit(pagination.Limit)

	query := `
		SELECT id, network, chain_id, COALESCE(api_url, ''), started_at, finished_at,
			already_verified, succeeded, failed, skipped, COALESCE(error, '')
		FROM verification_runs
		WHERE 1 = 1
	`
	var args []any
	if filter.Network != "" {
		query += ` AND network = ?`
		args = append(args, filter.Network)
	}
	if pagination.Cursor != "" {
		if !isUUID(pagination.Cursor) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, pagination.Cursor)
		}
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM verification_runs WHERE id = ?)`, pagination.Cursor).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: no run %s", ErrInvalidCursor, pagination.Cursor)
		}
		query += ` AND (started_at, id) < (SELECT started_at, id FROM verification_runs WHERE id = ?)`
		args = append(args, pagination.Cursor)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return paginate(runs, limit), nil
}

// ListResultsByAddress lists the recorded outcomes for one contract, newest first
func (s *SQLiteStore) ListResultsByAddress(ctx context.Context, network, address string, limit int) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.run_id, r.artifact_key, r.contract_name, COALESCE(r.address, ''), r.outcome,
			COALESCE(r.guid, ''), COALESCE(r.message, ''), v.started_at
		FROM verification_results r
		JOIN verification_runs v ON v.id = r.run_id
		WHERE LOWER(r.address) = LOWER(?) AND (? = '' OR v.network = ?)
		ORDER BY v.started_at DESC, r.id
		LIMIT ?
	`, address, network, network, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var recordedAt string
		if err := rows.Scan(&r.ID, &r.RunID, &r.ArtifactKey, &r.ContractName, &r.Address, &r.Outcome, &r.GUID, &r.Message, &recordedAt); err != nil {
			return nil, err
		}
		if r.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (*Run, error) {
	var run Run
	var started, finished string
	err := row.Scan(&run.ID, &run.Network, &run.ChainID, &run.APIURL, &started, &finished,
		&run.AlreadyVerified, &run.Succeeded, &run.Failed, &run.Skipped, &run.Error)
	if err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	return &run, nil
}

func paginate(runs []Run, limit int) *PaginatedResult[Run] {
	result := &PaginatedResult[Run]{Data: runs}
	if len(runs) > limit {
		result.Data = runs[:limit]
		result.HasMore = true
		result.NextCursor = runs[limit-1].ID
	}
	if result.Data == nil {
		result.Data = []Run{}
	}
	return result
}
