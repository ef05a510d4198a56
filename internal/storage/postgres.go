package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Runs
	CREATE TABLE IF NOT EXISTS verification_runs (
		id UUID PRIMARY KEY,
		network TEXT NOT NULL,
		chain_id BIGINT NOT NULL,
		api_url TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		already_verified INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	-- Per-artifact results
	CREATE TABLE IF NOT EXISTS verification_results (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES verification_runs(id) ON DELETE CASCADE,
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
	CREATE INDEX IF NOT EXISTS idx_results_address ON verification_results(LOWER(address));
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Debug("database migrations complete")
	return nil
}

// RecordRun stores a run and its results in one transaction
func (s *PostgresStore) RecordRun(ctx context.Context, run *Run) error {
	prepareRun(run)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verification_runs (id, network, chain_id, api_url, started_at, finished_at,
			already_verified, succeeded, failed, skipped, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, run.ID, run.Network, run.ChainID, run.APIURL, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.AlreadyVerified, run.Succeeded, run.Failed, run.Skipped, run.Error)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, r := range run.Results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO verification_results (id, run_id, artifact_key, contract_name, address, outcome, guid, message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ID, r.RunID, r.ArtifactKey, r.ContractName, r.Address, r.Outcome, r.GUID, r.Message)
		if err != nil {
			return fmt.Errorf("inserting result for %s: %w", r.ArtifactKey, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run with its results
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	// Malformed IDs cannot match a UUID column
	if !isUUID(id) {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, network, chain_id, COALESCE(api_url, ''), started_at, finished_at,
			already_verified, succeeded, failed, skipped, COALESCE(error, '')
		FROM verification_runs
		WHERE id = $1
	`, id)

	run, err := scanPostgresRun(row)
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
		WHERE run_id = $1
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
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error) {
	limit := normalizeLimit(pagination.Limit)

	query := `
		SELECT id, network, chain_id, COALESCE(api_url, ''), started_at, finished_at,
			already_verified, succeeded, failed, skipped, COALESCE(error, '')
		FROM verification_runs
		WHERE 1 = 1
	`
	var args []any
	argIdx := 1
	if filter.Network != "" {
		query += fmt.Sprintf(" AND network = $%d", argIdx)
		args = append(args, filter.Network)
		argIdx++
	}
	if pagination.Cursor != "" {
		if !isUUID(pagination.Cursor) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, pagination.Cursor)
		}
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM verification_runs WHERE id = $1)`, pagination.Cursor).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: no run %s", ErrInvalidCursor, pagination.Cursor)
		}
		query += fmt.Sprintf(" AND (started_at, id) < (SELECT started_at, id FROM verification_runs WHERE id = $%d)", argIdx)
		args = append(args, pagination.Cursor)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC, id DESC LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanPostgresRun(rows)
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
func (s *PostgresStore) ListResultsByAddress(ctx context.Context, network, address string, limit int) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.run_id, r.artifact_key, r.contract_name, COALESCE(r.address, ''), r.outcome,
			COALESCE(r.guid, ''), COALESCE(r.message, ''), v.started_at
		FROM verification_results r
		JOIN verification_runs v ON v.id = r.run_id
		WHERE LOWER(r.address) = LOWER($1) AND ($2 = '' OR v.network = $2)
		ORDER BY v.started_at DESC, r.id
		LIMIT $3
	`, address, network, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.RunID, &r.ArtifactKey, &r.ContractName, &r.Address, &r.Outcome, &r.GUID, &r.Message, &r.RecordedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanPostgresRun(row rowScanner) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.Network, &run.ChainID, &run.APIURL, &run.StartedAt, &run.FinishedAt,
		&run.AlreadyVerified, &run.Succeeded, &run.Failed, &run.Skipped, &run.Error)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
