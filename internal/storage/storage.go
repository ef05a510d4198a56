package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pendergraft/contraverify/internal/config"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RunStore records verification runs and their per-contract results
type RunStore interface {
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error)
	ListResultsByAddress(ctx context.Context, network, address string, limit int) ([]Result, error)
}

// Store combines the ledger with lifecycle methods.
// Callers define their own minimal interfaces based on their actual usage.
type Store interface {
	RunStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Run is one invocation of the verification pipeline
type Run struct {
	ID              string
	Network         string
	ChainID         int64
	APIURL          string
	StartedAt       time.Time
	FinishedAt      time.Time
	AlreadyVerified int
	Succeeded       int
	Failed          int
	Skipped         int
	Error           string
	Results         []Result // populated by GetRun only
}

// Result is the outcome of one artifact within a run
type Result struct {
	ID           string
	RunID        string
	ArtifactKey  string
	ContractName string
	Address      string
	Outcome      string
	GUID         string
	Message      string
	RecordedAt   time.Time // start time of the owning run
}

// RunFilter contains filter options for listing runs
type RunFilter struct {
	Network string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string // ID of the last run on the previous page
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
