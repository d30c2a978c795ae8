package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
)

// Run statuses recorded in crawl_runs.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunStore keeps one crawl_runs row per crawl with its final counters.
type RunStore struct {
	pool pool
}

// Runs returns a RunStore sharing the job store's pool.
func (s *JobStore) Runs() *RunStore {
	return &RunStore{pool: s.pool}
}

// CreateSchema creates the crawl_runs table if it is missing.
func (s *RunStore) CreateSchema(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id VARCHAR(36) PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status VARCHAR(16) NOT NULL,
	error_message TEXT,
	categories INTEGER NOT NULL DEFAULT 0,
	categories_failed INTEGER NOT NULL DEFAULT 0,
	pages_loaded INTEGER NOT NULL DEFAULT 0,
	cards_extracted INTEGER NOT NULL DEFAULT 0,
	cards_skipped INTEGER NOT NULL DEFAULT 0,
	records_persisted INTEGER NOT NULL DEFAULT 0,
	records_dropped INTEGER NOT NULL DEFAULT 0,
	records_unpersisted INTEGER NOT NULL DEFAULT 0
)`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create crawl_runs: %w", err)
	}
	return nil
}

// StartRun inserts the row for a new crawl.
func (s *RunStore) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, RunRunning); err != nil {
		return fmt.Errorf("failed to insert run start: %w", err)
	}
	return nil
}

// CompleteRun stores the final counters and status of a crawl.
func (s *RunStore) CompleteRun(ctx context.Context, runID string, stats crawler.RunStats, runErr error) error {
	status := RunSucceeded
	var errMsg *string
	if runErr != nil {
		status = RunFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	finishedAt := time.Now().UTC()
	if stats.FinishedAt != nil {
		finishedAt = *stats.FinishedAt
	}
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3,
			categories = $4, categories_failed = $5, pages_loaded = $6,
			cards_extracted = $7, cards_skipped = $8, records_persisted = $9,
			records_dropped = $10, records_unpersisted = $11
		WHERE id = $12;
	`
	res, err := s.pool.Exec(ctx, query,
		finishedAt,
		status,
		errMsg,
		stats.Categories,
		stats.CategoriesFailed,
		stats.PagesLoaded,
		stats.CardsExtracted,
		stats.CardsSkipped,
		stats.RecordsPersisted,
		stats.RecordsDropped,
		stats.RecordsUnpersisted,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}
