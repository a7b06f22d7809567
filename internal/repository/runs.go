package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/models"
)

// RunRepository stores the audit row of every job run
type RunRepository struct {
	db *Database
}

// Start inserts a run row when the job begins
func (r *RunRepository) Start(ctx context.Context, run *models.SyncRun) error {
	start := time.Now()

	query := `
		INSERT INTO sync_runs (id, job, season, started_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Pool.Exec(ctx, query, run.ID, run.Job, run.Season, run.StartedAt)
	observe("insert", "sync_runs", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	log.Debug().
		Str("run_id", run.ID.String()).
		Str("job", run.Job).
		Msg("Sync run started")

	return nil
}

// Finish writes the counters and outcome of a run
func (r *RunRepository) Finish(ctx context.Context, run *models.SyncRun) error {
	start := time.Now()

	query := `
		UPDATE sync_runs SET
			finished_at = $2,
			inserted = $3,
			updated = $4,
			failed = $5,
			skipped = $6,
			lookup_failures = $7,
			rounds_failed = $8,
			error = $9
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(
		ctx, query,
		run.ID, run.FinishedAt, run.Inserted, run.Updated, run.Failed,
		run.Skipped, run.LookupFailures, run.RoundsFailed, run.Error,
	)
	observe("update", "sync_runs", start, err)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync run not found: id=%s", run.ID)
	}

	return nil
}

// Latest returns the most recent run of a job
func (r *RunRepository) Latest(ctx context.Context, job string) (*models.SyncRun, error) {
	start := time.Now()

	query := `
		SELECT id, job, season, started_at, finished_at, inserted, updated, failed,
		       skipped, lookup_failures, rounds_failed, error
		FROM sync_runs
		WHERE job = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	var run models.SyncRun
	err := r.db.Pool.QueryRow(ctx, query, job).Scan(
		&run.ID, &run.Job, &run.Season, &run.StartedAt, &run.FinishedAt,
		&run.Inserted, &run.Updated, &run.Failed, &run.Skipped,
		&run.LookupFailures, &run.RoundsFailed, &run.Error,
	)
	observe("select", "sync_runs", start, err)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no sync run for job %s", job)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sync run: %w", err)
	}

	return &run, nil
}
