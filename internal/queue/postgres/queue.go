// Package postgres provides a PostgreSQL-backed implementation of the job queue.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/forge/internal/queue"
)

// PostgresQueue implements queue.Queue using PostgreSQL.
type PostgresQueue struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresQueue creates a new PostgreSQL-backed queue.
func NewPostgresQueue(db *sql.DB, logger *slog.Logger) *PostgresQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresQueue{
		db:     db,
		logger: logger,
	}
}

// Enqueue adds a job ID to the queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, jobID string) error {
	query := `
		INSERT INTO job_queue (job_id, status, created_at)
		VALUES ($1, 'pending', $2)`

	now := time.Now().UTC()
	if _, err := q.db.ExecContext(ctx, query, jobID, now); err != nil {
		return fmt.Errorf("inserting job into queue: %w", err)
	}

	q.logger.Debug("enqueued job", "job_id", jobID)
	return nil
}

// Dequeue retrieves and locks the next available job ID.
// Uses SELECT FOR UPDATE SKIP LOCKED for concurrent worker safety.
func (q *PostgresQueue) Dequeue(ctx context.Context) (string, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT job_id
		FROM job_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var jobID string
	err = tx.QueryRowContext(ctx, selectQuery).Scan(&jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", queue.ErrNoJobs
		}
		return "", fmt.Errorf("selecting job from queue: %w", err)
	}

	updateQuery := `
		UPDATE job_queue
		SET status = 'processing', started_at = $2
		WHERE job_id = $1`

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, updateQuery, jobID, now); err != nil {
		return "", fmt.Errorf("updating job status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}

	q.logger.Debug("dequeued job", "job_id", jobID)
	return jobID, nil
}

// RecoverStale returns entries stuck in 'processing' to 'pending'. Called
// once at worker startup, before any Dequeue, so entries orphaned by a
// crashed worker get picked up again.
func (q *PostgresQueue) RecoverStale(ctx context.Context) (int, error) {
	query := `
		UPDATE job_queue
		SET status = 'pending', started_at = NULL
		WHERE status = 'processing'`

	result, err := q.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("recovering stale queue entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		q.logger.Info("recovered stale queue entries", "count", rowsAffected)
	}
	return int(rowsAffected), nil
}

// Ack acknowledges successful processing of a job, removing it from the queue.
func (q *PostgresQueue) Ack(ctx context.Context, jobID string) error {
	query := `
		DELETE FROM job_queue
		WHERE job_id = $1 AND status = 'processing'`

	result, err := q.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("deleting job from queue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return queue.ErrJobNotFound
	}

	q.logger.Debug("acknowledged job", "job_id", jobID)
	return nil
}

// Nack indicates that job processing failed, making the job available for retry.
func (q *PostgresQueue) Nack(ctx context.Context, jobID string) error {
	query := `
		UPDATE job_queue
		SET status = 'pending', started_at = NULL, retry_count = retry_count + 1
		WHERE job_id = $1 AND status = 'processing'`

	result, err := q.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return queue.ErrJobNotFound
	}

	q.logger.Debug("nacked job", "job_id", jobID)
	return nil
}
