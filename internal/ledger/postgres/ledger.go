// Package postgres provides the PostgreSQL implementation of the job ledger.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/narvanalabs/forge/internal/ledger"
	"github.com/narvanalabs/forge/internal/models"
)

// Ledger implements ledger.Ledger using PostgreSQL.
//
// Transitions use the previously observed phase as an UPDATE precondition,
// so two workers racing on the same job cannot both win: the loser sees
// zero rows affected and gets ledger.ErrConflict.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// New creates a new PostgreSQL-backed ledger with the given configuration.
func New(cfg *Config, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL database")
	return &Ledger{db: db, logger: logger}, nil
}

// DB returns the underlying database connection.
// This is useful for components that need direct database access.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

// Migrate creates the jobs and job_queue tables if they do not exist.
func (l *Ledger) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			project_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			backend_plan JSONB,
			frontend_plan JSONB,
			contract JSONB,
			backend_result JSONB,
			frontend_result JSONB,
			final_error TEXT,
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS job_queue (
			job_id UUID PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_job_queue_pending ON job_queue(created_at) WHERE status = 'pending';`

	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.logger.Info("closing PostgreSQL connection")
	return l.db.Close()
}

// Create creates a new job in phase PENDING.
func (l *Ledger) Create(ctx context.Context, projectID string) (*models.Job, error) {
	query := `
		INSERT INTO jobs (id, project_id, phase, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`

	job := &models.Job{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Phase:     models.JobPhasePending,
		CreatedAt: time.Now().UTC(),
	}
	job.UpdatedAt = job.CreatedAt

	if _, err := l.db.ExecContext(ctx, query, job.ID, job.ProjectID, job.Phase, job.CreatedAt); err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}

	l.logger.Debug("created job", "job_id", job.ID, "project_id", projectID)
	return job, nil
}

// Transition moves a job to newPhase, committing the payload atomically.
func (l *Ledger) Transition(ctx context.Context, jobID string, newPhase models.JobPhase, payload *ledger.Payload) (*models.Job, error) {
	job, err := l.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.Phase.CanTransition(newPhase) {
		return nil, fmt.Errorf("%w: %s -> %s", ledger.ErrInvalidTransition, job.Phase, newPhase)
	}

	oldPhase := job.Phase
	payload.Apply(job)
	job.Phase = newPhase
	job.UpdatedAt = time.Now().UTC()

	backendPlan, err := marshalNullable(job.BackendPlan)
	if err != nil {
		return nil, err
	}
	frontendPlan, err := marshalNullable(job.FrontendPlan)
	if err != nil {
		return nil, err
	}
	contract, err := marshalNullable(job.Contract)
	if err != nil {
		return nil, err
	}
	backendResult, err := marshalNullable(job.BackendResult)
	if err != nil {
		return nil, err
	}
	frontendResult, err := marshalNullable(job.FrontendResult)
	if err != nil {
		return nil, err
	}

	var finalError sql.NullString
	if job.FinalError != "" {
		finalError = sql.NullString{String: job.FinalError, Valid: true}
	}

	query := `
		UPDATE jobs
		SET phase = $3, backend_plan = $4, frontend_plan = $5, contract = $6,
			backend_result = $7, frontend_result = $8, final_error = $9,
			updated_at = $10
		WHERE id = $1 AND phase = $2`

	result, err := l.db.ExecContext(ctx, query,
		jobID,
		oldPhase,
		job.Phase,
		backendPlan,
		frontendPlan,
		contract,
		backendResult,
		frontendResult,
		finalError,
		job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("updating job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// The row existed moments ago, so another transition won the race.
		return nil, ledger.ErrConflict
	}

	l.logger.Debug("job transitioned", "job_id", jobID, "from", oldPhase, "to", newPhase)
	return job, nil
}

// Get retrieves a job by ID.
func (l *Ledger) Get(ctx context.Context, jobID string) (*models.Job, error) {
	query := `
		SELECT id, project_id, phase, backend_plan, frontend_plan, contract,
			backend_result, frontend_result, final_error, cancel_requested,
			created_at, updated_at
		FROM jobs
		WHERE id = $1`

	job, err := scanJob(l.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return job, nil
}

// List retrieves jobs, optionally filtered by project ID, newest first.
func (l *Ledger) List(ctx context.Context, projectID string) ([]*models.Job, error) {
	query := `
		SELECT id, project_id, phase, backend_plan, frontend_plan, contract,
			backend_result, frontend_result, final_error, cancel_requested,
			created_at, updated_at
		FROM jobs`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}
	return jobs, nil
}

// RequestCancel sets the cancellation flag on a non-terminal job.
func (l *Ledger) RequestCancel(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET cancel_requested = TRUE, updated_at = $2
		WHERE id = $1 AND phase NOT IN ($3, $4, $5)`

	result, err := l.db.ExecContext(ctx, query,
		jobID,
		time.Now().UTC(),
		models.JobPhaseCompleted,
		models.JobPhaseFailed,
		models.JobPhaseCancelled,
	)
	if err != nil {
		return fmt.Errorf("requesting cancel: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := l.Get(ctx, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job is already terminal", ledger.ErrInvalidTransition)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.Job, error) {
	job := &models.Job{}
	var backendPlan, frontendPlan, contract, backendResult, frontendResult []byte
	var finalError sql.NullString

	err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&job.Phase,
		&backendPlan,
		&frontendPlan,
		&contract,
		&backendResult,
		&frontendResult,
		&finalError,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullable(backendPlan, &job.BackendPlan); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(frontendPlan, &job.FrontendPlan); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(contract, &job.Contract); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(backendResult, &job.BackendResult); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(frontendResult, &job.FrontendResult); err != nil {
		return nil, err
	}
	if finalError.Valid {
		job.FinalError = finalError.String
	}
	return job, nil
}

// marshalNullable serializes v to JSON, returning nil for a nil pointer so
// the column stays NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling job field: %w", err)
	}
	return data, nil
}

func unmarshalNullable[T any](data []byte, dst **T) error {
	if len(data) == 0 {
		return nil
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshaling job field: %w", err)
	}
	*dst = out
	return nil
}
