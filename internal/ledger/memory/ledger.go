// Package memory provides an in-memory implementation of the job ledger,
// used for tests and single-node development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/forge/internal/ledger"
	"github.com/narvanalabs/forge/internal/models"
)

// Ledger implements ledger.Ledger with a mutex-guarded map.
type Ledger struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

// New creates an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		jobs: make(map[string]*models.Job),
	}
}

// Create creates a new job in phase PENDING.
func (l *Ledger) Create(ctx context.Context, projectID string) (*models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Phase:     models.JobPhasePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.jobs[job.ID] = job
	return clone(job)
}

// Transition moves a job to newPhase under the phase machine's rules.
func (l *Ledger) Transition(ctx context.Context, jobID string, newPhase models.JobPhase, payload *ledger.Payload) (*models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return nil, ledger.ErrNotFound
	}

	if !job.Phase.CanTransition(newPhase) {
		return nil, fmt.Errorf("%w: %s -> %s", ledger.ErrInvalidTransition, job.Phase, newPhase)
	}

	payload.Apply(job)
	job.Phase = newPhase
	job.UpdatedAt = time.Now().UTC()
	return clone(job)
}

// Get retrieves a job by ID.
func (l *Ledger) Get(ctx context.Context, jobID string) (*models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return clone(job)
}

// List retrieves jobs ordered by created_at descending, newest first.
func (l *Ledger) List(ctx context.Context, projectID string) ([]*models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var jobs []*models.Job
	for _, job := range l.jobs {
		if projectID != "" && job.ProjectID != projectID {
			continue
		}
		c, err := clone(job)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, c)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// RequestCancel sets the cancellation flag on a non-terminal job.
func (l *Ledger) RequestCancel(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return ledger.ErrNotFound
	}
	if job.Phase.IsTerminal() {
		return fmt.Errorf("%w: job already %s", ledger.ErrInvalidTransition, job.Phase)
	}
	job.CancelRequested = true
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// clone deep-copies a job so callers cannot mutate ledger state directly.
func clone(job *models.Job) (*models.Job, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("copying job: %w", err)
	}
	out := &models.Job{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("copying job: %w", err)
	}
	return out, nil
}
