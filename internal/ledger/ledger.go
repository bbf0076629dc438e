// Package ledger provides the persisted job lifecycle surface.
//
// A Job is created once, then advanced through phases exclusively via
// Transition. Implementations must serialize concurrent transitions on the
// same job: a transition reads the current phase, verifies legality, and
// writes with the old phase as a precondition. Last-writer-wins is not
// acceptable.
package ledger

import (
	"context"
	"errors"

	"github.com/narvanalabs/forge/internal/models"
)

// Common errors returned by ledger operations.
var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when the requested phase is not
	// reachable from the job's current phase.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrConflict is returned when the job's phase changed underneath a
	// transition between read and write.
	ErrConflict = errors.New("job was modified by another request")
)

// Payload carries the artifacts a phase transition commits alongside the
// new phase. Nil fields are left untouched on the job.
type Payload struct {
	BackendPlan    *models.CodePlan
	FrontendPlan   *models.CodePlan
	Contract       *models.APIContract
	BackendResult  *models.BuildResult
	FrontendResult *models.BuildResult
	FinalError     string
}

// Apply merges the payload's non-nil fields into the job.
func (p *Payload) Apply(job *models.Job) {
	if p == nil {
		return
	}
	if p.BackendPlan != nil {
		job.BackendPlan = p.BackendPlan
	}
	if p.FrontendPlan != nil {
		job.FrontendPlan = p.FrontendPlan
	}
	if p.Contract != nil {
		job.Contract = p.Contract
	}
	if p.BackendResult != nil {
		job.BackendResult = p.BackendResult
	}
	if p.FrontendResult != nil {
		job.FrontendResult = p.FrontendResult
	}
	if p.FinalError != "" {
		job.FinalError = p.FinalError
	}
}

// Ledger defines operations for job lifecycle management.
type Ledger interface {
	// Create creates a new job in phase PENDING.
	Create(ctx context.Context, projectID string) (*models.Job, error)
	// Transition moves a job to newPhase, committing the payload's
	// artifacts in the same write. Fails with ErrInvalidTransition if the
	// phase machine forbids the move, or ErrConflict if the stored phase
	// changed since it was read.
	Transition(ctx context.Context, jobID string, newPhase models.JobPhase, payload *Payload) (*models.Job, error)
	// Get retrieves a job by ID.
	Get(ctx context.Context, jobID string) (*models.Job, error)
	// List retrieves all jobs, optionally filtered by project ID,
	// ordered by created_at descending.
	List(ctx context.Context, projectID string) ([]*models.Job, error)
	// RequestCancel sets the cooperative cancellation flag on a
	// non-terminal job. The pipeline observes the flag between stages
	// and kills an in-flight build.
	RequestCancel(ctx context.Context, jobID string) error
}
