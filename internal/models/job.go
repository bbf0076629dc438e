// Package models defines the core data types shared across the control plane.
package models

import "time"

// JobPhase represents the current stage of a generation job.
type JobPhase string

const (
	JobPhasePending            JobPhase = "pending"
	JobPhasePlanningBackend    JobPhase = "planning_backend"
	JobPhaseSchedulingBackend  JobPhase = "scheduling_backend"
	JobPhaseGeneratingBackend  JobPhase = "generating_backend"
	JobPhaseBuildingBackend    JobPhase = "building_backend"
	JobPhaseTestingBackend     JobPhase = "testing_backend"
	JobPhasePlanningFrontend   JobPhase = "planning_frontend"
	JobPhaseSchedulingFrontend JobPhase = "scheduling_frontend"
	JobPhaseGeneratingFrontend JobPhase = "generating_frontend"
	JobPhaseBuildingFrontend   JobPhase = "building_frontend"
	JobPhaseTestingFrontend    JobPhase = "testing_frontend"
	JobPhaseWiringIntegration  JobPhase = "wiring_integration"
	JobPhaseRunningE2E         JobPhase = "running_e2e"
	JobPhaseCompleted          JobPhase = "completed"
	JobPhaseFailed             JobPhase = "failed"
	JobPhaseCancelled          JobPhase = "cancelled"
)

// phaseOrder lists the happy-path phases in execution order.
var phaseOrder = []JobPhase{
	JobPhasePending,
	JobPhasePlanningBackend,
	JobPhaseSchedulingBackend,
	JobPhaseGeneratingBackend,
	JobPhaseBuildingBackend,
	JobPhaseTestingBackend,
	JobPhasePlanningFrontend,
	JobPhaseSchedulingFrontend,
	JobPhaseGeneratingFrontend,
	JobPhaseBuildingFrontend,
	JobPhaseTestingFrontend,
	JobPhaseWiringIntegration,
	JobPhaseRunningE2E,
	JobPhaseCompleted,
}

// PhaseOrder returns the happy-path phases in execution order.
func PhaseOrder() []JobPhase {
	out := make([]JobPhase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// IsTerminal reports whether the phase admits no further transitions.
func (p JobPhase) IsTerminal() bool {
	return p == JobPhaseCompleted || p == JobPhaseFailed || p == JobPhaseCancelled
}

// Next returns the phase that follows p on the happy path, or "" if p is
// terminal or unknown.
func (p JobPhase) Next() JobPhase {
	for i, phase := range phaseOrder {
		if phase == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return ""
}

// CanTransition reports whether a job in phase p may move to next. Legal
// moves are the single happy-path successor, or FAILED/CANCELLED from any
// non-terminal phase. Terminal phases absorb.
func (p JobPhase) CanTransition(next JobPhase) bool {
	if p.IsTerminal() {
		return false
	}
	if next == JobPhaseFailed || next == JobPhaseCancelled {
		return true
	}
	return p.Next() == next
}

// ValidJobPhases returns every phase the ledger will accept.
func ValidJobPhases() []JobPhase {
	out := PhaseOrder()
	return append(out, JobPhaseFailed, JobPhaseCancelled)
}

// Job is the persisted, resumable record of one end-to-end generation
// request. It is owned exclusively by the Job Ledger and mutated only
// through phase transitions.
type Job struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id"`
	Phase     JobPhase `json:"phase"`

	// Intermediate artifacts persisted so a restarted worker can resume
	// from the last committed phase without repeating completed stages.
	BackendPlan  *CodePlan    `json:"backend_plan,omitempty"`
	FrontendPlan *CodePlan    `json:"frontend_plan,omitempty"`
	Contract     *APIContract `json:"contract,omitempty"`

	BackendResult  *BuildResult `json:"backend_result,omitempty"`
	FrontendResult *BuildResult `json:"frontend_result,omitempty"`
	FinalError     string       `json:"final_error,omitempty"`

	// CancelRequested is the cooperative cancellation flag. The pipeline
	// checks it between stages and while a build is in flight.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
