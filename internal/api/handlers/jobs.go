// Package handlers implements the HTTP handlers for the API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/narvanalabs/forge/internal/ledger"
	"github.com/narvanalabs/forge/internal/queue"
)

// JobsHandler handles generation job endpoints.
type JobsHandler struct {
	ledger ledger.Ledger
	queue  queue.Queue
	logger *slog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(l ledger.Ledger, q queue.Queue, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		ledger: l,
		queue:  q,
		logger: logger,
	}
}

// CreateJobRequest is the body of POST /v1/jobs.
type CreateJobRequest struct {
	ProjectID string `json:"project_id"`
}

// Create handles POST /v1/jobs. It records the job and enqueues it for a
// pipeline worker.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ProjectID == "" {
		WriteBadRequest(w, "project_id is required")
		return
	}

	job, err := h.ledger.Create(r.Context(), req.ProjectID)
	if err != nil {
		h.logger.Error("failed to create job", "error", err, "project_id", req.ProjectID)
		WriteInternalError(w, "Failed to create job")
		return
	}

	if err := h.queue.Enqueue(r.Context(), job.ID); err != nil {
		h.logger.Error("failed to enqueue job", "error", err, "job_id", job.ID)
		WriteInternalError(w, "Failed to enqueue job")
		return
	}

	h.logger.Info("job created", "job_id", job.ID, "project_id", req.ProjectID)
	WriteJSON(w, http.StatusCreated, job)
}

// List handles GET /v1/jobs. An optional project_id query parameter
// filters by project.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")

	jobs, err := h.ledger.List(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		WriteInternalError(w, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, jobs)
}

// Get handles GET /v1/jobs/{jobID}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		WriteBadRequest(w, "Job ID is required")
		return
	}

	job, err := h.ledger.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			WriteNotFound(w, "Job not found")
			return
		}
		h.logger.Error("failed to get job", "error", err, "job_id", jobID)
		WriteInternalError(w, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// Cancel handles POST /v1/jobs/{jobID}/cancel. Cancellation is
// cooperative; the pipeline observes the flag and stops at the next
// opportunity.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		WriteBadRequest(w, "Job ID is required")
		return
	}

	if err := h.ledger.RequestCancel(r.Context(), jobID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			WriteNotFound(w, "Job not found or already finished")
			return
		}
		h.logger.Error("failed to request cancellation", "error", err, "job_id", jobID)
		WriteInternalError(w, "Failed to cancel job")
		return
	}

	h.logger.Info("cancellation requested", "job_id", jobID)
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "cancellation_requested",
	})
}
