package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/narvanalabs/forge/internal/ledger"
	"github.com/narvanalabs/forge/internal/models"
)

func TestCreateStartsPending(t *testing.T) {
	l := New()

	job, err := l.Create(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if job.Phase != models.JobPhasePending {
		t.Errorf("Phase = %s, want %s", job.Phase, models.JobPhasePending)
	}
	if job.ID == "" {
		t.Error("expected a generated job ID")
	}
}

func TestTransitionFollowsHappyPath(t *testing.T) {
	l := New()
	ctx := context.Background()

	job, err := l.Create(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}

	for phase := models.JobPhasePending.Next(); phase != ""; phase = phase.Next() {
		job, err = l.Transition(ctx, job.ID, phase, nil)
		if err != nil {
			t.Fatalf("Transition to %s returned error: %v", phase, err)
		}
		if job.Phase != phase {
			t.Fatalf("Phase = %s, want %s", job.Phase, phase)
		}
	}

	if job.Phase != models.JobPhaseCompleted {
		t.Errorf("final phase = %s, want %s", job.Phase, models.JobPhaseCompleted)
	}
}

func TestTransitionRejectsSkippedPhase(t *testing.T) {
	l := New()
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	_, err := l.Transition(ctx, job.ID, models.JobPhaseBuildingBackend, nil)
	if !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTerminalPhaseAbsorbs(t *testing.T) {
	l := New()
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	if _, err := l.Transition(ctx, job.ID, models.JobPhaseFailed, &ledger.Payload{FinalError: "boom"}); err != nil {
		t.Fatal(err)
	}

	if _, err := l.Transition(ctx, job.ID, models.JobPhasePlanningBackend, nil); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from terminal phase, got %v", err)
	}

	got, _ := l.Get(ctx, job.ID)
	if got.FinalError != "boom" {
		t.Errorf("FinalError = %q, want %q", got.FinalError, "boom")
	}
}

func TestPayloadArtifactsSurviveTransitions(t *testing.T) {
	l := New()
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	plan := &models.CodePlan{
		Role:  models.FileRoleBackend,
		Files: []*models.FileSpec{{Path: "backend/app.js", Content: "const app = 1;"}},
	}

	if _, err := l.Transition(ctx, job.ID, models.JobPhasePlanningBackend, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Transition(ctx, job.ID, models.JobPhaseSchedulingBackend, &ledger.Payload{BackendPlan: plan}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Transition(ctx, job.ID, models.JobPhaseGeneratingBackend, nil); err != nil {
		t.Fatal(err)
	}

	// A fresh read, as a restarted worker would do, still sees the plan.
	got, err := l.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BackendPlan == nil || len(got.BackendPlan.Files) != 1 {
		t.Fatal("backend plan was not persisted across transitions")
	}
	if got.BackendPlan.Files[0].Content != "const app = 1;" {
		t.Errorf("Content = %q", got.BackendPlan.Files[0].Content)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	l := New()
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	first, _ := l.Get(ctx, job.ID)
	first.Phase = models.JobPhaseCompleted

	second, _ := l.Get(ctx, job.ID)
	if second.Phase != models.JobPhasePending {
		t.Error("mutating a returned job leaked into ledger state")
	}
}

func TestRequestCancelSetsFlag(t *testing.T) {
	l := New()
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	if err := l.RequestCancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	got, _ := l.Get(ctx, job.ID)
	if !got.CancelRequested {
		t.Error("CancelRequested not set")
	}
}

func TestRequestCancelRejectsTerminal(t *testing.T) {
	l := New()
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	l.Transition(ctx, job.ID, models.JobPhaseCancelled, nil)

	if err := l.RequestCancel(ctx, job.ID); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestListFiltersByProject(t *testing.T) {
	l := New()
	ctx := context.Background()

	l.Create(ctx, "proj-a")
	l.Create(ctx, "proj-a")
	l.Create(ctx, "proj-b")

	jobs, err := l.List(ctx, "proj-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Errorf("len(jobs) = %d, want 2", len(jobs))
	}

	all, _ := l.List(ctx, "")
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}
