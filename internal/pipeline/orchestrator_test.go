package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/narvanalabs/forge/internal/events"
	"github.com/narvanalabs/forge/internal/generator"
	"github.com/narvanalabs/forge/internal/ledger"
	ledgermem "github.com/narvanalabs/forge/internal/ledger/memory"
	"github.com/narvanalabs/forge/internal/models"
	"github.com/narvanalabs/forge/internal/planner"
)

// staticDesigns serves fixed diagram sets per role.
type staticDesigns struct {
	backend  *models.DiagramSet
	frontend *models.DiagramSet
}

func (s *staticDesigns) LoadRole(ctx context.Context, projectID string, role models.FileRole) (*models.DiagramSet, error) {
	if role == models.FileRoleFrontend {
		if s.frontend == nil {
			return &models.DiagramSet{}, nil
		}
		return s.frontend, nil
	}
	if s.backend == nil {
		return &models.DiagramSet{}, nil
	}
	return s.backend, nil
}

// echoGenerator produces trivial content for every file spec.
type echoGenerator struct{}

func (echoGenerator) GenerateFile(ctx context.Context, spec *models.FileSpec, plan *models.CodePlan) (string, error) {
	return "// " + spec.Path + "\n", nil
}

type noFixer struct{}

func (noFixer) Fix(ctx context.Context, path, content string, errs []models.BuildError) (*models.FixPatch, error) {
	return nil, nil
}

// resultBuilder returns a fixed outcome for every invocation.
type resultBuilder struct {
	ok    bool
	raw   string
	calls int
}

func (b *resultBuilder) Build(ctx context.Context, projectDir string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	b.calls++
	return b.ok, b.raw, nil
}

func newTestOrchestrator(t *testing.T, deps Deps) (*Orchestrator, *ledgermem.Ledger) {
	t.Helper()

	l := ledgermem.New()
	deps.Ledger = l
	if deps.Designs == nil {
		deps.Designs = &staticDesigns{}
	}
	if deps.Planner == nil {
		deps.Planner = planner.New()
	}
	if deps.Runner == nil {
		deps.Runner = generator.NewRunner(echoGenerator{}, nil, nil)
	}
	if deps.Fixer == nil {
		deps.Fixer = noFixer{}
	}
	if deps.Broker == nil {
		deps.Broker = events.NewBroker(nil)
	}
	if deps.BackendBuilder == nil {
		deps.BackendBuilder = &resultBuilder{ok: true}
	}
	if deps.FrontendBuilder == nil {
		deps.FrontendBuilder = &resultBuilder{ok: true}
	}
	if deps.SmokeBuilder == nil {
		deps.SmokeBuilder = &resultBuilder{ok: true}
	}

	cfg := DefaultConfig()
	cfg.WorkDir = t.TempDir()
	cfg.MaxBuildAttempts = 2

	return NewOrchestrator(deps, cfg, nil), l
}

func TestExecuteHappyPath(t *testing.T) {
	orch, l := newTestOrchestrator(t, Deps{
		Designs: &staticDesigns{
			backend: &models.DiagramSet{Components: []models.Component{
				{Name: "User", Members: []string{"id"}},
			}},
		},
	})
	ctx := context.Background()

	job, err := l.Create(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.Execute(ctx, job.ID); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	got, _ := l.Get(ctx, job.ID)
	if got.Phase != models.JobPhaseCompleted {
		t.Fatalf("Phase = %s, want %s", got.Phase, models.JobPhaseCompleted)
	}
	if got.BackendPlan == nil || got.FrontendPlan == nil {
		t.Fatal("plans not persisted")
	}
	if got.Contract == nil || len(got.Contract.Endpoints) == 0 {
		t.Fatal("backend contract not persisted")
	}
	if got.BackendResult == nil || !got.BackendResult.Success {
		t.Fatal("backend build result missing or unsuccessful")
	}
	for _, f := range got.BackendPlan.Files {
		if f.Content == "" {
			t.Errorf("%s has no generated content", f.Path)
		}
	}
}

func TestExecuteMaterializesFiles(t *testing.T) {
	orch, l := newTestOrchestrator(t, Deps{})
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	if err := orch.Execute(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	// The default backend skeleton includes an entry point.
	appPath := filepath.Join(orch.cfg.WorkDir, job.ID, "backend", "app.js")
	if _, err := os.Stat(appPath); err != nil {
		t.Errorf("expected generated file on disk: %v", err)
	}

	envPath := filepath.Join(orch.cfg.WorkDir, job.ID, "frontend", ".env")
	data, err := os.ReadFile(envPath)
	if err != nil {
		t.Fatalf("integration env not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("integration env is empty")
	}
}

func TestExecuteBuildFailureFailsJob(t *testing.T) {
	backend := &resultBuilder{ok: false, raw: "app.js:1:1 - error: unexpected token"}
	orch, l := newTestOrchestrator(t, Deps{BackendBuilder: backend})
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	err := orch.Execute(ctx, job.ID)
	if err == nil {
		t.Fatal("expected stage error")
	}

	got, _ := l.Get(ctx, job.ID)
	if got.Phase != models.JobPhaseFailed {
		t.Fatalf("Phase = %s, want %s", got.Phase, models.JobPhaseFailed)
	}
	if got.FinalError == "" {
		t.Error("FinalError not recorded")
	}
	if got.BackendResult == nil || got.BackendResult.Success {
		t.Error("failed build result should be attached")
	}
	if got.FrontendPlan != nil {
		t.Error("frontend stages must not run after a backend failure")
	}
}

func TestExecuteSmokeFailureFailsJob(t *testing.T) {
	smoke := &resultBuilder{ok: false, raw: "smoke test exploded"}
	orch, l := newTestOrchestrator(t, Deps{SmokeBuilder: smoke})
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	if err := orch.Execute(ctx, job.ID); err == nil {
		t.Fatal("expected stage error")
	}

	got, _ := l.Get(ctx, job.ID)
	if got.Phase != models.JobPhaseFailed {
		t.Fatalf("Phase = %s, want %s", got.Phase, models.JobPhaseFailed)
	}
	// Backend build succeeded before the smoke test ran.
	if got.BackendResult == nil || !got.BackendResult.Success {
		t.Error("successful backend result should be retained")
	}
}

func TestExecuteObservesCancellationFlag(t *testing.T) {
	orch, l := newTestOrchestrator(t, Deps{})
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	if err := l.RequestCancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	if err := orch.Execute(ctx, job.ID); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	got, _ := l.Get(ctx, job.ID)
	if got.Phase != models.JobPhaseCancelled {
		t.Errorf("Phase = %s, want %s", got.Phase, models.JobPhaseCancelled)
	}
}

// blockingBuilder blocks until its context is cancelled, signalling once the
// build is in flight.
type blockingBuilder struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingBuilder) Build(ctx context.Context, projectDir string) (bool, string, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return false, "", ctx.Err()
}

func TestExecuteCancelInterruptsInFlightBuild(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the cancellation poll interval")
	}

	frontend := &blockingBuilder{started: make(chan struct{})}
	orch, l := newTestOrchestrator(t, Deps{FrontendBuilder: frontend})
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")

	errCh := make(chan error, 1)
	go func() { errCh <- orch.Execute(ctx, job.ID) }()

	// Cancel only once the frontend build is actually running.
	<-frontend.started
	if err := l.RequestCancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("in-flight build was not interrupted")
	}

	got, _ := l.Get(ctx, job.ID)
	if got.Phase != models.JobPhaseCancelled {
		t.Fatalf("Phase = %s, want %s", got.Phase, models.JobPhaseCancelled)
	}
	// The completed backend half survives the cancellation untouched.
	if got.BackendResult == nil || !got.BackendResult.Success {
		t.Error("backend build result should be retained")
	}
	appPath := filepath.Join(orch.cfg.WorkDir, job.ID, "backend", "app.js")
	if _, err := os.Stat(appPath); err != nil {
		t.Errorf("backend files should stay on disk: %v", err)
	}
}

func TestExecuteWithoutBrokerSurvivesSmokeFailure(t *testing.T) {
	l := ledgermem.New()
	cfg := DefaultConfig()
	cfg.WorkDir = t.TempDir()

	orch := NewOrchestrator(Deps{
		Ledger:          l,
		Designs:         &staticDesigns{},
		Runner:          generator.NewRunner(echoGenerator{}, nil, nil),
		Fixer:           noFixer{},
		BackendBuilder:  &resultBuilder{ok: true},
		FrontendBuilder: &resultBuilder{ok: true},
		SmokeBuilder:    &resultBuilder{ok: false, raw: "smoke exploded"},
	}, cfg, nil)
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	if err := orch.Execute(ctx, job.ID); err == nil {
		t.Fatal("expected smoke failure")
	}

	got, _ := l.Get(ctx, job.ID)
	if got.Phase != models.JobPhaseFailed {
		t.Errorf("Phase = %s, want %s", got.Phase, models.JobPhaseFailed)
	}
}

func TestExecuteLeavesJobResumableOnShutdown(t *testing.T) {
	orch, l := newTestOrchestrator(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, _ := l.Create(context.Background(), "proj-1")
	if err := orch.Execute(ctx, job.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	got, _ := l.Get(context.Background(), job.ID)
	if got.Phase.IsTerminal() {
		t.Fatalf("shutdown must not terminate the job, phase = %s", got.Phase)
	}
}

func TestExecuteResumesFromCommittedPhase(t *testing.T) {
	backend := &resultBuilder{ok: true}
	orch, l := newTestOrchestrator(t, Deps{BackendBuilder: backend})
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	if err := orch.Execute(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	backendBuilds := backend.calls

	// A second Execute on the finished job must be a no-op.
	if err := orch.Execute(ctx, job.ID); err != nil {
		t.Fatalf("re-running a completed job returned error: %v", err)
	}
	if backend.calls != backendBuilds {
		t.Errorf("completed job was rebuilt: %d -> %d builds", backendBuilds, backend.calls)
	}
}

// countingGenerator records which paths it was asked to generate.
type countingGenerator struct {
	mu    sync.Mutex
	paths []string
}

func (g *countingGenerator) GenerateFile(ctx context.Context, spec *models.FileSpec, plan *models.CodePlan) (string, error) {
	g.mu.Lock()
	g.paths = append(g.paths, spec.Path)
	g.mu.Unlock()
	return "// " + spec.Path + "\n", nil
}

func TestExecuteResumeSkipsGeneratedContent(t *testing.T) {
	// Pre-advance a job past backend generation, with every backend file
	// already carrying content, as a restarted worker would find it. The
	// resumed run must not regenerate those files.
	gen := &countingGenerator{}
	orch, l := newTestOrchestrator(t, Deps{
		Runner: generator.NewRunner(gen, nil, nil),
	})
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")

	backendPlan := planner.New().Build(&models.DiagramSet{}, models.FileRoleBackend, nil)
	for _, f := range backendPlan.Files {
		f.Content = "// already generated\n"
	}
	if _, err := l.Transition(ctx, job.ID, models.JobPhasePlanningBackend, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Transition(ctx, job.ID, models.JobPhaseSchedulingBackend, &ledger.Payload{
		BackendPlan: backendPlan,
		Contract:    backendPlan.Contract,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Transition(ctx, job.ID, models.JobPhaseGeneratingBackend, nil); err != nil {
		t.Fatal(err)
	}

	if err := orch.Execute(ctx, job.ID); err != nil {
		t.Fatalf("resumed Execute returned error: %v", err)
	}

	got, _ := l.Get(ctx, job.ID)
	if got.Phase != models.JobPhaseCompleted {
		t.Fatalf("Phase = %s, want %s", got.Phase, models.JobPhaseCompleted)
	}
	for _, p := range gen.paths {
		if strings.HasPrefix(p, "backend/") {
			t.Errorf("backend file regenerated on resume: %s", p)
		}
	}
	if len(gen.paths) == 0 {
		t.Error("frontend files should still be generated")
	}
}

func TestExecutePublishesPhaseEvents(t *testing.T) {
	broker := events.NewBroker(nil)
	orch, l := newTestOrchestrator(t, Deps{Broker: broker})
	ctx := context.Background()

	job, _ := l.Create(ctx, "proj-1")
	sub := broker.Subscribe(ctx, job.ID)
	defer broker.Unsubscribe(sub)

	if err := orch.Execute(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	var phases []models.JobPhase
	for {
		select {
		case ev := <-sub.Ch:
			if ev.Type == "phase" {
				phases = append(phases, ev.Phase)
			}
			continue
		default:
		}
		break
	}

	if len(phases) == 0 {
		t.Fatal("no phase events published")
	}
	if phases[len(phases)-1] != models.JobPhaseCompleted {
		t.Errorf("last phase event = %s, want %s", phases[len(phases)-1], models.JobPhaseCompleted)
	}
}
