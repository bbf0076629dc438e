// Package pipeline sequences the generation stages of a job: plan,
// schedule, generate, build-fix and test for each application half, then
// integration wiring and an end-to-end smoke test.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/narvanalabs/forge/internal/buildfix"
	"github.com/narvanalabs/forge/internal/design"
	"github.com/narvanalabs/forge/internal/events"
	"github.com/narvanalabs/forge/internal/generator"
	"github.com/narvanalabs/forge/internal/ledger"
	"github.com/narvanalabs/forge/internal/models"
	"github.com/narvanalabs/forge/internal/planner"
	"github.com/narvanalabs/forge/internal/scheduler"
)

// ErrCancelled is returned by Execute when the job was cancelled.
var ErrCancelled = errors.New("job cancelled")

// cancelPollInterval is how often an in-flight stage checks the ledger's
// cancellation flag.
const cancelPollInterval = 2 * time.Second

// Config holds orchestrator configuration.
type Config struct {
	// WorkDir is the root under which each job gets its project directory.
	WorkDir string
	// MaxBuildAttempts bounds the build-fix loop per half.
	MaxBuildAttempts int
	// BuildTimeout bounds a single build invocation.
	BuildTimeout time.Duration
	// Build and test commands, run via the command builder.
	BackendBuildCmd  string
	FrontendBuildCmd string
	SmokeTestCmd     string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkDir:          "/tmp/forge-builds",
		MaxBuildAttempts: buildfix.DefaultMaxAttempts,
		BuildTimeout:     10 * time.Minute,
		BackendBuildCmd:  "npm run build",
		FrontendBuildCmd: "npm run build",
		SmokeTestCmd:     "npm run smoke",
	}
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Ledger  ledger.Ledger
	Designs design.Source
	Planner *planner.Planner
	Runner  *generator.Runner
	Fixer   generator.Fixer
	Broker  *events.Broker
	// Builders may be overridden for testing; when nil the orchestrator
	// uses command builders from the Config.
	BackendBuilder  buildfix.Builder
	FrontendBuilder buildfix.Builder
	SmokeBuilder    buildfix.Builder
}

// Orchestrator runs one job at a time through the phase machine, committing
// every stage outcome to the ledger before the next stage starts.
type Orchestrator struct {
	deps   Deps
	cfg    *Config
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, cfg *Config, logger *slog.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Planner == nil {
		deps.Planner = planner.New()
	}
	if deps.BackendBuilder == nil {
		deps.BackendBuilder = buildfix.NewCommandBuilder(cfg.BackendBuildCmd, cfg.BuildTimeout, logger)
	}
	if deps.FrontendBuilder == nil {
		deps.FrontendBuilder = buildfix.NewCommandBuilder(cfg.FrontendBuildCmd, cfg.BuildTimeout, logger)
	}
	if deps.SmokeBuilder == nil {
		deps.SmokeBuilder = buildfix.NewCommandBuilder(cfg.SmokeTestCmd, cfg.BuildTimeout, logger)
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
}

// Execute drives the job from its current phase to a terminal phase.
// A restarted worker picks up exactly where the last committed phase left
// off; completed stages are not repeated.
func (o *Orchestrator) Execute(ctx context.Context, jobID string) error {
	logger := o.logger.With("job_id", jobID)

	for {
		job, err := o.deps.Ledger.Get(ctx, jobID)
		if err != nil {
			return fmt.Errorf("loading job: %w", err)
		}

		if job.Phase.IsTerminal() {
			return nil
		}

		// User cancellation ends the job; a worker shutting down leaves
		// it mid-phase for the next worker to resume.
		if job.CancelRequested {
			return o.cancelJob(jobID, logger)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		nextPhase, payload, stageErr := o.runStage(ctx, job, logger)
		if stageErr != nil {
			if errors.Is(stageErr, context.Canceled) {
				if fresh, err := o.deps.Ledger.Get(context.Background(), jobID); err == nil && fresh.CancelRequested {
					return o.cancelJob(jobID, logger)
				}
				return stageErr
			}
			return o.failJob(jobID, payload, stageErr, logger)
		}

		if _, err := o.deps.Ledger.Transition(ctx, jobID, nextPhase, payload); err != nil {
			// Conflicts and illegal transitions are ledger-consistency
			// errors; never retried.
			return fmt.Errorf("committing phase %s: %w", nextPhase, err)
		}
		o.publishPhase(jobID, nextPhase)
		logger.Info("phase committed", "phase", nextPhase)
	}
}

// runStage executes the work of the job's current phase and names the
// phase that follows on success.
func (o *Orchestrator) runStage(ctx context.Context, job *models.Job, logger *slog.Logger) (models.JobPhase, *ledger.Payload, error) {
	switch job.Phase {
	case models.JobPhasePending:
		return models.JobPhasePlanningBackend, nil, nil

	case models.JobPhasePlanningBackend:
		payload, err := o.planHalf(ctx, job, models.FileRoleBackend)
		return models.JobPhaseSchedulingBackend, payload, err

	case models.JobPhaseSchedulingBackend:
		err := o.scheduleHalf(job.BackendPlan)
		return models.JobPhaseGeneratingBackend, nil, err

	case models.JobPhaseGeneratingBackend:
		payload, err := o.generateHalf(ctx, job, job.BackendPlan)
		return models.JobPhaseBuildingBackend, payload, err

	case models.JobPhaseBuildingBackend:
		payload, err := o.buildHalf(ctx, job, models.FileRoleBackend)
		return models.JobPhaseTestingBackend, payload, err

	case models.JobPhaseTestingBackend:
		err := o.smokeTest(ctx, job, o.halfDir(job, models.FileRoleBackend))
		return models.JobPhasePlanningFrontend, nil, err

	case models.JobPhasePlanningFrontend:
		payload, err := o.planHalf(ctx, job, models.FileRoleFrontend)
		return models.JobPhaseSchedulingFrontend, payload, err

	case models.JobPhaseSchedulingFrontend:
		err := o.scheduleHalf(job.FrontendPlan)
		return models.JobPhaseGeneratingFrontend, nil, err

	case models.JobPhaseGeneratingFrontend:
		payload, err := o.generateHalf(ctx, job, job.FrontendPlan)
		return models.JobPhaseBuildingFrontend, payload, err

	case models.JobPhaseBuildingFrontend:
		payload, err := o.buildHalf(ctx, job, models.FileRoleFrontend)
		return models.JobPhaseTestingFrontend, payload, err

	case models.JobPhaseTestingFrontend:
		err := o.smokeTest(ctx, job, o.halfDir(job, models.FileRoleFrontend))
		return models.JobPhaseWiringIntegration, nil, err

	case models.JobPhaseWiringIntegration:
		err := o.wireIntegration(job)
		return models.JobPhaseRunningE2E, nil, err

	case models.JobPhaseRunningE2E:
		err := o.smokeTest(ctx, job, o.projectDir(job))
		return models.JobPhaseCompleted, nil, err

	default:
		return "", nil, fmt.Errorf("%w: no stage for phase %s", ledger.ErrInvalidTransition, job.Phase)
	}
}

// planHalf builds the half's code plan from its design artifact. The
// frontend plan receives the backend's contract as read-only metadata.
func (o *Orchestrator) planHalf(ctx context.Context, job *models.Job, role models.FileRole) (*ledger.Payload, error) {
	diagrams, err := o.deps.Designs.LoadRole(ctx, job.ProjectID, role)
	if err != nil {
		return nil, fmt.Errorf("loading %s design: %w", role, err)
	}

	if role == models.FileRoleFrontend {
		plan := o.deps.Planner.Build(diagrams, role, job.Contract)
		return &ledger.Payload{FrontendPlan: plan}, nil
	}

	plan := o.deps.Planner.Build(diagrams, role, nil)
	return &ledger.Payload{BackendPlan: plan, Contract: plan.Contract}, nil
}

// scheduleHalf validates that the plan's dependency graph is acyclic.
// A cycle is fatal before any generation happens.
func (o *Orchestrator) scheduleHalf(plan *models.CodePlan) error {
	if plan == nil {
		return fmt.Errorf("scheduling: plan is missing")
	}
	if _, err := scheduler.Waves(plan); err != nil {
		return fmt.Errorf("scheduling %s plan: %w", plan.Role, err)
	}
	return nil
}

// generateHalf fills the plan's file contents wave by wave and
// materializes them under the job's project directory.
func (o *Orchestrator) generateHalf(ctx context.Context, job *models.Job, plan *models.CodePlan) (*ledger.Payload, error) {
	if plan == nil {
		return nil, fmt.Errorf("generating: plan is missing")
	}

	waves, err := scheduler.Waves(plan)
	if err != nil {
		return nil, fmt.Errorf("scheduling %s plan: %w", plan.Role, err)
	}

	if err := o.deps.Runner.Run(ctx, plan, waves); err != nil {
		return nil, fmt.Errorf("generating %s files: %w", plan.Role, err)
	}

	if err := o.materialize(job, plan); err != nil {
		return nil, err
	}

	if plan.Role == models.FileRoleFrontend {
		return &ledger.Payload{FrontendPlan: plan}, nil
	}
	return &ledger.Payload{BackendPlan: plan}, nil
}

// buildHalf runs the build-fix engine for one half. The result is attached
// to the job whether or not the build could be repaired.
func (o *Orchestrator) buildHalf(ctx context.Context, job *models.Job, role models.FileRole) (*ledger.Payload, error) {
	builder := o.deps.BackendBuilder
	if role == models.FileRoleFrontend {
		builder = o.deps.FrontendBuilder
	}

	buildCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go o.watchCancel(buildCtx, job.ID, cancel)

	engine := buildfix.NewEngine(builder, o.deps.Fixer, o.logger)
	result, err := engine.Run(buildCtx, o.halfDir(job, role), o.cfg.MaxBuildAttempts)
	if err != nil {
		return nil, err
	}

	payload := &ledger.Payload{}
	if role == models.FileRoleFrontend {
		payload.FrontendResult = result
	} else {
		payload.BackendResult = result
	}

	if !result.Success {
		return payload, fmt.Errorf("%s build not repairable after %d attempts", role, result.RetryCount)
	}
	return payload, nil
}

// smokeTest runs the configured test command once; there is no repair loop
// for test failures.
func (o *Orchestrator) smokeTest(ctx context.Context, job *models.Job, dir string) error {
	testCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go o.watchCancel(testCtx, job.ID, cancel)

	ok, raw, err := o.deps.SmokeBuilder.Build(testCtx, dir)
	if err != nil {
		return fmt.Errorf("running smoke test: %w", err)
	}
	if !ok {
		o.publishLog(job.ID, raw)
		return fmt.Errorf("smoke test failed in %s", dir)
	}
	return nil
}

// wireIntegration connects the two generated halves: the frontend gets the
// backend's base URL and the contract's endpoint list.
func (o *Orchestrator) wireIntegration(job *models.Job) error {
	if job.Contract == nil {
		return fmt.Errorf("wiring integration: backend contract is missing")
	}

	envPath := filepath.Join(o.projectDir(job), "frontend", ".env")
	if err := os.MkdirAll(filepath.Dir(envPath), 0o755); err != nil {
		return fmt.Errorf("creating frontend directory: %w", err)
	}

	content := "REACT_APP_API_BASE_URL=http://localhost:3001\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing integration env: %w", err)
	}
	return nil
}

// materialize writes the plan's generated contents to disk.
func (o *Orchestrator) materialize(job *models.Job, plan *models.CodePlan) error {
	root := o.projectDir(job)
	for _, f := range plan.Files {
		target := filepath.Join(root, f.Path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}
	return nil
}

// watchCancel polls the ledger's cancellation flag while a blocking stage
// is in flight and cancels the stage context when it is set.
func (o *Orchestrator) watchCancel(ctx context.Context, jobID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := o.deps.Ledger.Get(ctx, jobID)
			if err != nil {
				continue
			}
			if job.CancelRequested {
				o.logger.Info("cancellation observed, interrupting stage", "job_id", jobID)
				cancel()
				return
			}
		}
	}
}

// cancelJob commits the CANCELLED phase. It uses a fresh context so the
// write still happens when the worker context is already cancelled.
// Partial on-disk artifacts are left intact for inspection.
func (o *Orchestrator) cancelJob(jobID string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := o.deps.Ledger.Transition(ctx, jobID, models.JobPhaseCancelled, nil); err != nil {
		return fmt.Errorf("committing cancellation: %w", err)
	}
	o.publishPhase(jobID, models.JobPhaseCancelled)
	logger.Info("job cancelled")
	return ErrCancelled
}

// failJob commits the FAILED phase with the originating error preserved.
func (o *Orchestrator) failJob(jobID string, payload *ledger.Payload, stageErr error, logger *slog.Logger) error {
	if payload == nil {
		payload = &ledger.Payload{}
	}
	payload.FinalError = stageErr.Error()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := o.deps.Ledger.Transition(ctx, jobID, models.JobPhaseFailed, payload); err != nil {
		return fmt.Errorf("committing failure: %w (original: %s)", err, stageErr)
	}
	o.publishPhase(jobID, models.JobPhaseFailed)
	logger.Error("job failed", "error", stageErr)
	return stageErr
}

func (o *Orchestrator) publishPhase(jobID string, phase models.JobPhase) {
	if o.deps.Broker != nil {
		o.deps.Broker.PublishPhase(jobID, phase)
	}
}

func (o *Orchestrator) publishLog(jobID, line string) {
	if o.deps.Broker != nil {
		o.deps.Broker.PublishLog(jobID, line)
	}
}

// projectDir is the job's root directory on disk.
func (o *Orchestrator) projectDir(job *models.Job) string {
	return filepath.Join(o.cfg.WorkDir, job.ID)
}

// halfDir is the directory one half builds in.
func (o *Orchestrator) halfDir(job *models.Job, role models.FileRole) string {
	return filepath.Join(o.projectDir(job), string(role))
}
