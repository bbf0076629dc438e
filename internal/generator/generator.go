// Package generator drives file generation through an external
// code-generation collaborator, wave by wave.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/narvanalabs/forge/internal/models"
	"golang.org/x/sync/errgroup"
)

// ErrGenerationFailed is returned when a wave still has failed members
// after the configured number of wave retries.
var ErrGenerationFailed = errors.New("file generation failed")

// Generator produces source text for one file specification. The returned
// text may be malformed; malformed output is accepted as-is and surfaces
// later as a build error.
type Generator interface {
	GenerateFile(ctx context.Context, spec *models.FileSpec, plan *models.CodePlan) (string, error)
}

// Fixer proposes replacement content for a file given the build errors
// attributed to it. A nil patch with nil error means the fixer has no fix.
type Fixer interface {
	Fix(ctx context.Context, path, content string, errs []models.BuildError) (*models.FixPatch, error)
}

// WaveError aggregates the per-file failures that exhausted a wave's
// retries.
type WaveError struct {
	Wave     int
	Failures map[string]error
}

// Error implements the error interface.
func (e *WaveError) Error() string {
	paths := make([]string, 0, len(e.Failures))
	for path := range e.Failures {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return fmt.Sprintf("wave %d: generation failed for %s", e.Wave, strings.Join(paths, ", "))
}

// Unwrap lets callers match ErrGenerationFailed with errors.Is.
func (e *WaveError) Unwrap() error {
	return ErrGenerationFailed
}

// RunnerConfig holds configuration for the wave runner.
type RunnerConfig struct {
	// Concurrency bounds parallel generation calls within one wave.
	Concurrency int
	// WaveRetries is how many extra rounds a wave with failures gets
	// before the stage fails. Distinct from the build-fix retry bound.
	WaveRetries int
}

// DefaultRunnerConfig returns a RunnerConfig with sensible defaults.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Concurrency: 4,
		WaveRetries: 2,
	}
}

// Runner generates the files of a scheduled plan. Files within a wave are
// generated concurrently; waves run strictly in order so a file's
// dependencies always have content before it is generated.
type Runner struct {
	gen    Generator
	cfg    *RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a wave runner.
func NewRunner(gen Generator, cfg *RunnerConfig, logger *slog.Logger) *Runner {
	if cfg == nil {
		cfg = DefaultRunnerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{gen: gen, cfg: cfg, logger: logger}
}

// Run fills in Content for every file of the plan, honoring the wave order.
// A wave member that fails is retried with the rest of its wave's failures
// up to WaveRetries times; persistent failures abort the run with a
// *WaveError.
func (r *Runner) Run(ctx context.Context, plan *models.CodePlan, waves [][]*models.FileSpec) error {
	for waveIdx, wave := range waves {
		// Files that already have content (a resumed job) are left alone,
		// so re-entering the generation stage is a no-op for them.
		pending := make([]*models.FileSpec, 0, len(wave))
		for _, f := range wave {
			if f.Content == "" {
				pending = append(pending, f)
			}
		}

		var failures map[string]error
		for round := 0; round <= r.cfg.WaveRetries; round++ {
			if len(pending) == 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			failures = r.generateWave(ctx, plan, pending)
			if len(failures) == 0 {
				pending = nil
				break
			}

			r.logger.Warn("wave had generation failures",
				"wave", waveIdx,
				"failed", len(failures),
				"round", round,
			)

			retry := make([]*models.FileSpec, 0, len(failures))
			for _, f := range pending {
				if _, failed := failures[f.Path]; failed {
					retry = append(retry, f)
				}
			}
			pending = retry
		}

		if len(pending) > 0 {
			return &WaveError{Wave: waveIdx, Failures: failures}
		}
	}
	return nil
}

// generateWave issues the wave's generation calls concurrently, bounded by
// the configured pool size, and returns the per-file failures.
func (r *Runner) generateWave(ctx context.Context, plan *models.CodePlan, wave []*models.FileSpec) map[string]error {
	var mu sync.Mutex
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, spec := range wave {
		spec := spec
		g.Go(func() error {
			content, err := r.gen.GenerateFile(gctx, spec, plan)
			if err != nil {
				mu.Lock()
				failures[spec.Path] = err
				mu.Unlock()
				// Collect the failure instead of cancelling the wave, so
				// the other members still get their chance this round.
				return nil
			}
			spec.Content = content
			return nil
		})
	}
	g.Wait()

	return failures
}
