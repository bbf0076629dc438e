// Package buildfix drives the bounded build, classify, patch, rebuild loop
// that attempts automatic repair of build failures.
package buildfix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/narvanalabs/forge/internal/generator"
	"github.com/narvanalabs/forge/internal/models"
)

// ErrUnusablePatch is returned when a fixer patch cannot be applied.
var ErrUnusablePatch = errors.New("unusable fix patch")

// DefaultMaxAttempts bounds the repair loop when no explicit limit is
// configured.
const DefaultMaxAttempts = 3

// Engine runs the external build, classifies its diagnostics, requests
// patches from the fixer collaborator, and bounds the number of repair
// attempts.
type Engine struct {
	builder Builder
	fixer   generator.Fixer
	logger  *slog.Logger
}

// NewEngine creates a build-fix engine.
func NewEngine(builder Builder, fixer generator.Fixer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		builder: builder,
		fixer:   fixer,
		logger:  logger,
	}
}

// Run executes the build-fix loop against projectDir with at most
// maxAttempts build invocations.
//
// The returned error is non-nil only for cancellation; a build that cannot
// be repaired is reported through BuildResult.Success=false with the
// unresolved errors retained. Two consecutive attempts with an identical
// error set and zero files fixed short-circuit to FATAL instead of burning
// the remaining attempts.
func (e *Engine) Run(ctx context.Context, projectDir string, maxAttempts int) (*models.BuildResult, error) {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	result := &models.BuildResult{}
	fixedSet := make(map[string]bool)

	var prevSignature string
	havePrev := false
	lastRoundFixed := 0

	for attemptIdx := 0; ; attemptIdx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt := models.BuildAttempt{
			AttemptNumber: attemptIdx + 1,
			StartedAt:     time.Now().UTC(),
		}

		ok, raw, buildErr := e.builder.Build(ctx, projectDir)
		finished := time.Now().UTC()
		attempt.RawOutput = raw
		attempt.FinishedAt = &finished

		if ok {
			result.Attempts = append(result.Attempts, attempt)
			result.Success = true
			result.RetryCount = attemptIdx
			e.logger.Info("build succeeded",
				"project_dir", projectDir,
				"attempts", attemptIdx+1,
			)
			return result, nil
		}

		errs, warnings := e.classifyFailure(ctx, raw, buildErr)
		if errs == nil {
			// classifyFailure only returns nil on cancellation.
			return nil, buildErr
		}
		attempt.Errors = errs
		attempt.Warnings = warnings
		result.Attempts = append(result.Attempts, attempt)
		result.Warnings = append(result.Warnings, warnings...)

		signature := errorSignature(errs)
		noProgress := havePrev && signature == prevSignature && lastRoundFixed == 0

		if noProgress {
			e.logger.Warn("no progress between attempts, stopping early",
				"project_dir", projectDir,
				"attempts", attemptIdx+1,
			)
			result.RetryCount = attemptIdx + 1
			result.Errors = errs
			return result, nil
		}

		if attemptIdx+1 >= maxAttempts {
			e.logger.Warn("build attempts exhausted",
				"project_dir", projectDir,
				"max_attempts", maxAttempts,
			)
			result.RetryCount = maxAttempts
			result.Errors = errs
			return result, nil
		}

		lastRoundFixed = e.fixRound(ctx, projectDir, errs, result, fixedSet)
		prevSignature = signature
		havePrev = true
	}
}

// classifyFailure turns a failed build invocation into typed errors. A nil
// return means the context was cancelled and the caller should propagate.
func (e *Engine) classifyFailure(ctx context.Context, raw string, buildErr error) ([]models.BuildError, []models.BuildWarning) {
	switch {
	case buildErr == nil:
		errs, warnings := Classify(raw)
		if len(errs) == 0 {
			errs = []models.BuildError{{
				Kind:    models.BuildErrorUnclassified,
				Message: "build failed without recognizable diagnostics",
			}}
		}
		return errs, warnings
	case errors.Is(buildErr, ErrBuildTimeout):
		return []models.BuildError{{
			Kind:    models.BuildErrorTimeout,
			Message: buildErr.Error(),
		}}, nil
	case ctx.Err() != nil:
		return nil, nil
	default:
		return []models.BuildError{{
			Kind:    models.BuildErrorUnclassified,
			Message: buildErr.Error(),
		}}, nil
	}
}

// fixRound requests one patch per distinct file referenced by the errors
// and applies whatever comes back. Errors whose file gets no patch are
// carried forward unresolved; the loop still retries, since other files'
// fixes may unblock them.
func (e *Engine) fixRound(ctx context.Context, projectDir string, errs []models.BuildError, result *models.BuildResult, fixedSet map[string]bool) int {
	fixed := 0
	attempt := &result.Attempts[len(result.Attempts)-1]

	for _, file := range filesWithErrors(errs) {
		content, err := os.ReadFile(filepath.Join(projectDir, file))
		if err != nil {
			e.logger.Warn("cannot read file for fixing", "file", file, "error", err)
			continue
		}

		patch, err := e.fixer.Fix(ctx, file, string(content), errorsForFile(errs, file))
		if err != nil {
			e.logger.Warn("fixer call failed", "file", file, "error", err)
			continue
		}
		if patch == nil {
			e.logger.Debug("fixer returned no patch", "file", file)
			continue
		}

		if err := e.applyPatch(projectDir, patch); err != nil {
			e.logger.Warn("patch could not be applied", "file", file, "error", err)
			continue
		}

		fixed++
		attempt.FixedFiles = append(attempt.FixedFiles, patch.TargetFile)
		if !fixedSet[patch.TargetFile] {
			fixedSet[patch.TargetFile] = true
			result.FixedFiles = append(result.FixedFiles, patch.TargetFile)
		}
	}

	return fixed
}

// applyPatch replaces the target file's content atomically: the new content
// is written to a sibling temp file and renamed over the original. A patch
// that fails the structural check (empty, or unbalanced delimiters outside
// strings and comments) is discarded and the file keeps its previous
// content.
func (e *Engine) applyPatch(projectDir string, patch *models.FixPatch) error {
	if strings.TrimSpace(patch.NewContent) == "" {
		return fmt.Errorf("%w: empty content for %s", ErrUnusablePatch, patch.TargetFile)
	}
	if !balancedDelimiters(patch.NewContent) {
		return fmt.Errorf("%w: unbalanced delimiters in %s", ErrUnusablePatch, patch.TargetFile)
	}

	target := filepath.Join(projectDir, patch.TargetFile)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating patch directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".fix-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(patch.NewContent); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing patch: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", patch.TargetFile, err)
	}
	return nil
}

// balancedDelimiters scans the content like a tokenizer would and reports
// whether braces, brackets and parentheses balance. Delimiters inside string
// literals, template literals and comments are ignored. This is not a full
// parse; it mainly catches truncated generator output before the next build
// attempt burns on it.
func balancedDelimiters(content string) bool {
	var stack []byte

	const (
		code = iota
		lineComment
		blockComment
		singleQuote
		doubleQuote
		backtick
	)
	state := code

	for i := 0; i < len(content); i++ {
		c := content[i]

		switch state {
		case lineComment:
			if c == '\n' {
				state = code
			}
		case blockComment:
			if c == '*' && i+1 < len(content) && content[i+1] == '/' {
				state = code
				i++
			}
		case singleQuote, doubleQuote, backtick:
			if c == '\\' {
				i++
				continue
			}
			if (state == singleQuote && c == '\'') ||
				(state == doubleQuote && c == '"') ||
				(state == backtick && c == '`') {
				state = code
			}
			// An unterminated plain string ends at the newline; the
			// build will complain either way, so do not reject here.
			if state != backtick && c == '\n' {
				state = code
			}
		default:
			switch c {
			case '\\':
				// Escapes outside strings come from regex literals,
				// which this scan does not model; skip the escaped rune.
				i++
			case '/':
				if i+1 < len(content) {
					switch content[i+1] {
					case '/':
						state = lineComment
						i++
					case '*':
						state = blockComment
						i++
					}
				}
			case '\'':
				state = singleQuote
			case '"':
				state = doubleQuote
			case '`':
				state = backtick
			case '{', '[', '(':
				stack = append(stack, c)
			case '}', ']', ')':
				if len(stack) == 0 {
					return false
				}
				open := stack[len(stack)-1]
				if (c == '}' && open != '{') ||
					(c == ']' && open != '[') ||
					(c == ')' && open != '(') {
					return false
				}
				stack = stack[:len(stack)-1]
			}
		}
	}

	return len(stack) == 0
}
