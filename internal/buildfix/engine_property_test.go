package buildfix

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/forge/internal/models"
)

// countingBuilder fails with a distinct diagnostic per attempt until
// succeedOn, then succeeds. succeedOn of 0 never succeeds.
type countingBuilder struct {
	succeedOn int
	calls     int
}

func (b *countingBuilder) Build(ctx context.Context, projectDir string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	b.calls++
	if b.succeedOn > 0 && b.calls >= b.succeedOn {
		return true, "build ok", nil
	}
	return false, fmt.Sprintf("app.js:%d:1 - error: unexpected token variant %d", b.calls, b.calls), nil
}

type nopFixer struct{}

func (nopFixer) Fix(ctx context.Context, path, content string, errs []models.BuildError) (*models.FixPatch, error) {
	return nil, nil
}

func TestAttemptBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a failing build never exceeds the attempt budget", prop.ForAll(
		func(maxAttempts int) bool {
			builder := &countingBuilder{}
			engine := NewEngine(builder, nopFixer{}, nil)
			result, err := engine.Run(context.Background(), t.TempDir(), maxAttempts)
			if err != nil {
				return false
			}
			return !result.Success &&
				builder.calls <= maxAttempts &&
				result.RetryCount <= maxAttempts
		},
		gen.IntRange(1, 8),
	))

	properties.Property("success on attempt k reports k-1 retries", prop.ForAll(
		func(succeedOn, slack int) bool {
			builder := &countingBuilder{succeedOn: succeedOn}
			engine := NewEngine(builder, nopFixer{}, nil)
			result, err := engine.Run(context.Background(), t.TempDir(), succeedOn+slack)
			if err != nil {
				return false
			}
			return result.Success &&
				result.RetryCount == succeedOn-1 &&
				len(result.Attempts) == succeedOn
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}
