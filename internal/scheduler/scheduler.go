// Package scheduler orders a code plan's files into generation waves.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/narvanalabs/forge/internal/models"
)

// Common errors returned by the scheduler.
var (
	// ErrUnknownDependency is returned when a file declares a dependency
	// on a path the plan does not contain.
	ErrUnknownDependency = errors.New("dependency on unknown file")
	// ErrSelfDependency is returned when a file declares itself as a
	// dependency.
	ErrSelfDependency = errors.New("file depends on itself")
	// ErrDuplicatePath is returned when two files in the plan share a
	// path. Duplicates would silently collapse during peeling and surface
	// as a bogus cycle, so they are rejected up front by name.
	ErrDuplicatePath = errors.New("duplicate file path in plan")
)

// CycleError is returned when the dependency graph contains a cycle.
// InvolvedFiles lists the paths of the residual subgraph, sorted.
type CycleError struct {
	InvolvedFiles []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving: %s", strings.Join(e.InvolvedFiles, ", "))
}

// Waves performs a Kahn-style topological sort over the plan's file graph.
//
// Each wave is the set of files whose remaining in-degree is zero; files
// within a wave have no dependency relationship to each other. Waves are
// sorted by path for determinism. If peeling leaves files behind, the
// residual subgraph contains a cycle and a *CycleError is returned.
func Waves(plan *models.CodePlan) ([][]*models.FileSpec, error) {
	byPath := make(map[string]*models.FileSpec, len(plan.Files))
	for _, f := range plan.Files {
		if _, ok := byPath[f.Path]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, f.Path)
		}
		byPath[f.Path] = f
	}

	// Kahn's algorithm: in-degree counts edges from dependencies to the
	// files that declare them.
	inDegree := make(map[string]int, len(plan.Files))
	dependents := make(map[string][]string, len(plan.Files))
	for _, f := range plan.Files {
		if _, ok := inDegree[f.Path]; !ok {
			inDegree[f.Path] = 0
		}
		for _, dep := range f.DependsOn {
			if dep == f.Path {
				return nil, fmt.Errorf("%w: %s", ErrSelfDependency, f.Path)
			}
			if _, ok := byPath[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, f.Path, dep)
			}
			inDegree[f.Path]++
			dependents[dep] = append(dependents[dep], f.Path)
		}
	}

	var waves [][]*models.FileSpec
	scheduled := 0

	frontier := zeroInDegree(inDegree, nil)
	for len(frontier) > 0 {
		wave := make([]*models.FileSpec, 0, len(frontier))
		for _, path := range frontier {
			wave = append(wave, byPath[path])
		}
		waves = append(waves, wave)
		scheduled += len(frontier)

		next := make(map[string]bool)
		for _, path := range frontier {
			delete(inDegree, path)
			for _, dependent := range dependents[path] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next[dependent] = true
				}
			}
		}
		frontier = zeroInDegree(inDegree, next)
	}

	if scheduled < len(plan.Files) {
		// Whatever remains has positive in-degree: a cycle.
		remaining := make([]string, 0, len(inDegree))
		for path := range inDegree {
			remaining = append(remaining, path)
		}
		sort.Strings(remaining)
		return nil, &CycleError{InvolvedFiles: remaining}
	}

	return waves, nil
}

// zeroInDegree returns the paths with in-degree zero, sorted ascending.
// When candidates is non-nil only those paths are considered.
func zeroInDegree(inDegree map[string]int, candidates map[string]bool) []string {
	var out []string
	for path, degree := range inDegree {
		if degree != 0 {
			continue
		}
		if candidates != nil && !candidates[path] {
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// WaveIndex returns a map from file path to the index of the wave it was
// scheduled in. Useful for verifying ordering constraints.
func WaveIndex(waves [][]*models.FileSpec) map[string]int {
	out := make(map[string]int)
	for i, wave := range waves {
		for _, f := range wave {
			out[f.Path] = i
		}
	}
	return out
}
