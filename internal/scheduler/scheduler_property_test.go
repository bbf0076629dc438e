package scheduler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/forge/internal/models"
)

// genAcyclicPlan generates plans whose files only depend on files with a
// smaller index, so the graph is acyclic by construction.
func genAcyclicPlan() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 30),
		gen.Int64(),
	).Map(func(values []interface{}) *models.CodePlan {
		n := values[0].(int)
		rng := rand.New(rand.NewSource(values[1].(int64)))

		files := make([]*models.FileSpec, n)
		for i := 0; i < n; i++ {
			files[i] = &models.FileSpec{
				Path: fmt.Sprintf("backend/f%03d.js", i),
				Role: models.FileRoleBackend,
			}
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					files[i].DependsOn = append(files[i].DependsOn, files[j].Path)
				}
			}
		}
		return &models.CodePlan{Role: models.FileRoleBackend, Files: files}
	})
}

func TestWaveOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every dependency lands in a strictly earlier wave", prop.ForAll(
		func(plan *models.CodePlan) bool {
			waves, err := Waves(plan)
			if err != nil {
				return false
			}
			idx := WaveIndex(waves)
			for _, f := range plan.Files {
				for _, dep := range f.DependsOn {
					if idx[dep] >= idx[f.Path] {
						return false
					}
				}
			}
			return true
		},
		genAcyclicPlan(),
	))

	properties.Property("waves partition the plan's files exactly once", prop.ForAll(
		func(plan *models.CodePlan) bool {
			waves, err := Waves(plan)
			if err != nil {
				return false
			}
			seen := make(map[string]bool)
			total := 0
			for _, wave := range waves {
				for _, f := range wave {
					if seen[f.Path] {
						return false
					}
					seen[f.Path] = true
					total++
				}
			}
			return total == len(plan.Files)
		},
		genAcyclicPlan(),
	))

	properties.Property("a plan without dependencies fits in one wave", prop.ForAll(
		func(n int) bool {
			files := make([]*models.FileSpec, n)
			for i := range files {
				files[i] = &models.FileSpec{Path: fmt.Sprintf("backend/f%03d.js", i)}
			}
			waves, err := Waves(&models.CodePlan{Files: files})
			if err != nil {
				return false
			}
			return len(waves) == 1 && len(waves[0]) == n
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestCycleDetectionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// A ring of n files where each depends on the next is the minimal
	// cycle; Waves must refuse it and name every member.
	properties.Property("a dependency ring is always reported as a cycle", prop.ForAll(
		func(n int) bool {
			files := make([]*models.FileSpec, n)
			for i := range files {
				files[i] = &models.FileSpec{
					Path:      fmt.Sprintf("backend/f%03d.js", i),
					DependsOn: []string{fmt.Sprintf("backend/f%03d.js", (i+1)%n)},
				}
			}
			_, err := Waves(&models.CodePlan{Files: files})
			cycleErr, ok := err.(*CycleError)
			if !ok {
				return false
			}
			return len(cycleErr.InvolvedFiles) == n
		},
		gen.IntRange(2, 20),
	))

	properties.TestingRun(t)
}
