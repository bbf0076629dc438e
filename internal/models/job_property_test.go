package models

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genPhase() gopter.Gen {
	phases := ValidJobPhases()
	out := make([]interface{}, len(phases))
	for i, p := range phases {
		out[i] = p
	}
	return gen.OneConstOf(out...)
}

func genNonTerminalPhase() gopter.Gen {
	return genPhase().SuchThat(func(p JobPhase) bool { return !p.IsTerminal() })
}

func TestPhaseMachineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal phases admit no transitions", prop.ForAll(
		func(next JobPhase) bool {
			return !JobPhaseCompleted.CanTransition(next) &&
				!JobPhaseFailed.CanTransition(next) &&
				!JobPhaseCancelled.CanTransition(next)
		},
		genPhase(),
	))

	properties.Property("failure and cancellation are reachable from any live phase", prop.ForAll(
		func(p JobPhase) bool {
			return p.CanTransition(JobPhaseFailed) && p.CanTransition(JobPhaseCancelled)
		},
		genNonTerminalPhase(),
	))

	properties.Property("the only forward move is the immediate successor", prop.ForAll(
		func(p, next JobPhase) bool {
			if next == JobPhaseFailed || next == JobPhaseCancelled {
				return true
			}
			allowed := p.CanTransition(next)
			return allowed == (p.Next() == next)
		},
		genNonTerminalPhase(),
		genPhase(),
	))

	properties.TestingRun(t)
}

func TestPhaseOrderEndsAtCompleted(t *testing.T) {
	order := PhaseOrder()
	if order[0] != JobPhasePending {
		t.Errorf("first phase = %s, want %s", order[0], JobPhasePending)
	}
	if order[len(order)-1] != JobPhaseCompleted {
		t.Errorf("last phase = %s, want %s", order[len(order)-1], JobPhaseCompleted)
	}

	// Walking Next from PENDING must visit every happy-path phase.
	p := JobPhasePending
	for i := 1; i < len(order); i++ {
		p = p.Next()
		if p != order[i] {
			t.Fatalf("Next chain diverged at step %d: got %s, want %s", i, p, order[i])
		}
	}
	if p.Next() != "" {
		t.Errorf("Next(%s) = %s, want empty", p, p.Next())
	}
}
