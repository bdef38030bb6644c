package oracle

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// ScriptedOracle returns a predefined sequence of proposals for deterministic
// runs. Once the script is exhausted it keeps returning the final proposal,
// or nothing when Cycle is set and the script is empty.
type ScriptedOracle struct {
	steps [][]puzzle.Action
	index int
	cycle bool
	mu    sync.Mutex
}

// NewScriptedOracle creates a scripted oracle proposing one action per call.
func NewScriptedOracle(actions ...puzzle.Action) *ScriptedOracle {
	steps := make([][]puzzle.Action, len(actions))
	for i, a := range actions {
		steps[i] = []puzzle.Action{a}
	}
	return &ScriptedOracle{steps: steps}
}

// NewScriptedOracleSteps creates a scripted oracle whose calls may propose
// zero or several actions.
func NewScriptedOracleSteps(steps ...[]puzzle.Action) *ScriptedOracle {
	return &ScriptedOracle{steps: steps}
}

// Cycle restarts the script from the beginning once it is exhausted.
func (o *ScriptedOracle) Cycle() *ScriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycle = true
	return o
}

// Propose returns the next scripted proposal.
func (o *ScriptedOracle) Propose(_ context.Context, _ puzzle.ProposeRequest) ([]puzzle.Action, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.steps) == 0 {
		return nil, nil
	}

	if o.index >= len(o.steps) {
		if !o.cycle {
			return o.steps[len(o.steps)-1], nil
		}
		o.index = 0
	}

	step := o.steps[o.index]
	o.index++
	return step, nil
}

// Calls returns how many proposals were served since the last reset.
func (o *ScriptedOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.index
}

// Reset restarts the script.
func (o *ScriptedOracle) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.index = 0
}

var _ puzzle.Oracle = (*ScriptedOracle)(nil)
