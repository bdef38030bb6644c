package statemachine

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// ErrTransitionNotAllowed indicates the chart has no edge for a transition.
var ErrTransitionNotAllowed = errors.New("phase transition not allowed")

// Interpreter wraps the statekit interpreter with run-specific functionality.
type Interpreter struct {
	interp *statekit.Interpreter[*Context]
	ctx    *Context
}

// NewInterpreter creates a new interpreter for the run state machine.
func NewInterpreter(machine *statekit.MachineConfig[*Context], ctx *Context) *Interpreter {
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **Context) {
		*c = ctx
	})
	return &Interpreter{
		interp: interp,
		ctx:    ctx,
	}
}

// Start initializes the interpreter and enters the initial phase.
func (i *Interpreter) Start() {
	i.interp.Start()
	i.ctx.Session.Phase = i.Phase()
}

// Stop stops the interpreter.
func (i *Interpreter) Stop() {
	i.interp.Stop()
}

// Phase returns the current phase.
func (i *Interpreter) Phase() puzzle.Phase {
	return PhaseFromMachine(i.interp.State().Value)
}

// Apply moves the run along a routing transition.
//
// A transition that stays in the current phase does not fire an event; it is
// recorded and applied directly so a level advance is never lost.
func (i *Interpreter) Apply(tr puzzle.Transition) error {
	from := i.ctx.Session.Phase
	if from.IsTerminal() {
		return puzzle.ErrSessionTerminated
	}
	if !CanTransition(from, tr.To) {
		return fmt.Errorf("%w: %s to %s", ErrTransitionNotAllowed, from, tr.To)
	}

	if tr.To == from {
		applyTransition(i.ctx, tr)
		return nil
	}

	i.interp.Send(statekit.Event{
		Type:    EventForPhase(tr.To),
		Payload: TransitionPayload{Transition: tr},
	})

	if got := i.Phase(); got != tr.To {
		return fmt.Errorf("%w: %s to %s (machine in %s)", ErrTransitionNotAllowed, from, tr.To, got)
	}
	return nil
}

// Terminate ends the run in the given terminal phase.
func (i *Interpreter) Terminate(phase puzzle.Phase, reason string) error {
	if !phase.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrTransitionNotAllowed, phase)
	}
	return i.Apply(puzzle.Transition{To: phase, Reason: reason})
}

// IsTerminal returns true if the interpreter is in a terminal phase.
func (i *Interpreter) IsTerminal() bool {
	return i.interp.Done()
}

// Matches checks if the current phase matches the given phase.
func (i *Interpreter) Matches(phase puzzle.Phase) bool {
	return i.interp.Matches(statekit.StateID(phase))
}

// Context returns the interpreter context.
func (i *Interpreter) Context() *Context {
	return i.ctx
}
