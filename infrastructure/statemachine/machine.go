// Package statemachine provides the statekit chart that sequences a puzzle run.
package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/merlin-agent/domain/ledger"
	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// MachineID identifies the run chart.
const MachineID = "merlin-run"

// Context carries run state through the state machine.
type Context struct {
	Session *puzzle.Session
	Ledger  *ledger.Ledger
}

// NewContext creates a new machine context.
func NewContext(session *puzzle.Session, ledg *ledger.Ledger) *Context {
	return &Context{
		Session: session,
		Ledger:  ledg,
	}
}

const (
	stateAwaitingDecision = statekit.StateID(puzzle.PhaseAwaitingDecision)
	stateForcedRead       = statekit.StateID(puzzle.PhaseForcedRead)
	stateSucceeded        = statekit.StateID(puzzle.PhaseSucceeded)
	stateExhausted        = statekit.StateID(puzzle.PhaseExhausted)
	stateFatal            = statekit.StateID(puzzle.PhaseFatal)
	stateCancelled        = statekit.StateID(puzzle.PhaseCancelled)
)

// Events understood by the chart.
const (
	EventDecide    statekit.EventType = "DECIDE"
	EventForceRead statekit.EventType = "FORCE_READ"
	EventSucceed   statekit.EventType = "SUCCEED"
	EventExhaust   statekit.EventType = "EXHAUST"
	EventFail      statekit.EventType = "FAIL"
	EventCancel    statekit.EventType = "CANCEL"
)

// NewRunMachine creates the statechart of a run.
//
// Only AwaitingDecision may hand control to a forced read or declare success;
// a forced read always returns to AwaitingDecision unless the run ends.
func NewRunMachine() (*statekit.MachineConfig[*Context], error) {
	return statekit.NewMachine[*Context](MachineID).
		WithInitial(stateAwaitingDecision).
		WithContext(&Context{}).
		WithAction("logEntry", logPhaseEntry).
		WithAction("recordTransition", recordTransition).
		WithGuard("canTransition", guardCanTransition).
		State(stateAwaitingDecision).
			OnEntry("logEntry").
			On(EventForceRead).Target(stateForcedRead).Guard("canTransition").Do("recordTransition").
			On(EventSucceed).Target(stateSucceeded).Guard("canTransition").Do("recordTransition").
			On(EventExhaust).Target(stateExhausted).Do("recordTransition").
			On(EventFail).Target(stateFatal).Do("recordTransition").
			On(EventCancel).Target(stateCancelled).Do("recordTransition").
			Done().
		State(stateForcedRead).
			OnEntry("logEntry").
			On(EventDecide).Target(stateAwaitingDecision).Guard("canTransition").Do("recordTransition").
			On(EventExhaust).Target(stateExhausted).Do("recordTransition").
			On(EventFail).Target(stateFatal).Do("recordTransition").
			On(EventCancel).Target(stateCancelled).Do("recordTransition").
			Done().
		State(stateSucceeded).
			Final().
			OnEntry("logEntry").
			Done().
		State(stateExhausted).
			Final().
			OnEntry("logEntry").
			Done().
		State(stateFatal).
			Final().
			OnEntry("logEntry").
			Done().
		State(stateCancelled).
			Final().
			OnEntry("logEntry").
			Done().
		Build()
}

// EventForPhase returns the event that moves the chart into a phase.
func EventForPhase(to puzzle.Phase) statekit.EventType {
	switch to {
	case puzzle.PhaseAwaitingDecision:
		return EventDecide
	case puzzle.PhaseForcedRead:
		return EventForceRead
	case puzzle.PhaseSucceeded:
		return EventSucceed
	case puzzle.PhaseExhausted:
		return EventExhaust
	case puzzle.PhaseFatal:
		return EventFail
	case puzzle.PhaseCancelled:
		return EventCancel
	default:
		return statekit.EventType(to)
	}
}

// PhaseFromMachine converts the machine state ID to a domain phase.
func PhaseFromMachine(stateID statekit.StateID) puzzle.Phase {
	return puzzle.Phase(stateID)
}

var allowed = map[puzzle.Phase]map[puzzle.Phase]bool{
	puzzle.PhaseAwaitingDecision: {
		puzzle.PhaseAwaitingDecision: true,
		puzzle.PhaseForcedRead:       true,
		puzzle.PhaseSucceeded:        true,
		puzzle.PhaseExhausted:        true,
		puzzle.PhaseFatal:            true,
		puzzle.PhaseCancelled:        true,
	},
	puzzle.PhaseForcedRead: {
		puzzle.PhaseAwaitingDecision: true,
		puzzle.PhaseExhausted:        true,
		puzzle.PhaseFatal:            true,
		puzzle.PhaseCancelled:        true,
	},
}

// CanTransition reports whether the chart permits moving between two phases.
func CanTransition(from, to puzzle.Phase) bool {
	return allowed[from][to]
}
