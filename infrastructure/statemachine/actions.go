package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/logging"
)

// TransitionPayload carries the routing decision with a transition event.
type TransitionPayload struct {
	Transition puzzle.Transition
}

// logPhaseEntry logs when entering a phase.
// In statekit, actions receive a pointer to the context. Since our context is *Context,
// actions receive **Context.
func logPhaseEntry(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil || (*ctx).Session == nil {
		return
	}

	s := (*ctx).Session
	logging.Debug().
		Add(logging.RunID(s.RunID)).
		Add(logging.Phase(string(s.Phase))).
		Add(logging.Str("event", string(event.Type))).
		Msg("entered phase")
}

// recordTransition records the transition in the ledger and applies it to the session.
func recordTransition(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil || (*ctx).Session == nil {
		return
	}

	payload, ok := event.Payload.(TransitionPayload)
	if !ok {
		payload = TransitionPayload{Transition: puzzle.Transition{To: phaseFromEvent(event.Type)}}
	}
	applyTransition(*ctx, payload.Transition)
}

func applyTransition(c *Context, tr puzzle.Transition) {
	from := c.Session.Phase
	level := c.Session.Level

	c.Session.Apply(tr)

	if c.Ledger == nil {
		return
	}
	c.Ledger.RecordTransition(from, tr.To, c.Session.Level, tr.Reason)
	if tr.AdvanceLevel {
		c.Ledger.RecordLevelAdvanced(tr.To, level, c.Session.Level)
	}
}

// guardCanTransition checks the transition against the allowed table.
// Guards receive the context by value, so the guard receives *Context directly.
func guardCanTransition(ctx *Context, event statekit.Event) bool {
	if ctx == nil || ctx.Session == nil {
		return false
	}

	to := phaseFromEvent(event.Type)
	if payload, ok := event.Payload.(TransitionPayload); ok {
		to = payload.Transition.To
	}
	return CanTransition(ctx.Session.Phase, to)
}

func phaseFromEvent(eventType statekit.EventType) puzzle.Phase {
	switch eventType {
	case EventDecide:
		return puzzle.PhaseAwaitingDecision
	case EventForceRead:
		return puzzle.PhaseForcedRead
	case EventSucceed:
		return puzzle.PhaseSucceeded
	case EventExhaust:
		return puzzle.PhaseExhausted
	case EventFail:
		return puzzle.PhaseFatal
	case EventCancel:
		return puzzle.PhaseCancelled
	default:
		return puzzle.Phase(eventType)
	}
}
