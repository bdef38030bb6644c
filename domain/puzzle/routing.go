package puzzle

// Transition is the routing decision taken after an action executes.
type Transition struct {
	To           Phase  `json:"to"`
	AdvanceLevel bool   `json:"advance_level,omitempty"`
	Reason       string `json:"reason"`
}

// Route decides the next phase from the kind of the action just executed,
// its outcome and the level it ran at. It depends on nothing else, so equal
// inputs always yield equal transitions.
//
// A fatal outcome always terminates. Any other question forces a read, even
// one that failed: it may still have reached the page. A successful submission terminates at the final level and advances
// the level below it. Everything else returns control to the oracle.
func Route(kind ActionKind, outcome Outcome, level, finalLevel int) Transition {
	if outcome.Fatal {
		return Transition{To: PhaseFatal, Reason: failureReason(outcome)}
	}

	switch kind {
	case ActionSubmit:
		if outcome.Kind != OutcomeSubmitResult {
			return Transition{To: PhaseAwaitingDecision, Reason: failureReason(outcome)}
		}
		if !outcome.Succeeded {
			return Transition{To: PhaseAwaitingDecision, Reason: "submission rejected"}
		}
		if level >= finalLevel {
			return Transition{To: PhaseSucceeded, Reason: "final level solved"}
		}
		return Transition{To: PhaseAwaitingDecision, AdvanceLevel: true, Reason: "level solved"}

	case ActionAsk:
		if outcome.Kind == OutcomeAskAcknowledged {
			return Transition{To: PhaseForcedRead, Reason: "question asked, reply must be read"}
		}
		return Transition{To: PhaseForcedRead, Reason: failureReason(outcome) + ", reply must still be read"}

	case ActionRead:
		if outcome.Kind == OutcomeReadResult {
			return Transition{To: PhaseAwaitingDecision, Reason: "reply read"}
		}
		return Transition{To: PhaseAwaitingDecision, Reason: failureReason(outcome)}

	default:
		return Transition{To: PhaseAwaitingDecision, Reason: "nothing executed"}
	}
}

func failureReason(o Outcome) string {
	if o.Reason != "" {
		return o.Reason
	}
	return string(o.Kind)
}
