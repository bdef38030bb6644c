package puzzle

// Phase is the routing state between two loop passes.
type Phase string

const (
	PhaseAwaitingDecision Phase = "awaiting_decision" // Ask the oracle next
	PhaseForcedRead       Phase = "forced_read"       // Read next, bypassing the oracle
	PhaseSucceeded        Phase = "succeeded"         // Terminal: final level solved
	PhaseExhausted        Phase = "exhausted"         // Terminal: iteration bound exceeded
	PhaseFatal            Phase = "fatal"             // Terminal: non-retryable failure
	PhaseCancelled        Phase = "cancelled"         // Terminal: caller gave up between passes
)

// IsTerminal returns true if no further pass runs from this phase.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseSucceeded, PhaseExhausted, PhaseFatal, PhaseCancelled:
		return true
	default:
		return false
	}
}

// IsValid returns true if the phase is recognized.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseAwaitingDecision, PhaseForcedRead, PhaseSucceeded, PhaseExhausted, PhaseFatal, PhaseCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// TerminationReason maps a terminal phase to the reason reported to callers.
// Non-terminal phases map to the empty reason.
func (p Phase) TerminationReason() TerminationReason {
	switch p {
	case PhaseSucceeded:
		return TerminationSuccess
	case PhaseExhausted:
		return TerminationExhausted
	case PhaseFatal:
		return TerminationFatal
	case PhaseCancelled:
		return TerminationCancelled
	default:
		return ""
	}
}

// TerminationReason explains why a run ended.
type TerminationReason string

const (
	TerminationSuccess   TerminationReason = "success"
	TerminationExhausted TerminationReason = "exhausted"
	TerminationFatal     TerminationReason = "fatal"
	TerminationCancelled TerminationReason = "cancelled"
)

// String returns the string representation of the reason.
func (r TerminationReason) String() string {
	return string(r)
}
