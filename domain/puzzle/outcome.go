package puzzle

import "time"

// OutcomeKind classifies the normalized result of executing an action.
type OutcomeKind string

const (
	OutcomeAskAcknowledged OutcomeKind = "ask_acknowledged"
	OutcomeAskFailed       OutcomeKind = "ask_failed"
	OutcomeReadResult      OutcomeKind = "read_result"
	OutcomeReadTimedOut    OutcomeKind = "read_timed_out"
	OutcomeReadFailed      OutcomeKind = "read_failed"
	OutcomeSubmitResult    OutcomeKind = "submit_result"
	OutcomeSubmitFailed    OutcomeKind = "submit_failed"
)

// Outcome is the uniform record produced for every executed action.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Text is the reply observed by a successful read.
	Text string `json:"text,omitempty"`

	// Succeeded and Message describe a submission verdict.
	Succeeded bool   `json:"succeeded,omitempty"`
	Message   string `json:"message,omitempty"`

	// Reason and Fatal describe a failure.
	Reason string `json:"reason,omitempty"`
	Fatal  bool   `json:"fatal,omitempty"`

	Duration time.Duration `json:"duration"`
}

// AskAcknowledged is the outcome of a question the interface accepted.
func AskAcknowledged() Outcome {
	return Outcome{Kind: OutcomeAskAcknowledged}
}

// AskFailed is the outcome of a question the interface could not accept.
func AskFailed(reason string, fatal bool) Outcome {
	return Outcome{Kind: OutcomeAskFailed, Reason: reason, Fatal: fatal}
}

// ReadResult is the outcome of a read that observed a reply.
func ReadResult(text string) Outcome {
	return Outcome{Kind: OutcomeReadResult, Text: text}
}

// ReadTimedOut is the outcome of a read whose bounded wait expired.
func ReadTimedOut() Outcome {
	return Outcome{Kind: OutcomeReadTimedOut, Reason: "no reply within read timeout"}
}

// ReadFailed is the outcome of a read that failed for any other reason.
func ReadFailed(reason string, fatal bool) Outcome {
	return Outcome{Kind: OutcomeReadFailed, Reason: reason, Fatal: fatal}
}

// SubmitResult is the outcome of a submission that produced a verdict.
func SubmitResult(succeeded bool, message string) Outcome {
	return Outcome{Kind: OutcomeSubmitResult, Succeeded: succeeded, Message: message}
}

// SubmitFailed is the outcome of a submission that produced no verdict.
func SubmitFailed(reason string, fatal bool) Outcome {
	return Outcome{Kind: OutcomeSubmitFailed, Reason: reason, Fatal: fatal}
}

// IsFailure returns true if the outcome reports an executor-level failure.
// A read timeout is a failure; a rejected submission is not.
func (o Outcome) IsFailure() bool {
	switch o.Kind {
	case OutcomeAskFailed, OutcomeReadTimedOut, OutcomeReadFailed, OutcomeSubmitFailed:
		return true
	default:
		return false
	}
}

// ActionKind returns the action kind that produces this outcome.
func (o Outcome) ActionKind() ActionKind {
	switch o.Kind {
	case OutcomeAskAcknowledged, OutcomeAskFailed:
		return ActionAsk
	case OutcomeReadResult, OutcomeReadTimedOut, OutcomeReadFailed:
		return ActionRead
	case OutcomeSubmitResult, OutcomeSubmitFailed:
		return ActionSubmit
	default:
		return ActionNone
	}
}

// SubmissionOutcome is the verdict of the most recent submission.
type SubmissionOutcome struct {
	Succeeded bool   `json:"succeeded"`
	Message   string `json:"message,omitempty"`
}
