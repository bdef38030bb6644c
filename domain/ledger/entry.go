// Package ledger provides an append-only audit trail of a puzzle run.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// EntryType classifies the type of ledger entry.
type EntryType string

const (
	EntryRunStarted     EntryType = "run_started"
	EntryRunTerminated  EntryType = "run_terminated"
	EntryDecision       EntryType = "decision"
	EntryFallback       EntryType = "fallback"
	EntryActionExecuted EntryType = "action_executed"
	EntryTransition     EntryType = "transition"
	EntryLevelAdvanced  EntryType = "level_advanced"
)

// Entry represents a single record in the ledger.
type Entry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EntryType       `json:"type"`
	RunID     string          `json:"run_id"`
	Phase     puzzle.Phase    `json:"phase,omitempty"`
	Level     int             `json:"level,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// RunStartedDetails contains details for run start entries.
type RunStartedDetails struct {
	FinalLevel    int `json:"final_level"`
	MaxIterations int `json:"max_iterations"`
}

// DecisionDetails contains details for decision entries.
type DecisionDetails struct {
	Action puzzle.Action `json:"action"`
	Forced bool          `json:"forced,omitempty"`
}

// FallbackDetails contains details for fallback entries.
type FallbackDetails struct {
	Action puzzle.Action `json:"action"`
	Reason string        `json:"reason"`
}

// ActionDetails contains details for executed action entries.
type ActionDetails struct {
	Action  puzzle.Action  `json:"action"`
	Outcome puzzle.Outcome `json:"outcome"`
}

// TransitionDetails contains details for phase transition entries.
type TransitionDetails struct {
	From   puzzle.Phase `json:"from"`
	To     puzzle.Phase `json:"to"`
	Reason string       `json:"reason,omitempty"`
}

// LevelDetails contains details for level change entries.
type LevelDetails struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// TerminationDetails contains details for run termination entries.
type TerminationDetails struct {
	Reason     puzzle.TerminationReason `json:"reason"`
	Detail     string                   `json:"detail,omitempty"`
	Iterations int                      `json:"iterations"`
}

// NewEntry creates a new ledger entry.
func NewEntry(entryType EntryType, runID string, phase puzzle.Phase, level int, details any) Entry {
	var detailsJSON json.RawMessage
	if details != nil {
		detailsJSON, _ = json.Marshal(details)
	}

	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      entryType,
		RunID:     runID,
		Phase:     phase,
		Level:     level,
		Details:   detailsJSON,
	}
}

// DecodeDetails unmarshals the entry details into the given struct.
func (e Entry) DecodeDetails(v any) error {
	if e.Details == nil {
		return nil
	}
	return json.Unmarshal(e.Details, v)
}
