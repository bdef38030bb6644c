package puzzle

import (
	"fmt"
	"time"
)

// Exchange is one history entry: an action and, once executed, its outcome.
type Exchange struct {
	Index     int       `json:"index"`
	Level     int       `json:"level"`
	Action    Action    `json:"action"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
	Forced    bool      `json:"forced,omitempty"`   // Synthesized read after a question
	Fallback  bool      `json:"fallback,omitempty"` // Substituted for an unusable proposal
	Timestamp time.Time `json:"timestamp"`
}

// IsPending returns true if the action has not produced an outcome yet.
func (e Exchange) IsPending() bool {
	return e.Outcome == nil
}

// Session is the single mutable progress record of a run.
// It is not safe for concurrent use; the loop that owns it is its only writer.
type Session struct {
	RunID          string             `json:"run_id"`
	Level          int                `json:"level"`
	History        []Exchange         `json:"history"`
	LastReply      *string            `json:"last_reply,omitempty"`
	LastSubmission *SubmissionOutcome `json:"last_submission,omitempty"`
	LastActionKind ActionKind         `json:"last_action_kind"`
	Iterations     int                `json:"iterations"`
	Phase          Phase              `json:"phase"`
	Fallbacks      int                `json:"fallbacks"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time,omitempty"`
}

// NewSession creates a session at level 1 with nothing executed.
func NewSession(runID string) *Session {
	return &Session{
		RunID:          runID,
		Level:          1,
		History:        make([]Exchange, 0),
		LastActionKind: ActionNone,
		Phase:          PhaseAwaitingDecision,
		StartTime:      time.Now(),
	}
}

// Tick counts one loop pass and returns the new total.
func (s *Session) Tick() int {
	s.Iterations++
	return s.Iterations
}

// Begin appends a pending exchange for an action about to execute.
func (s *Session) Begin(action Action, forced, fallback bool) (int, error) {
	if s.Phase.IsTerminal() {
		return 0, ErrSessionTerminated
	}
	if n := len(s.History); n > 0 && s.History[n-1].IsPending() {
		return 0, fmt.Errorf("exchange %d still pending", n-1)
	}
	if fallback {
		s.Fallbacks++
	}
	s.History = append(s.History, Exchange{
		Index:     len(s.History),
		Level:     s.Level,
		Action:    action,
		Forced:    forced,
		Fallback:  fallback,
		Timestamp: time.Now(),
	})
	return len(s.History) - 1, nil
}

// Pending returns the exchange awaiting its outcome, if any.
func (s *Session) Pending() (Exchange, bool) {
	if n := len(s.History); n > 0 && s.History[n-1].IsPending() {
		return s.History[n-1], true
	}
	return Exchange{}, false
}

// Complete folds the outcome of the pending exchange into the session.
// The last reply changes only on a successful read and the last submission
// only on a submission verdict.
func (s *Session) Complete(outcome Outcome) (Exchange, error) {
	pending, ok := s.Pending()
	if !ok {
		return Exchange{}, ErrNoPendingExchange
	}
	if outcome.ActionKind() != pending.Action.Kind {
		return Exchange{}, fmt.Errorf("%w: %s after %s", ErrOutcomeMismatch, outcome.Kind, pending.Action.Kind)
	}

	o := outcome
	s.History[pending.Index].Outcome = &o
	s.LastActionKind = pending.Action.Kind

	switch outcome.Kind {
	case OutcomeReadResult:
		text := outcome.Text
		s.LastReply = &text
	case OutcomeSubmitResult:
		s.LastSubmission = &SubmissionOutcome{
			Succeeded: outcome.Succeeded,
			Message:   outcome.Message,
		}
	}

	return s.History[pending.Index], nil
}

// Apply moves the session along a routing transition.
// The level only ever grows, and only by one per transition.
func (s *Session) Apply(tr Transition) {
	if tr.AdvanceLevel {
		s.Level++
	}
	s.Phase = tr.To
	if tr.To.IsTerminal() && s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
}

// Reply returns the last reply or the empty string.
func (s *Session) Reply() string {
	if s.LastReply == nil {
		return ""
	}
	return *s.LastReply
}

// Executed returns the number of exchanges that produced an outcome.
func (s *Session) Executed() int {
	n := 0
	for _, e := range s.History {
		if !e.IsPending() {
			n++
		}
	}
	return n
}

// LevelsSolved returns how many levels were solved so far.
func (s *Session) LevelsSolved() int {
	if s.Phase == PhaseSucceeded {
		return s.Level
	}
	return s.Level - 1
}

// Snapshot returns a deep copy of the history.
func (s *Session) Snapshot() []Exchange {
	out := make([]Exchange, len(s.History))
	for i, e := range s.History {
		out[i] = e
		if e.Outcome != nil {
			o := *e.Outcome
			out[i].Outcome = &o
		}
	}
	return out
}

// Duration returns how long the session ran.
func (s *Session) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}
