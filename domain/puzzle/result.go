package puzzle

import "time"

// RunResult is the report produced when a run terminates.
type RunResult struct {
	RunID             string             `json:"run_id"`
	FinalLevel        int                `json:"final_level"`
	LevelsSolved      int                `json:"levels_solved"`
	TerminationReason TerminationReason  `json:"termination_reason"`
	Reason            string             `json:"reason,omitempty"`
	Iterations        int                `json:"iterations"`
	Fallbacks         int                `json:"fallbacks"`
	History           []Exchange         `json:"history"`
	LastReply         string             `json:"last_reply,omitempty"`
	LastSubmission    *SubmissionOutcome `json:"last_submission,omitempty"`
	StartTime         time.Time          `json:"start_time"`
	EndTime           time.Time          `json:"end_time"`
}

// Succeeded returns true if the run solved the final level.
func (r RunResult) Succeeded() bool {
	return r.TerminationReason == TerminationSuccess
}

// Duration returns the wall-clock length of the run.
func (r RunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Result builds the run report from a terminated session.
func (s *Session) Result(reason string) RunResult {
	var sub *SubmissionOutcome
	if s.LastSubmission != nil {
		v := *s.LastSubmission
		sub = &v
	}
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return RunResult{
		RunID:             s.RunID,
		FinalLevel:        s.Level,
		LevelsSolved:      s.LevelsSolved(),
		TerminationReason: s.Phase.TerminationReason(),
		Reason:            reason,
		Iterations:        s.Iterations,
		Fallbacks:         s.Fallbacks,
		History:           s.Snapshot(),
		LastReply:         s.Reply(),
		LastSubmission:    sub,
		StartTime:         s.StartTime,
		EndTime:           end,
	}
}
