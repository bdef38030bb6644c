package puzzle_test

import (
	"errors"
	"testing"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

func TestNewSession(t *testing.T) {
	t.Parallel()

	s := puzzle.NewSession("run-1")
	if s.Level != 1 {
		t.Errorf("Level = %d, want 1", s.Level)
	}
	if len(s.History) != 0 {
		t.Errorf("len(History) = %d, want 0", len(s.History))
	}
	if s.LastReply != nil || s.LastSubmission != nil {
		t.Error("new session should have no reply or submission")
	}
	if s.LastActionKind != puzzle.ActionNone {
		t.Errorf("LastActionKind = %s, want none", s.LastActionKind)
	}
	if s.Phase != puzzle.PhaseAwaitingDecision {
		t.Errorf("Phase = %s, want awaiting_decision", s.Phase)
	}
}

func TestSession_BeginComplete(t *testing.T) {
	t.Parallel()

	t.Run("read result updates last reply", func(t *testing.T) {
		t.Parallel()

		s := puzzle.NewSession("run-1")
		if _, err := s.Begin(puzzle.Read(), true, false); err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		ex, err := s.Complete(puzzle.ReadResult("The password is hidden"))
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if !ex.Forced || ex.IsPending() {
			t.Errorf("exchange = %+v", ex)
		}
		if s.Reply() != "The password is hidden" {
			t.Errorf("Reply() = %q", s.Reply())
		}
		if s.LastActionKind != puzzle.ActionRead {
			t.Errorf("LastActionKind = %s, want read", s.LastActionKind)
		}
	})

	t.Run("read timeout keeps previous reply", func(t *testing.T) {
		t.Parallel()

		s := puzzle.NewSession("run-1")
		_, _ = s.Begin(puzzle.Read(), false, false)
		_, _ = s.Complete(puzzle.ReadResult("first"))
		_, _ = s.Begin(puzzle.Read(), false, false)
		_, _ = s.Complete(puzzle.ReadTimedOut())

		if s.Reply() != "first" {
			t.Errorf("Reply() = %q, want first", s.Reply())
		}
	})

	t.Run("submit result updates last submission only", func(t *testing.T) {
		t.Parallel()

		s := puzzle.NewSession("run-1")
		_, _ = s.Begin(puzzle.Submit("MERLIN"), false, false)
		_, _ = s.Complete(puzzle.SubmitResult(false, "Bad secret word"))

		if s.LastSubmission == nil || s.LastSubmission.Succeeded {
			t.Fatalf("LastSubmission = %+v", s.LastSubmission)
		}
		if s.LastReply != nil {
			t.Error("submit should not change last reply")
		}
		_, _ = s.Begin(puzzle.Submit("X"), false, false)
		_, _ = s.Complete(puzzle.SubmitFailed("broken", false))
		if s.LastSubmission.Message != "Bad secret word" {
			t.Errorf("failed submit overwrote last submission: %+v", s.LastSubmission)
		}
	})

	t.Run("rejects second pending exchange", func(t *testing.T) {
		t.Parallel()

		s := puzzle.NewSession("run-1")
		_, _ = s.Begin(puzzle.Read(), false, false)
		if _, err := s.Begin(puzzle.Read(), false, false); err == nil {
			t.Error("Begin() with pending exchange should fail")
		}
	})

	t.Run("rejects complete without pending", func(t *testing.T) {
		t.Parallel()

		s := puzzle.NewSession("run-1")
		if _, err := s.Complete(puzzle.AskAcknowledged()); !errors.Is(err, puzzle.ErrNoPendingExchange) {
			t.Errorf("Complete() error = %v, want ErrNoPendingExchange", err)
		}
	})

	t.Run("rejects mismatched outcome", func(t *testing.T) {
		t.Parallel()

		s := puzzle.NewSession("run-1")
		_, _ = s.Begin(puzzle.Ask("hi"), false, false)
		if _, err := s.Complete(puzzle.ReadResult("x")); !errors.Is(err, puzzle.ErrOutcomeMismatch) {
			t.Errorf("Complete() error = %v, want ErrOutcomeMismatch", err)
		}
	})

	t.Run("counts fallbacks", func(t *testing.T) {
		t.Parallel()

		s := puzzle.NewSession("run-1")
		_, _ = s.Begin(puzzle.Ask("fallback"), false, true)
		if s.Fallbacks != 1 {
			t.Errorf("Fallbacks = %d, want 1", s.Fallbacks)
		}
	})
}

func TestSession_Apply(t *testing.T) {
	t.Parallel()

	s := puzzle.NewSession("run-1")
	s.Apply(puzzle.Transition{To: puzzle.PhaseAwaitingDecision, AdvanceLevel: true})
	if s.Level != 2 {
		t.Errorf("Level = %d, want 2", s.Level)
	}
	if s.LevelsSolved() != 1 {
		t.Errorf("LevelsSolved() = %d, want 1", s.LevelsSolved())
	}

	s.Apply(puzzle.Transition{To: puzzle.PhaseSucceeded})
	if s.LevelsSolved() != 2 {
		t.Errorf("LevelsSolved() = %d, want 2", s.LevelsSolved())
	}
	if s.EndTime.IsZero() {
		t.Error("EndTime should be set on terminal phase")
	}
	if _, err := s.Begin(puzzle.Read(), false, false); !errors.Is(err, puzzle.ErrSessionTerminated) {
		t.Errorf("Begin() after termination error = %v", err)
	}
}

func TestSession_Result(t *testing.T) {
	t.Parallel()

	s := puzzle.NewSession("run-1")
	_, _ = s.Begin(puzzle.Ask("hi"), false, false)
	_, _ = s.Complete(puzzle.AskAcknowledged())
	s.Tick()
	s.Apply(puzzle.Transition{To: puzzle.PhaseExhausted})

	r := s.Result("iteration limit reached")
	if r.TerminationReason != puzzle.TerminationExhausted {
		t.Errorf("TerminationReason = %s", r.TerminationReason)
	}
	if r.Iterations != 1 || len(r.History) != 1 {
		t.Errorf("Iterations = %d, len(History) = %d", r.Iterations, len(r.History))
	}
	if r.Succeeded() {
		t.Error("Succeeded() = true for exhausted run")
	}

	r.History[0].Outcome.Kind = puzzle.OutcomeAskFailed
	if s.History[0].Outcome.Kind != puzzle.OutcomeAskAcknowledged {
		t.Error("Result history must not alias the session history")
	}
}
