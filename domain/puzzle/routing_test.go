package puzzle_test

import (
	"testing"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

func TestRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		kind       puzzle.ActionKind
		outcome    puzzle.Outcome
		level      int
		finalLevel int
		wantPhase  puzzle.Phase
		wantAdv    bool
	}{
		{"ask acknowledged forces read", puzzle.ActionAsk, puzzle.AskAcknowledged(), 1, 7, puzzle.PhaseForcedRead, false},
		{"transient ask failure still forces read", puzzle.ActionAsk, puzzle.AskFailed("ask: timeout", false), 1, 7, puzzle.PhaseForcedRead, false},
		{"read result returns to oracle", puzzle.ActionRead, puzzle.ReadResult("I will not tell"), 1, 7, puzzle.PhaseAwaitingDecision, false},
		{"read timeout returns to oracle", puzzle.ActionRead, puzzle.ReadTimedOut(), 1, 7, puzzle.PhaseAwaitingDecision, false},
		{"transient read failure returns to oracle", puzzle.ActionRead, puzzle.ReadFailed("flaky", false), 1, 7, puzzle.PhaseAwaitingDecision, false},
		{"fatal read terminates", puzzle.ActionRead, puzzle.ReadFailed("gone", true), 1, 7, puzzle.PhaseFatal, false},
		{"fatal ask terminates", puzzle.ActionAsk, puzzle.AskFailed("gone", true), 3, 7, puzzle.PhaseFatal, false},
		{"rejected submission", puzzle.ActionSubmit, puzzle.SubmitResult(false, "Bad secret word"), 1, 7, puzzle.PhaseAwaitingDecision, false},
		{"accepted below final advances", puzzle.ActionSubmit, puzzle.SubmitResult(true, ""), 1, 7, puzzle.PhaseAwaitingDecision, true},
		{"accepted at final succeeds", puzzle.ActionSubmit, puzzle.SubmitResult(true, ""), 7, 7, puzzle.PhaseSucceeded, false},
		{"accepted with final level one", puzzle.ActionSubmit, puzzle.SubmitResult(true, ""), 1, 1, puzzle.PhaseSucceeded, false},
		{"submit failed returns to oracle", puzzle.ActionSubmit, puzzle.SubmitFailed("button missing", false), 2, 7, puzzle.PhaseAwaitingDecision, false},
		{"fatal submit terminates", puzzle.ActionSubmit, puzzle.SubmitFailed("gone", true), 2, 7, puzzle.PhaseFatal, false},
		{"nothing executed", puzzle.ActionNone, puzzle.Outcome{}, 1, 7, puzzle.PhaseAwaitingDecision, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := puzzle.Route(tt.kind, tt.outcome, tt.level, tt.finalLevel)
			if got.To != tt.wantPhase {
				t.Errorf("Route().To = %s, want %s", got.To, tt.wantPhase)
			}
			if got.AdvanceLevel != tt.wantAdv {
				t.Errorf("Route().AdvanceLevel = %v, want %v", got.AdvanceLevel, tt.wantAdv)
			}
			if got.Reason == "" {
				t.Error("Route().Reason should not be empty")
			}
		})
	}
}

func TestRoute_Deterministic(t *testing.T) {
	t.Parallel()

	outcomes := []puzzle.Outcome{
		puzzle.AskAcknowledged(),
		puzzle.ReadResult("reply"),
		puzzle.ReadTimedOut(),
		puzzle.SubmitResult(true, ""),
		puzzle.SubmitResult(false, "Bad secret word"),
		puzzle.SubmitFailed("x", true),
	}

	for _, o := range outcomes {
		first := puzzle.Route(o.ActionKind(), o, 2, 3)
		for i := 0; i < 10; i++ {
			if got := puzzle.Route(o.ActionKind(), o, 2, 3); got != first {
				t.Fatalf("Route(%s) = %+v, earlier %+v", o.Kind, got, first)
			}
		}
	}
}

func TestPhase_TerminationReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phase    puzzle.Phase
		terminal bool
		want     puzzle.TerminationReason
	}{
		{puzzle.PhaseAwaitingDecision, false, ""},
		{puzzle.PhaseForcedRead, false, ""},
		{puzzle.PhaseSucceeded, true, puzzle.TerminationSuccess},
		{puzzle.PhaseExhausted, true, puzzle.TerminationExhausted},
		{puzzle.PhaseFatal, true, puzzle.TerminationFatal},
		{puzzle.PhaseCancelled, true, puzzle.TerminationCancelled},
	}

	for _, tt := range tests {
		if got := tt.phase.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.phase, got, tt.terminal)
		}
		if got := tt.phase.TerminationReason(); got != tt.want {
			t.Errorf("%s.TerminationReason() = %s, want %s", tt.phase, got, tt.want)
		}
	}
}
