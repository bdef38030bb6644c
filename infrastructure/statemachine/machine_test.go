package statemachine

import (
	"errors"
	"testing"

	"github.com/felixgeelhaar/merlin-agent/domain/ledger"
	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

func newTestInterpreter(t *testing.T) (*Interpreter, *puzzle.Session, *ledger.Ledger) {
	t.Helper()

	machine, err := NewRunMachine()
	if err != nil {
		t.Fatalf("NewRunMachine() error = %v", err)
	}
	session := puzzle.NewSession("run-1")
	ledg := ledger.New("run-1")
	interp := NewInterpreter(machine, NewContext(session, ledg))
	interp.Start()
	return interp, session, ledg
}

func TestNewRunMachine(t *testing.T) {
	t.Parallel()

	machine, err := NewRunMachine()
	if err != nil {
		t.Fatalf("NewRunMachine() error = %v", err)
	}
	if machine == nil {
		t.Fatal("NewRunMachine() returned nil machine")
	}
}

func TestEventForPhase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phase    puzzle.Phase
		expected string
	}{
		{puzzle.PhaseAwaitingDecision, "DECIDE"},
		{puzzle.PhaseForcedRead, "FORCE_READ"},
		{puzzle.PhaseSucceeded, "SUCCEED"},
		{puzzle.PhaseExhausted, "EXHAUST"},
		{puzzle.PhaseFatal, "FAIL"},
		{puzzle.PhaseCancelled, "CANCEL"},
		{puzzle.Phase("custom"), "custom"},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			t.Parallel()

			if got := EventForPhase(tt.phase); string(got) != tt.expected {
				t.Errorf("EventForPhase(%s) = %s, want %s", tt.phase, got, tt.expected)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to puzzle.Phase
		want     bool
	}{
		{puzzle.PhaseAwaitingDecision, puzzle.PhaseForcedRead, true},
		{puzzle.PhaseAwaitingDecision, puzzle.PhaseAwaitingDecision, true},
		{puzzle.PhaseAwaitingDecision, puzzle.PhaseSucceeded, true},
		{puzzle.PhaseForcedRead, puzzle.PhaseAwaitingDecision, true},
		{puzzle.PhaseForcedRead, puzzle.PhaseForcedRead, false},
		{puzzle.PhaseForcedRead, puzzle.PhaseSucceeded, false},
		{puzzle.PhaseForcedRead, puzzle.PhaseFatal, true},
		{puzzle.PhaseSucceeded, puzzle.PhaseAwaitingDecision, false},
		{puzzle.PhaseFatal, puzzle.PhaseFatal, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestInterpreter_Start(t *testing.T) {
	t.Parallel()

	interp, session, _ := newTestInterpreter(t)

	if interp.Phase() != puzzle.PhaseAwaitingDecision {
		t.Errorf("Phase() = %s, want awaiting_decision", interp.Phase())
	}
	if session.Phase != puzzle.PhaseAwaitingDecision {
		t.Errorf("session.Phase = %s, want awaiting_decision", session.Phase)
	}
	if interp.IsTerminal() {
		t.Error("IsTerminal() should be false after start")
	}
}

func TestInterpreter_AskReadCycle(t *testing.T) {
	t.Parallel()

	interp, session, ledg := newTestInterpreter(t)

	if err := interp.Apply(puzzle.Transition{To: puzzle.PhaseForcedRead, Reason: "question asked"}); err != nil {
		t.Fatalf("Apply(forced_read) error = %v", err)
	}
	if !interp.Matches(puzzle.PhaseForcedRead) || session.Phase != puzzle.PhaseForcedRead {
		t.Fatalf("Phase() = %s, session.Phase = %s", interp.Phase(), session.Phase)
	}

	if err := interp.Apply(puzzle.Transition{To: puzzle.PhaseAwaitingDecision, Reason: "reply read"}); err != nil {
		t.Fatalf("Apply(awaiting_decision) error = %v", err)
	}
	if session.Phase != puzzle.PhaseAwaitingDecision {
		t.Errorf("session.Phase = %s", session.Phase)
	}

	if got := len(ledg.EntriesByType(ledger.EntryTransition)); got != 2 {
		t.Errorf("transition entries = %d, want 2", got)
	}
}

func TestInterpreter_StayAdvancesLevel(t *testing.T) {
	t.Parallel()

	interp, session, ledg := newTestInterpreter(t)

	err := interp.Apply(puzzle.Transition{To: puzzle.PhaseAwaitingDecision, AdvanceLevel: true, Reason: "level solved"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if session.Level != 2 {
		t.Errorf("Level = %d, want 2", session.Level)
	}
	if interp.Phase() != puzzle.PhaseAwaitingDecision {
		t.Errorf("Phase() = %s", interp.Phase())
	}

	entries := ledg.EntriesByType(ledger.EntryLevelAdvanced)
	if len(entries) != 1 {
		t.Fatalf("level entries = %d, want 1", len(entries))
	}
	var d ledger.LevelDetails
	_ = entries[0].DecodeDetails(&d)
	if d.From != 1 || d.To != 2 {
		t.Errorf("LevelDetails = %+v", d)
	}
}

func TestInterpreter_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup []puzzle.Phase
		to    puzzle.Phase
	}{
		{"success from awaiting", nil, puzzle.PhaseSucceeded},
		{"exhausted from forced read", []puzzle.Phase{puzzle.PhaseForcedRead}, puzzle.PhaseExhausted},
		{"fatal from forced read", []puzzle.Phase{puzzle.PhaseForcedRead}, puzzle.PhaseFatal},
		{"cancelled from awaiting", nil, puzzle.PhaseCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			interp, session, _ := newTestInterpreter(t)
			for _, p := range tt.setup {
				if err := interp.Apply(puzzle.Transition{To: p}); err != nil {
					t.Fatalf("setup Apply(%s) error = %v", p, err)
				}
			}

			if err := interp.Terminate(tt.to, "done"); err != nil {
				t.Fatalf("Terminate() error = %v", err)
			}
			if !interp.IsTerminal() {
				t.Error("IsTerminal() = false after terminal transition")
			}
			if session.Phase != tt.to {
				t.Errorf("session.Phase = %s, want %s", session.Phase, tt.to)
			}

			err := interp.Apply(puzzle.Transition{To: puzzle.PhaseAwaitingDecision})
			if !errors.Is(err, puzzle.ErrSessionTerminated) {
				t.Errorf("Apply() after terminal error = %v, want ErrSessionTerminated", err)
			}
		})
	}
}

func TestInterpreter_RejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	interp, session, _ := newTestInterpreter(t)
	_ = interp.Apply(puzzle.Transition{To: puzzle.PhaseForcedRead})

	err := interp.Apply(puzzle.Transition{To: puzzle.PhaseSucceeded})
	if !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("Apply() error = %v, want ErrTransitionNotAllowed", err)
	}
	if session.Phase != puzzle.PhaseForcedRead {
		t.Errorf("session.Phase = %s, want forced_read", session.Phase)
	}

	if err := interp.Terminate(puzzle.PhaseAwaitingDecision, "x"); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("Terminate(non-terminal) error = %v", err)
	}
}
