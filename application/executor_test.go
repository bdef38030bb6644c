package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

func TestActionExecutor_Execute(t *testing.T) {
	t.Parallel()

	lost := errors.Join(puzzle.ErrInterfaceLost, errors.New("browser gone"))
	blip := errors.New("stale element")

	tests := []struct {
		name   string
		puzzle *fakePuzzle
		action puzzle.Action
		want   puzzle.Outcome
	}{
		{
			name:   "ask acknowledged",
			puzzle: &fakePuzzle{},
			action: puzzle.Ask("hi"),
			want:   puzzle.AskAcknowledged(),
		},
		{
			name:   "ask transient failure",
			puzzle: &fakePuzzle{askErrs: []error{blip}},
			action: puzzle.Ask("hi"),
			want:   puzzle.AskFailed("stale element", false),
		},
		{
			name:   "ask fatal failure",
			puzzle: &fakePuzzle{askErrs: []error{lost}},
			action: puzzle.Ask("hi"),
			want:   puzzle.AskFailed(lost.Error(), true),
		},
		{
			name:   "read result",
			puzzle: &fakePuzzle{reads: []step{{text: "I cannot say."}}},
			action: puzzle.Read(),
			want:   puzzle.ReadResult("I cannot say."),
		},
		{
			name:   "read timed out",
			puzzle: &fakePuzzle{reads: []step{{block: true}}},
			action: puzzle.Read(),
			want:   puzzle.ReadTimedOut(),
		},
		{
			name:   "read transient failure",
			puzzle: &fakePuzzle{reads: []step{{err: blip}}},
			action: puzzle.Read(),
			want:   puzzle.ReadFailed("stale element", false),
		},
		{
			name:   "read fatal failure",
			puzzle: &fakePuzzle{reads: []step{{err: lost}}},
			action: puzzle.Read(),
			want:   puzzle.ReadFailed(lost.Error(), true),
		},
		{
			name:   "submit rejected",
			puzzle: &fakePuzzle{submits: []step{{reply: puzzle.SubmitReply{Rejected: true, Message: "Bad secret word"}}}},
			action: puzzle.Submit("MERLIN"),
			want:   puzzle.SubmitResult(false, "Bad secret word"),
		},
		{
			name:   "submit without rejection is accepted",
			puzzle: &fakePuzzle{submits: []step{{block: true}}},
			action: puzzle.Submit("CORRECT"),
			want:   puzzle.SubmitResult(true, ""),
		},
		{
			name:   "submit confirmed",
			puzzle: &fakePuzzle{submits: []step{{reply: puzzle.SubmitReply{Message: "Level 1 passed"}}}},
			action: puzzle.Submit("CORRECT"),
			want:   puzzle.SubmitResult(true, "Level 1 passed"),
		},
		{
			name:   "submit fatal failure",
			puzzle: &fakePuzzle{submits: []step{{err: lost}}},
			action: puzzle.Submit("X"),
			want:   puzzle.SubmitFailed(lost.Error(), true),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			x := NewActionExecutor(tt.puzzle, 20*time.Millisecond, 20*time.Millisecond)
			got, err := x.Execute(context.Background(), tt.action)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			got.Duration = 0
			if got != tt.want {
				t.Errorf("Execute() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestActionExecutor_UnsupportedAction(t *testing.T) {
	t.Parallel()

	x := NewActionExecutor(&fakePuzzle{}, time.Second, time.Second)
	if _, err := x.Execute(context.Background(), puzzle.Action{Kind: puzzle.ActionNone}); !errors.Is(err, puzzle.ErrUnsupportedAction) {
		t.Errorf("Execute() error = %v, want ErrUnsupportedAction", err)
	}
}

func TestActionExecutor_IgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := NewActionExecutor(&fakePuzzle{reads: []step{{text: "late but delivered"}}}, time.Second, time.Second)
	got, err := x.Execute(ctx, puzzle.Read())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.Kind != puzzle.OutcomeReadResult || got.Text != "late but delivered" {
		t.Errorf("Execute() = %+v", got)
	}
}

func TestActionExecutor_RecordsDuration(t *testing.T) {
	t.Parallel()

	x := NewActionExecutor(&fakePuzzle{reads: []step{{block: true}}}, 15*time.Millisecond, time.Second)
	got, _ := x.Execute(context.Background(), puzzle.Read())
	if got.Duration < 15*time.Millisecond {
		t.Errorf("Duration = %v, want at least the read bound", got.Duration)
	}
}
