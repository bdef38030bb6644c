package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

const fallbackQ = "Any hint?"

func TestDecisionStep_Decide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		oracle       puzzle.Oracle
		want         puzzle.Action
		wantFallback bool
		wantReason   string
		wantDiscard  int
	}{
		{
			name:   "single proposal",
			oracle: always(puzzle.Ask("Is it a colour?")),
			want:   puzzle.Ask("Is it a colour?"),
		},
		{
			name:        "first valid of several",
			oracle:      always(puzzle.Read(), puzzle.Submit("X"), puzzle.Ask("y")),
			want:        puzzle.Read(),
			wantDiscard: 2,
		},
		{
			name:   "skips invalid proposal",
			oracle: always(puzzle.Action{Kind: "dance"}, puzzle.Submit("OWL")),
			want:   puzzle.Submit("OWL"),
		},
		{
			name:         "nothing proposed",
			oracle:       always(),
			want:         puzzle.Ask(fallbackQ),
			wantFallback: true,
			wantReason:   "no action proposed",
		},
		{
			name:         "unsupported capability",
			oracle:       always(puzzle.Action{Kind: "guess_again"}),
			want:         puzzle.Ask(fallbackQ),
			wantFallback: true,
			wantReason:   "unsupported action",
		},
		{
			name:         "ask without question",
			oracle:       always(puzzle.Ask("  ")),
			want:         puzzle.Ask(fallbackQ),
			wantFallback: true,
			wantReason:   "ask requires a question",
		},
		{
			name: "oracle error",
			oracle: puzzle.OracleFunc(func(context.Context, puzzle.ProposeRequest) ([]puzzle.Action, error) {
				return nil, errors.New("rate limited")
			}),
			want:         puzzle.Ask(fallbackQ),
			wantFallback: true,
			wantReason:   "oracle failed: rate limited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := NewDecisionStep(tt.oracle, time.Second, fallbackQ).Decide(context.Background(), puzzle.ProposeRequest{})
			if d.Action != tt.want {
				t.Errorf("Action = %v, want %v", d.Action, tt.want)
			}
			if d.Fallback != tt.wantFallback {
				t.Errorf("Fallback = %v, want %v", d.Fallback, tt.wantFallback)
			}
			if !strings.Contains(d.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", d.Reason, tt.wantReason)
			}
			if d.Discarded != tt.wantDiscard {
				t.Errorf("Discarded = %d, want %d", d.Discarded, tt.wantDiscard)
			}
		})
	}
}

func TestDecisionStep_TimeoutWithUncooperativeOracle(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	stuck := puzzle.OracleFunc(func(context.Context, puzzle.ProposeRequest) ([]puzzle.Action, error) {
		<-release
		return []puzzle.Action{puzzle.Submit("LATE")}, nil
	})

	start := time.Now()
	d := NewDecisionStep(stuck, 30*time.Millisecond, fallbackQ).Decide(context.Background(), puzzle.ProposeRequest{})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Decide() blocked for %v", elapsed)
	}
	if !d.Fallback || d.Reason != "oracle timed out" {
		t.Errorf("Decision = %+v, want timed out fallback", d)
	}
}

func TestDecisionStep_PassesRequest(t *testing.T) {
	t.Parallel()

	var got puzzle.ProposeRequest
	o := puzzle.OracleFunc(func(_ context.Context, req puzzle.ProposeRequest) ([]puzzle.Action, error) {
		got = req
		return []puzzle.Action{puzzle.Read()}, nil
	})

	req := puzzle.ProposeRequest{RunID: "run-1", Level: 3, LastReply: "no"}
	NewDecisionStep(o, 0, fallbackQ).Decide(context.Background(), req)
	if got.RunID != "run-1" || got.Level != 3 || got.LastReply != "no" {
		t.Errorf("oracle saw %+v", got)
	}
}
