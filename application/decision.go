package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// Decision is the action chosen for one pass.
type Decision struct {
	Action puzzle.Action
	// Fallback is set when Action replaced an unusable proposal.
	Fallback bool
	// Reason explains why the fallback was used.
	Reason   string
	Duration time.Duration
	// Discarded counts valid proposals beyond the one chosen.
	Discarded int
}

// DecisionStep turns oracle proposals into exactly one action.
type DecisionStep struct {
	oracle   puzzle.Oracle
	timeout  time.Duration
	fallback puzzle.Action
}

// NewDecisionStep creates a decision step. A non-positive timeout leaves the
// oracle call bounded only by ctx.
func NewDecisionStep(oracle puzzle.Oracle, timeout time.Duration, fallbackQuestion string) *DecisionStep {
	return &DecisionStep{
		oracle:   oracle,
		timeout:  timeout,
		fallback: puzzle.Ask(fallbackQuestion),
	}
}

type proposal struct {
	actions []puzzle.Action
	err     error
}

// Decide asks the oracle for the next action. The first valid proposal wins;
// an error, a timeout, an empty proposal or one naming an unsupported
// operation yields the fallback question instead. Decide never blocks past
// the oracle timeout, even when the oracle ignores its context.
func (d *DecisionStep) Decide(ctx context.Context, req puzzle.ProposeRequest) Decision {
	start := time.Now()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan proposal, 1)
	go func() {
		actions, err := d.oracle.Propose(ctx, req)
		done <- proposal{actions: actions, err: err}
	}()

	var p proposal
	select {
	case p = <-done:
	case <-ctx.Done():
		p = proposal{err: ctx.Err()}
	}

	decision := d.choose(p)
	decision.Duration = time.Since(start)
	return decision
}

func (d *DecisionStep) choose(p proposal) Decision {
	switch {
	case errors.Is(p.err, context.DeadlineExceeded):
		return d.fallbackDecision("oracle timed out")
	case p.err != nil:
		return d.fallbackDecision(fmt.Sprintf("oracle failed: %v", p.err))
	case len(p.actions) == 0:
		return d.fallbackDecision(puzzle.ErrNoAction.Error())
	}

	var firstErr error
	for i, action := range p.actions {
		err := action.Validate()
		if err == nil {
			return Decision{Action: action, Discarded: countValid(p.actions[i+1:])}
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return d.fallbackDecision(firstErr.Error())
}

func (d *DecisionStep) fallbackDecision(reason string) Decision {
	return Decision{Action: d.fallback, Fallback: true, Reason: reason}
}

func countValid(actions []puzzle.Action) int {
	n := 0
	for _, a := range actions {
		if a.Validate() == nil {
			n++
		}
	}
	return n
}
