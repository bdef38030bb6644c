package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/merlin-agent/domain/notification"
	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/domain/run"
)

// step is one scripted interface response. A blocking step waits for the
// bounded wait to elapse, as the live page does when nothing happens.
type step struct {
	text  string
	reply puzzle.SubmitReply
	err   error
	block bool
}

type fakePuzzle struct {
	mu sync.Mutex

	askErrs []error
	reads   []step
	submits []step
	openErr error

	asked     []string
	submitted []string
	readCalls int
	opened    int
	closed    int
}

func next(steps []step, n int) step {
	if len(steps) == 0 {
		return step{}
	}
	if n < len(steps) {
		return steps[n]
	}
	return steps[len(steps)-1]
}

func (f *fakePuzzle) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return f.openErr
}

func (f *fakePuzzle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakePuzzle) Ask(_ context.Context, question string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.asked)
	f.asked = append(f.asked, question)
	if n < len(f.askErrs) {
		return f.askErrs[n]
	}
	return nil
}

func (f *fakePuzzle) Read(ctx context.Context) (string, error) {
	f.mu.Lock()
	s := next(f.reads, f.readCalls)
	f.readCalls++
	f.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return "", fmt.Errorf("%w: no reply", puzzle.ErrTimeout)
	}
	return s.text, s.err
}

func (f *fakePuzzle) Submit(ctx context.Context, password string) (puzzle.SubmitReply, error) {
	f.mu.Lock()
	s := next(f.submits, len(f.submitted))
	f.submitted = append(f.submitted, password)
	f.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return puzzle.SubmitReply{}, fmt.Errorf("%w: no rejection", puzzle.ErrTimeout)
	}
	return s.reply, s.err
}

// plainPuzzle hides the lifecycle methods of a fakePuzzle.
type plainPuzzle struct {
	f *fakePuzzle
}

func (p plainPuzzle) Ask(ctx context.Context, q string) error { return p.f.Ask(ctx, q) }
func (p plainPuzzle) Read(ctx context.Context) (string, error) {
	return p.f.Read(ctx)
}
func (p plainPuzzle) Submit(ctx context.Context, pw string) (puzzle.SubmitReply, error) {
	return p.f.Submit(ctx, pw)
}

func always(actions ...puzzle.Action) puzzle.Oracle {
	return puzzle.OracleFunc(func(context.Context, puzzle.ProposeRequest) ([]puzzle.Action, error) {
		return actions, nil
	})
}

// countingOracle serves proposals in order and repeats the last one.
type countingOracle struct {
	mu       sync.Mutex
	steps    [][]puzzle.Action
	requests []puzzle.ProposeRequest
}

func (o *countingOracle) Propose(_ context.Context, req puzzle.ProposeRequest) ([]puzzle.Action, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.requests)
	o.requests = append(o.requests, req)
	if len(o.steps) == 0 {
		return nil, nil
	}
	if n >= len(o.steps) {
		n = len(o.steps) - 1
	}
	return o.steps[n], nil
}

func (o *countingOracle) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

type failingStore struct {
	run.Store
	err error
}

func (s failingStore) Save(context.Context, *run.Record) error { return s.err }

func kinds(history []puzzle.Exchange) []puzzle.ActionKind {
	out := make([]puzzle.ActionKind, len(history))
	for i, e := range history {
		out[i] = e.Action.Kind
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*notification.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event *notification.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) types() []notification.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.EventType, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}
