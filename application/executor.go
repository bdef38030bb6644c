package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// ActionExecutor performs one action against the puzzle interface and
// normalizes the result into an outcome. It never retries: a failed ask or
// submit may already have changed the puzzle.
type ActionExecutor struct {
	iface         puzzle.Interface
	readTimeout   time.Duration
	submitTimeout time.Duration
}

// NewActionExecutor creates an executor with the given bounded waits.
func NewActionExecutor(iface puzzle.Interface, readTimeout, submitTimeout time.Duration) *ActionExecutor {
	return &ActionExecutor{
		iface:         iface,
		readTimeout:   readTimeout,
		submitTimeout: submitTimeout,
	}
}

// Execute runs action to completion. Cancelling ctx does not interrupt the
// action; only its own bounded wait does. An error is returned only for an
// action that names no supported operation.
func (x *ActionExecutor) Execute(ctx context.Context, action puzzle.Action) (puzzle.Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	var outcome puzzle.Outcome
	switch action.Kind {
	case puzzle.ActionAsk:
		outcome = x.ask(ctx, action.Question)
	case puzzle.ActionRead:
		outcome = x.read(ctx)
	case puzzle.ActionSubmit:
		outcome = x.submit(ctx, action.Password)
	default:
		return puzzle.Outcome{}, fmt.Errorf("%w: %q", puzzle.ErrUnsupportedAction, action.Kind)
	}

	outcome.Duration = time.Since(start)
	return outcome, nil
}

func (x *ActionExecutor) ask(ctx context.Context, question string) puzzle.Outcome {
	if err := x.iface.Ask(ctx, question); err != nil {
		return puzzle.AskFailed(err.Error(), puzzle.IsFatal(err))
	}
	return puzzle.AskAcknowledged()
}

func (x *ActionExecutor) read(ctx context.Context) puzzle.Outcome {
	ctx, cancel := withBound(ctx, x.readTimeout)
	defer cancel()

	text, err := x.iface.Read(ctx)
	switch {
	case err == nil:
		return puzzle.ReadResult(text)
	case elapsed(err):
		return puzzle.ReadTimedOut()
	default:
		return puzzle.ReadFailed(err.Error(), puzzle.IsFatal(err))
	}
}

// submit treats a wait that elapses without a rejection as acceptance. The
// puzzle only ever signals failure.
func (x *ActionExecutor) submit(ctx context.Context, password string) puzzle.Outcome {
	ctx, cancel := withBound(ctx, x.submitTimeout)
	defer cancel()

	reply, err := x.iface.Submit(ctx, password)
	switch {
	case err == nil:
		return puzzle.SubmitResult(!reply.Rejected, reply.Message)
	case elapsed(err):
		return puzzle.SubmitResult(true, "")
	default:
		return puzzle.SubmitFailed(err.Error(), puzzle.IsFatal(err))
	}
}

func withBound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func elapsed(err error) bool {
	return !puzzle.IsFatal(err) && (errors.Is(err, puzzle.ErrTimeout) || errors.Is(err, context.DeadlineExceeded))
}
