package puzzle

import "context"

// ProposeRequest carries everything the oracle may consider.
type ProposeRequest struct {
	RunID     string
	Level     int
	LastReply string
	History   []Exchange
}

// Oracle proposes the next action from the interaction history.
// Implementations may return zero, one or several actions; callers use at
// most the first.
type Oracle interface {
	Propose(ctx context.Context, req ProposeRequest) ([]Action, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, req ProposeRequest) ([]Action, error)

// Propose calls f.
func (f OracleFunc) Propose(ctx context.Context, req ProposeRequest) ([]Action, error) {
	return f(ctx, req)
}

// SubmitReply is what the interface observed after a submission.
type SubmitReply struct {
	Rejected bool
	Message  string
}

// Interface executes operations against the live puzzle.
//
// Read and Submit honor the deadline of ctx as their bounded wait. Read
// returns ErrTimeout when no reply became observable in time. Submit returns
// ErrTimeout when no rejection signal appeared in time; the puzzle never
// confirms success positively, so callers decide how to interpret that.
// Unreachable interfaces report ErrInterfaceLost.
type Interface interface {
	Ask(ctx context.Context, question string) error
	Read(ctx context.Context) (string, error)
	Submit(ctx context.Context, password string) (SubmitReply, error)
}

// Lifecycle is implemented by interfaces that hold a resource for the
// duration of a run.
type Lifecycle interface {
	Open(ctx context.Context) error
	Close() error
}
