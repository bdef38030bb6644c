package puzzle

import "errors"

// Domain errors for the puzzle runtime.
var (
	// ErrInvalidAction indicates an action is missing its required argument.
	ErrInvalidAction = errors.New("invalid action")

	// ErrUnsupportedAction indicates an action references an unknown capability.
	ErrUnsupportedAction = errors.New("unsupported action")

	// ErrNoAction indicates the oracle proposed nothing.
	ErrNoAction = errors.New("no action proposed")

	// ErrTimeout indicates a bounded wait elapsed without an observation.
	ErrTimeout = errors.New("puzzle interface wait elapsed")

	// ErrInterfaceLost indicates the puzzle interface is unreachable.
	ErrInterfaceLost = errors.New("puzzle interface lost")

	// ErrProtocol indicates an unrecoverable protocol violation.
	ErrProtocol = errors.New("puzzle protocol violation")

	// ErrNoPendingExchange indicates an outcome arrived with no pending action.
	ErrNoPendingExchange = errors.New("no pending exchange")

	// ErrOutcomeMismatch indicates an outcome does not belong to the pending action.
	ErrOutcomeMismatch = errors.New("outcome does not match pending action")

	// ErrSessionTerminated indicates a mutation was attempted on a finished session.
	ErrSessionTerminated = errors.New("session already terminated")
)

// IsFatal reports whether err is a non-retryable interface failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInterfaceLost) || errors.Is(err, ErrProtocol)
}
