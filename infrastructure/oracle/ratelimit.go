package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/logging"
)

// ErrRateLimited indicates the oracle could not be called before the deadline.
var ErrRateLimited = errors.New("oracle rate limit exceeded")

const rateLimitPoll = 50 * time.Millisecond

// RateLimited throttles calls to an oracle. A proposal waits for a token
// until the caller's context is done.
type RateLimited struct {
	next    puzzle.Oracle
	limiter ratelimit.RateLimiter
}

// NewRateLimited wraps next with a limiter allowing perSecond calls.
func NewRateLimited(next puzzle.Oracle, perSecond int) *RateLimited {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &RateLimited{
		next: next,
		limiter: ratelimit.New(&ratelimit.Config{
			Rate:  perSecond,
			Burst: perSecond,
		}),
	}
}

// Propose waits for a token, then delegates.
func (o *RateLimited) Propose(ctx context.Context, req puzzle.ProposeRequest) ([]puzzle.Action, error) {
	key := req.RunID
	if key == "" {
		key = "global"
	}

	for !o.limiter.Allow(ctx, key) {
		logging.Debug().
			Add(logging.RunID(req.RunID)).
			Msg("oracle call throttled")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, ctx.Err())
		case <-time.After(rateLimitPoll):
		}
	}

	return o.next.Propose(ctx, req)
}

var _ puzzle.Oracle = (*RateLimited)(nil)
