// Package sandbox provides an in-process puzzle with fixed secret words, used
// to run the agent offline.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// RejectionMessage is the notification shown for a wrong password.
const RejectionMessage = "Bad secret word"

// DefaultReply is used when a level has no matching reply.
const DefaultReply = "I am not allowed to reveal the password."

// ErrNotOpen indicates an operation on a closed sandbox.
var ErrNotOpen = errors.New("sandbox is not open")

// Level describes one sandbox level.
type Level struct {
	Secret string
	// Replies maps lowercase keywords to replies. The first keyword found in
	// a question, in lexical order, selects the reply.
	Replies      map[string]string
	DefaultReply string
}

// Option configures a Puzzle.
type Option func(*Puzzle)

// WithReplyDelay makes replies observable only after d.
func WithReplyDelay(d time.Duration) Option {
	return func(p *Puzzle) {
		p.replyDelay = d
	}
}

// WithConfirmedAcceptance makes a correct submission return an explicit
// verdict instead of waiting out the deadline without a rejection.
func WithConfirmedAcceptance() Option {
	return func(p *Puzzle) {
		p.confirm = true
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Puzzle) {
		p.now = now
	}
}

// Puzzle is a simulated puzzle implementing puzzle.Interface and
// puzzle.Lifecycle. It is safe for concurrent use.
type Puzzle struct {
	levels     []Level
	replyDelay time.Duration
	confirm    bool
	now        func() time.Time

	mu        sync.Mutex
	open      bool
	level     int
	reply     string
	replyAt   time.Time
	seen      bool
	failNext  error
	questions []string
	attempts  []string
}

// New creates a sandbox with the given levels. Level numbering starts at 1.
func New(levels []Level, opts ...Option) *Puzzle {
	p := &Puzzle{
		levels: levels,
		now:    time.Now,
		level:  1,
		seen:   true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open implements puzzle.Lifecycle.
func (p *Puzzle) Open(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.levels) == 0 {
		return fmt.Errorf("%w: sandbox has no levels", puzzle.ErrProtocol)
	}
	p.open = true
	return nil
}

// Close implements puzzle.Lifecycle.
func (p *Puzzle) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

// FailNext makes the next operation return err.
func (p *Puzzle) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// Level returns the level the sandbox is currently on.
func (p *Puzzle) Level() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Questions returns every question asked so far.
func (p *Puzzle) Questions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.questions...)
}

// Attempts returns every password submitted so far.
func (p *Puzzle) Attempts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.attempts...)
}

// Ask records the question and prepares the reply for the current level.
func (p *Puzzle) Ask(_ context.Context, question string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check(); err != nil {
		return err
	}

	p.questions = append(p.questions, question)
	p.reply = p.replyFor(question)
	p.replyAt = p.now().Add(p.replyDelay)
	p.seen = false
	return nil
}

// Read returns a reply that has not been read yet, waiting for it within the
// deadline of ctx.
func (p *Puzzle) Read(ctx context.Context) (string, error) {
	p.mu.Lock()
	if err := p.check(); err != nil {
		p.mu.Unlock()
		return "", err
	}
	if p.seen {
		p.mu.Unlock()
		<-ctx.Done()
		return "", fmt.Errorf("%w: no new reply", puzzle.ErrTimeout)
	}
	reply, wait := p.reply, p.replyAt.Sub(p.now())
	p.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: reply not ready", puzzle.ErrTimeout)
		case <-timer.C:
		}
	}

	p.mu.Lock()
	p.seen = true
	p.mu.Unlock()
	return reply, nil
}

// Submit checks the password against the current level. A wrong password is
// rejected immediately. A correct one advances the level; unless acceptance
// is confirmed the call then waits out ctx and reports ErrTimeout, as the
// live page shows no positive signal.
func (p *Puzzle) Submit(ctx context.Context, password string) (puzzle.SubmitReply, error) {
	p.mu.Lock()
	if err := p.check(); err != nil {
		p.mu.Unlock()
		return puzzle.SubmitReply{}, err
	}

	p.attempts = append(p.attempts, password)
	secret := p.levels[p.index()].Secret
	if !strings.EqualFold(strings.TrimSpace(password), strings.TrimSpace(secret)) {
		p.mu.Unlock()
		return puzzle.SubmitReply{Rejected: true, Message: RejectionMessage}, nil
	}

	solved := p.level
	if p.level < len(p.levels) {
		p.level++
	}
	p.seen = true
	confirm := p.confirm
	p.mu.Unlock()

	if confirm {
		return puzzle.SubmitReply{Message: fmt.Sprintf("Level %d passed", solved)}, nil
	}

	<-ctx.Done()
	return puzzle.SubmitReply{}, fmt.Errorf("%w: no rejection shown", puzzle.ErrTimeout)
}

// check must be called with mu held.
func (p *Puzzle) check() error {
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return err
	}
	if !p.open {
		return fmt.Errorf("%w: %w", puzzle.ErrInterfaceLost, ErrNotOpen)
	}
	return nil
}

func (p *Puzzle) index() int {
	if p.level > len(p.levels) {
		return len(p.levels) - 1
	}
	return p.level - 1
}

func (p *Puzzle) replyFor(question string) string {
	lvl := p.levels[p.index()]
	q := strings.ToLower(question)

	keys := make([]string, 0, len(lvl.Replies))
	for k := range lvl.Replies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.Contains(q, strings.ToLower(k)) {
			return lvl.Replies[k]
		}
	}
	if lvl.DefaultReply != "" {
		return lvl.DefaultReply
	}
	return DefaultReply
}

var (
	_ puzzle.Interface = (*Puzzle)(nil)
	_ puzzle.Lifecycle = (*Puzzle)(nil)
)
