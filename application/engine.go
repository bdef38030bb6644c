// Package application provides the run engine that drives a puzzle session
// from the first question to a terminal phase.
package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/felixgeelhaar/merlin-agent/domain/config"
	"github.com/felixgeelhaar/merlin-agent/domain/ledger"
	"github.com/felixgeelhaar/merlin-agent/domain/notification"
	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/domain/run"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/logging"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/observability"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/statemachine"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/telemetry"
)

// Construction errors.
var (
	ErrOracleRequired    = errors.New("oracle is required")
	ErrInterfaceRequired = errors.New("puzzle interface is required")
	ErrInvalidConfig     = errors.New("invalid engine configuration")
)

// actionExecutor is satisfied by *ActionExecutor.
type actionExecutor interface {
	Execute(ctx context.Context, action puzzle.Action) (puzzle.Outcome, error)
}

// Engine is the orchestration loop of a puzzle run.
type Engine struct {
	iface         puzzle.Interface
	decision      *DecisionStep
	executor      actionExecutor
	store         run.Store
	notifier      notification.Notifier
	metrics       telemetry.Metrics
	tracer        trace.Tracer
	maxIterations int
	finalLevel    int
	newID         func() string
}

// EngineConfig contains configuration for the engine.
type EngineConfig struct {
	Oracle    puzzle.Oracle
	Interface puzzle.Interface

	// Store persists finished runs (optional).
	Store run.Store
	// Notifier receives run lifecycle events (optional).
	Notifier notification.Notifier
	Metrics  telemetry.Metrics
	Tracer   trace.Tracer

	// MaxIterations bounds loop passes (default 30).
	MaxIterations int
	// FinalLevel is the level whose solution ends the run. Required, >= 1.
	FinalLevel int

	ReadTimeout   time.Duration // default 5s
	SubmitTimeout time.Duration // default 1.5s
	OracleTimeout time.Duration // default 30s

	FallbackQuestion string

	// IDGenerator overrides run ID generation.
	IDGenerator func() string
}

// NewEngine creates a new engine with the given configuration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Oracle == nil {
		return nil, ErrOracleRequired
	}
	if cfg.Interface == nil {
		return nil, ErrInterfaceRequired
	}
	if cfg.FinalLevel < 1 {
		return nil, fmt.Errorf("%w: final level %d, must be at least 1", ErrInvalidConfig, cfg.FinalLevel)
	}
	if cfg.MaxIterations < 0 || cfg.ReadTimeout < 0 || cfg.SubmitTimeout < 0 || cfg.OracleTimeout < 0 {
		return nil, fmt.Errorf("%w: bounds must not be negative", ErrInvalidConfig)
	}

	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = config.DefaultMaxIterations
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = config.DefaultReadTimeoutMs * time.Millisecond
	}
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = config.DefaultSubmitTimeoutMs * time.Millisecond
	}
	if cfg.OracleTimeout == 0 {
		cfg.OracleTimeout = config.DefaultOracleTimeoutMs * time.Millisecond
	}
	if cfg.FallbackQuestion == "" {
		cfg.FallbackQuestion = config.DefaultFallbackQuestion
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopMetricsProvider{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer(observability.TracerName)
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = uuid.NewString
	}

	return &Engine{
		iface:         cfg.Interface,
		decision:      NewDecisionStep(cfg.Oracle, cfg.OracleTimeout, cfg.FallbackQuestion),
		executor:      NewActionExecutor(cfg.Interface, cfg.ReadTimeout, cfg.SubmitTimeout),
		store:         cfg.Store,
		notifier:      cfg.Notifier,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		maxIterations: cfg.MaxIterations,
		finalLevel:    cfg.FinalLevel,
		newID:         cfg.IDGenerator,
	}, nil
}

// runState bundles what a single run owns.
type runState struct {
	session *puzzle.Session
	ledger  *ledger.Ledger
	interp  *statemachine.Interpreter
	reason  string
}

// Run plays one session until it succeeds, exhausts its iteration bound,
// fails fatally, or ctx is done between passes. Every such ending yields a
// RunResult with a nil error. An error means an internal invariant broke,
// in which case the result reports a fatal ending, or the result could not
// be persisted.
func (e *Engine) Run(ctx context.Context) (puzzle.RunResult, error) {
	runID := e.newID()

	machine, err := statemachine.NewRunMachine()
	if err != nil {
		return puzzle.RunResult{}, fmt.Errorf("failed to create state machine: %w", err)
	}

	rs := &runState{
		session: puzzle.NewSession(runID),
		ledger:  ledger.New(runID),
	}
	rs.interp = statemachine.NewInterpreter(machine, statemachine.NewContext(rs.session, rs.ledger))

	ctx, span := observability.StartRun(ctx, e.tracer, runID, e.finalLevel)
	e.metrics.IncrementActiveRuns(ctx)
	defer e.metrics.DecrementActiveRuns(ctx)

	logging.Info().
		Add(logging.RunID(runID)).
		Add(logging.Level(rs.session.Level)).
		Add(logging.Str("final_level", strconv.Itoa(e.finalLevel))).
		Msg("run started")

	rs.interp.Start()
	rs.ledger.RecordRunStarted(e.finalLevel, e.maxIterations)
	e.notify(ctx, runID, notification.EventRunStarted, notification.RunStartedPayload{
		FinalLevel:    e.finalLevel,
		MaxIterations: e.maxIterations,
	})

	driveErr := e.drive(ctx, rs)
	if driveErr != nil {
		e.abort(ctx, rs, driveErr)
	}
	rs.interp.Stop()

	rs.ledger.RecordRunTerminated(rs.session.Phase, rs.session.Level, rs.session.Iterations, rs.reason)
	result := rs.session.Result(rs.reason)

	e.metrics.RecordRunDuration(ctx, result.Duration(), string(result.TerminationReason))
	observability.EndRun(span, result)

	event := logging.Info()
	if result.TerminationReason == puzzle.TerminationFatal {
		event = logging.Error()
	}
	event.
		Add(logging.RunID(runID)).
		Add(logging.Phase(string(rs.session.Phase))).
		Add(logging.Level(result.FinalLevel)).
		Add(logging.Iteration(result.Iterations)).
		Add(logging.Duration(result.Duration())).
		Add(logging.Reason(rs.reason)).
		Msg("run terminated")

	ended := notification.EventRunEnded
	if result.TerminationReason == puzzle.TerminationSuccess {
		ended = notification.EventRunSucceeded
	}
	e.notify(ctx, runID, ended, notification.RunEndedPayload{
		TerminationReason: string(result.TerminationReason),
		Reason:            result.Reason,
		FinalLevel:        result.FinalLevel,
		LevelsSolved:      result.LevelsSolved,
		Iterations:        result.Iterations,
		DurationMs:        result.Duration().Milliseconds(),
	})

	var persistErr error
	if e.store != nil {
		rec := &run.Record{Result: result, Entries: rs.ledger.Entries()}
		if err := e.store.Save(context.WithoutCancel(ctx), rec); err != nil {
			persistErr = fmt.Errorf("persist run %s: %w", runID, err)
		}
	}

	if driveErr != nil {
		return result, errors.Join(fmt.Errorf("run %s aborted: %w", runID, driveErr), persistErr)
	}
	return result, persistErr
}

// abort ends a run whose loop broke an invariant. The run terminates as
// fatal even when the state machine refuses the transition.
func (e *Engine) abort(ctx context.Context, rs *runState, err error) {
	reason := fmt.Sprintf("run aborted: %v", err)
	if terr := e.terminate(ctx, rs, puzzle.PhaseFatal, reason); terr != nil {
		rs.session.Apply(puzzle.Transition{To: puzzle.PhaseFatal, Reason: reason})
		rs.reason = reason
	}
	e.metrics.RecordError(ctx, "invariant")

	logging.Error().
		Add(logging.RunID(rs.session.RunID)).
		Add(logging.Phase(string(rs.session.Phase))).
		Add(logging.ErrorField(err)).
		Msg("run aborted")
}

// drive acquires the interface, loops until a terminal phase and releases
// the interface whatever the outcome.
func (e *Engine) drive(ctx context.Context, rs *runState) error {
	if lc, ok := e.iface.(puzzle.Lifecycle); ok {
		if err := lc.Open(context.WithoutCancel(ctx)); err != nil {
			e.metrics.RecordError(ctx, "open")
			return e.terminate(ctx, rs, puzzle.PhaseFatal, fmt.Sprintf("open puzzle interface: %v", err))
		}
		defer func() {
			if err := lc.Close(); err != nil {
				logging.Warn().
					Add(logging.RunID(rs.session.RunID)).
					Add(logging.ErrorField(err)).
					Msg("failed to release puzzle interface")
			}
		}()
	}

	for !rs.interp.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return e.terminate(ctx, rs, puzzle.PhaseCancelled, fmt.Sprintf("run cancelled: %v", err))
		}

		n := rs.session.Tick()
		if n > e.maxIterations {
			return e.terminate(ctx, rs, puzzle.PhaseExhausted, fmt.Sprintf("iteration bound %d exceeded", e.maxIterations))
		}

		if err := e.pass(ctx, rs, n); err != nil {
			return err
		}
	}
	return nil
}

// pass runs one loop iteration: choose an action, execute it and route.
func (e *Engine) pass(ctx context.Context, rs *runState, iteration int) error {
	s := rs.session
	phase := s.Phase

	var action puzzle.Action
	forced, fallback := false, false

	switch phase {
	case puzzle.PhaseForcedRead:
		action, forced = puzzle.Read(), true
		rs.ledger.RecordDecision(phase, s.Level, action, true)

	case puzzle.PhaseAwaitingDecision:
		d := e.decision.Decide(ctx, puzzle.ProposeRequest{
			RunID:     s.RunID,
			Level:     s.Level,
			LastReply: s.Reply(),
			History:   s.Snapshot(),
		})
		e.metrics.RecordOracleDuration(ctx, d.Duration, !d.Fallback)

		// An oracle call cut short by cancellation must not lead to an action.
		if err := ctx.Err(); err != nil {
			return e.terminate(ctx, rs, puzzle.PhaseCancelled, fmt.Sprintf("run cancelled: %v", err))
		}

		action, fallback = d.Action, d.Fallback
		if fallback {
			rs.ledger.RecordFallback(phase, s.Level, action, d.Reason)
			e.metrics.RecordFallback(ctx, d.Reason)
			logging.Warn().
				Add(logging.RunID(s.RunID)).
				Add(logging.Iteration(iteration)).
				Add(logging.Fallback(true)).
				Add(logging.Reason(d.Reason)).
				Msg("oracle proposal unusable, asking fallback question")
		} else {
			rs.ledger.RecordDecision(phase, s.Level, action, false)
		}
		if d.Discarded > 0 {
			logging.Debug().
				Add(logging.RunID(s.RunID)).
				Add(logging.Str("discarded", strconv.Itoa(d.Discarded))).
				Msg("oracle proposed several actions, using the first")
		}

	default:
		return fmt.Errorf("%w: no action for phase %s", puzzle.ErrSessionTerminated, phase)
	}

	if _, err := s.Begin(action, forced, fallback); err != nil {
		return fmt.Errorf("begin exchange: %w", err)
	}

	level := s.Level
	actx, span := observability.StartAction(ctx, e.tracer, iteration, s.History[len(s.History)-1])
	outcome, err := e.executor.Execute(actx, action)
	if err != nil {
		span.End()
		return fmt.Errorf("execute %s: %w", action.Kind, err)
	}
	observability.EndAction(span, outcome)

	if _, err := s.Complete(outcome); err != nil {
		return fmt.Errorf("complete exchange: %w", err)
	}
	rs.ledger.RecordAction(phase, level, action, outcome)
	e.metrics.RecordAction(ctx, string(action.Kind), string(outcome.Kind), outcome.IsFailure(), outcome.Duration)

	logging.Debug().
		Add(logging.RunID(s.RunID)).
		Add(logging.Iteration(iteration)).
		Add(logging.Phase(string(phase))).
		Add(logging.Level(level)).
		Add(logging.Action(string(action.Kind))).
		Add(logging.Outcome(string(outcome.Kind))).
		Add(logging.Duration(outcome.Duration)).
		Msg("action executed")

	switch {
	case outcome.Fatal:
		e.metrics.RecordError(ctx, string(outcome.Kind))
		logging.Error().
			Add(logging.RunID(s.RunID)).
			Add(logging.Action(string(action.Kind))).
			Add(logging.Reason(outcome.Reason)).
			Msg("puzzle interface failed fatally")
	case outcome.IsFailure():
		logging.Warn().
			Add(logging.RunID(s.RunID)).
			Add(logging.Action(string(action.Kind))).
			Add(logging.Outcome(string(outcome.Kind))).
			Add(logging.Reason(outcome.Reason)).
			Msg("action failed")
	}

	tr := puzzle.Route(action.Kind, outcome, level, e.finalLevel)
	if err := rs.interp.Apply(tr); err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	e.metrics.RecordTransition(ctx, string(phase), string(tr.To))

	if tr.AdvanceLevel || tr.To == puzzle.PhaseSucceeded {
		e.metrics.RecordLevelSolved(ctx, level)
		logging.Info().
			Add(logging.RunID(s.RunID)).
			Add(logging.Level(level)).
			Msg("level solved")
		e.notify(ctx, s.RunID, notification.EventLevelSolved, notification.LevelSolvedPayload{
			Level:     level,
			Iteration: iteration,
			Password:  action.Password,
		})
	}
	if tr.To.IsTerminal() {
		rs.reason = tr.Reason
	}
	return nil
}

func (e *Engine) terminate(ctx context.Context, rs *runState, phase puzzle.Phase, reason string) error {
	from := rs.session.Phase
	if err := rs.interp.Terminate(phase, reason); err != nil {
		return fmt.Errorf("terminate run: %w", err)
	}
	rs.reason = reason
	e.metrics.RecordTransition(ctx, string(from), string(phase))
	return nil
}

// notify publishes a run event. Delivery failures are logged and never
// affect the run.
func (e *Engine) notify(ctx context.Context, runID string, eventType notification.EventType, payload any) {
	if e.notifier == nil {
		return
	}

	event, err := notification.NewEvent(uuid.NewString(), eventType, runID, payload)
	if err == nil {
		err = e.notifier.Notify(context.WithoutCancel(ctx), event)
	}
	if err != nil {
		logging.Warn().
			Add(logging.RunID(runID)).
			Add(logging.Str("event", string(eventType))).
			Add(logging.ErrorField(err)).
			Msg("run notification failed")
	}
}
