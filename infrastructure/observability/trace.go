package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// TracerName is the instrumentation scope of run spans.
const TracerName = "github.com/felixgeelhaar/merlin-agent"

// Span attribute keys.
const (
	AttrRunID       = attribute.Key("merlin.run_id")
	AttrLevel       = attribute.Key("merlin.level")
	AttrFinalLevel  = attribute.Key("merlin.final_level")
	AttrIteration   = attribute.Key("merlin.iteration")
	AttrAction      = attribute.Key("merlin.action")
	AttrForced      = attribute.Key("merlin.forced")
	AttrFallback    = attribute.Key("merlin.fallback")
	AttrOutcome     = attribute.Key("merlin.outcome")
	AttrTermination = attribute.Key("merlin.termination")
	AttrIterations  = attribute.Key("merlin.iterations")
)

// StartRun opens the root span of a run.
func StartRun(ctx context.Context, tracer trace.Tracer, runID string, finalLevel int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "merlin.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrRunID.String(runID),
			AttrFinalLevel.Int(finalLevel),
		),
	)
}

// EndRun records the run result on the root span and ends it.
func EndRun(span trace.Span, result puzzle.RunResult) {
	span.SetAttributes(
		AttrTermination.String(result.TerminationReason.String()),
		AttrLevel.Int(result.FinalLevel),
		AttrIterations.Int(result.Iterations),
	)
	if result.TerminationReason == puzzle.TerminationFatal {
		span.SetStatus(codes.Error, result.Reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartAction opens a span around one executed action.
func StartAction(ctx context.Context, tracer trace.Tracer, iteration int, ex puzzle.Exchange) (context.Context, trace.Span) {
	return tracer.Start(ctx, "merlin.action."+string(ex.Action.Kind),
		trace.WithAttributes(
			AttrIteration.Int(iteration),
			AttrLevel.Int(ex.Level),
			AttrAction.String(string(ex.Action.Kind)),
			AttrForced.Bool(ex.Forced),
			AttrFallback.Bool(ex.Fallback),
		),
	)
}

// EndAction records the outcome on an action span and ends it.
func EndAction(span trace.Span, outcome puzzle.Outcome) {
	span.SetAttributes(AttrOutcome.String(string(outcome.Kind)))
	if outcome.IsFailure() {
		span.AddEvent("failure", trace.WithAttributes(attribute.String("reason", outcome.Reason)))
		if outcome.Fatal {
			span.SetStatus(codes.Error, outcome.Reason)
		}
	}
	span.End()
}
