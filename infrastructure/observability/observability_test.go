package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Tracing.Exporter != ExporterNone {
		t.Errorf("Exporter = %s, want none", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", cfg.Tracing.SampleRate)
	}
	if cfg.Metrics {
		t.Error("Metrics should be off by default")
	}
}

func TestNew_Disabled(t *testing.T) {
	t.Parallel()

	p, err := New(context.Background())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := StartRun(context.Background(), p.Tracer(), "run-1", 7)
	if span.SpanContext().IsValid() {
		t.Error("expected a no-op span when tracing is disabled")
	}
	span.End()

	snap, err := p.Snapshot(context.Background())
	if err != nil || snap != nil {
		t.Errorf("Snapshot() = %v, %v; want nil, nil", snap, err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_UnknownExporter(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), func(c *Config) { c.Tracing.Exporter = "zipkin" })
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("New() error = %v, want ErrUnknownExporter", err)
	}
}

func TestStdoutTracing(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	p, err := New(context.Background(), WithServiceName("merlin-test"), WithStdoutTracing(out))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, run := StartRun(context.Background(), p.Tracer(), "run-42", 3)
	ex := puzzle.Exchange{Level: 1, Action: puzzle.Read(), Forced: true}
	_, action := StartAction(ctx, p.Tracer(), 1, ex)
	EndAction(action, puzzle.ReadTimedOut())
	EndRun(run, puzzle.RunResult{
		RunID:             "run-42",
		FinalLevel:        1,
		TerminationReason: puzzle.TerminationExhausted,
		Iterations:        1,
	})

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"merlin.run", "merlin.action.read", "run-42", "read_timed_out", "exhausted"} {
		if !strings.Contains(got, want) {
			t.Errorf("trace output missing %q", want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	p, err := New(context.Background(), WithMetrics())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	meter := p.MeterProvider().Meter("test")
	counter, err := meter.Int64Counter("merlin.actions")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	hist, err := meter.Float64Histogram("merlin.action.duration")
	if err != nil {
		t.Fatalf("Float64Histogram() error = %v", err)
	}

	ctx := context.Background()
	counter.Add(ctx, 2)
	counter.Add(ctx, 3)
	hist.Record(ctx, 12.5)

	snap, err := p.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap["merlin.actions"] != 5 {
		t.Errorf("merlin.actions = %v, want 5", snap["merlin.actions"])
	}
	if snap["merlin.action.duration"] != 1 {
		t.Errorf("merlin.action.duration count = %v, want 1", snap["merlin.action.duration"])
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "ParentBased"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%v) = %s, want prefix %s", tt.rate, got, tt.want)
		}
	}
}
