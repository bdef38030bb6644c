package logging

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// testLogger creates a logger that writes to a buffer for testing
func testLogger() (*bolt.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := bolt.NewJSONHandler(buf)
	logger := bolt.New(handler).SetLevel(bolt.TRACE)
	return logger, buf
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()

	if config.Level != "info" {
		t.Errorf("Level = %s, want info", config.Level)
	}
	if config.Format != "console" {
		t.Errorf("Format = %s, want console", config.Format)
	}
	if config.Output != os.Stderr {
		t.Errorf("Output = %v, want os.Stderr", config.Output)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected bolt.Level
	}{
		{"trace", bolt.TRACE},
		{"debug", bolt.DEBUG},
		{"INFO", bolt.INFO},
		{"warn", bolt.WARN},
		{"error", bolt.ERROR},
		{"unknown", bolt.INFO},
		{"", bolt.INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%s) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{"run id", RunID("run-123"), `"run_id":"run-123"`},
		{"phase", Phase("forced_read"), `"phase":"forced_read"`},
		{"transition from", Transition("awaiting_decision", "forced_read"), `"from_phase":"awaiting_decision"`},
		{"transition to", Transition("awaiting_decision", "forced_read"), `"to_phase":"forced_read"`},
		{"level", Level(3), `"puzzle_level":3`},
		{"iteration", Iteration(12), `"iteration":12`},
		{"action", Action("submit"), `"action":"submit"`},
		{"outcome", Outcome("read_timed_out"), `"outcome":"read_timed_out"`},
		{"fallback", Fallback(true), `"fallback":true`},
		{"duration", Duration(1500 * time.Millisecond), `"duration_ms":1500`},
		{"error", ErrorField(errors.New("test error")), `"error":"test error"`},
		{"reason", Reason("no reply"), `"reason":"no reply"`},
		{"component", Component("engine"), `"component":"engine"`},
		{"str", Str("key", "value"), `"key":"value"`},
		{"int", Int("count", 3), `"count":3`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, buf := testLogger()
			tt.field(logger.Info()).Msg("test")

			if !bytes.Contains(buf.Bytes(), []byte(tt.want)) {
				t.Errorf("expected %s in output: %s", tt.want, buf.String())
			}
		})
	}
}

func TestErrorField_Nil(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()
	ErrorField(nil)(logger.Info()).Msg("test")

	if bytes.Contains(buf.Bytes(), []byte(`"error"`)) {
		t.Errorf("unexpected error field in output: %s", buf.String())
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger := New(Config{Level: "warn", Format: "json", Output: buf})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	if bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Errorf("info message should be filtered: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Errorf("warn message missing: %s", buf.String())
	}
}

func TestInit(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Config{Level: "debug", Format: "json", Output: buf})
	defer Init(Config{Level: "info", Format: "json", Output: io.Discard})

	Debug().Add(RunID("run-9")).Msg("initialized")

	if !bytes.Contains(buf.Bytes(), []byte(`"run_id":"run-9"`)) {
		t.Errorf("expected default logger to write to configured output: %s", buf.String())
	}
}

func TestGet(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get() returned nil")
	}
	SetLevel("debug")
	SetLevel("info")
}

func TestLogEvent(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()

	t.Run("Add chains fields", func(t *testing.T) {
		buf.Reset()
		NewEvent(logger.Info()).Add(RunID("run-1")).Add(Phase("fatal")).Msg("test")

		if !bytes.Contains(buf.Bytes(), []byte(`"run_id":"run-1"`)) {
			t.Errorf("expected run_id field in output: %s", buf.String())
		}
		if !bytes.Contains(buf.Bytes(), []byte(`"phase":"fatal"`)) {
			t.Errorf("expected phase field in output: %s", buf.String())
		}
	})

	t.Run("Send without message", func(t *testing.T) {
		buf.Reset()
		NewEvent(logger.Info()).Add(RunID("run-2")).Send()

		if !bytes.Contains(buf.Bytes(), []byte(`"run_id":"run-2"`)) {
			t.Errorf("expected run_id field in output: %s", buf.String())
		}
	})
}
