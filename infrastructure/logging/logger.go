// Package logging provides structured logging using bolt.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
)

var (
	defaultLogger *bolt.Logger
	mu            sync.RWMutex
)

// Config configures the logger.
type Config struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format is the output format (json or console).
	Format string

	// Output is the output destination. Run results go to stdout, so logs
	// default to stderr.
	Output io.Writer
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: os.Stderr,
	}
}

// parseLevel converts a string level to bolt.Level.
func parseLevel(s string) bolt.Level {
	switch strings.ToLower(s) {
	case "trace":
		return bolt.TRACE
	case "debug":
		return bolt.DEBUG
	case "info":
		return bolt.INFO
	case "warn":
		return bolt.WARN
	case "error":
		return bolt.ERROR
	default:
		return bolt.INFO
	}
}

// New builds a logger from the configuration without touching the default.
func New(config Config) *bolt.Logger {
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	var handler bolt.Handler
	if config.Format == "json" {
		handler = bolt.NewJSONHandler(output)
	} else {
		handler = bolt.NewConsoleHandler(output)
	}

	return bolt.New(handler).SetLevel(parseLevel(config.Level))
}

// Init replaces the default logger. The CLI calls it once the configuration
// file and flags are known.
func Init(config Config) {
	l := New(config)
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Get returns the default logger, initializing if necessary.
func Get() *bolt.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(DefaultConfig())
	}
	return defaultLogger
}

// SetLevel changes the log level of the default logger.
func SetLevel(level string) {
	Get().SetLevel(parseLevel(level))
}

// LogEvent is a wrapper that allows adding Fields to a bolt.Event.
type LogEvent struct {
	event *bolt.Event
}

// NewEvent wraps a bolt.Event for field application.
func NewEvent(e *bolt.Event) *LogEvent {
	return &LogEvent{event: e}
}

// Add applies a field to the event and returns the wrapper for chaining.
func (l *LogEvent) Add(f Field) *LogEvent {
	l.event = f(l.event)
	return l
}

// Msg sends the log event with a message.
func (l *LogEvent) Msg(msg string) {
	l.event.Msg(msg)
}

// Send sends the log event without a message.
func (l *LogEvent) Send() {
	l.event.Send()
}

// Trace returns a LogEvent wrapper for trace level logging.
func Trace() *LogEvent {
	return &LogEvent{event: Get().Trace()}
}

// Debug returns a LogEvent wrapper for debug level logging.
func Debug() *LogEvent {
	return &LogEvent{event: Get().Debug()}
}

// Info returns a LogEvent wrapper for info level logging.
func Info() *LogEvent {
	return &LogEvent{event: Get().Info()}
}

// Warn returns a LogEvent wrapper for warn level logging.
func Warn() *LogEvent {
	return &LogEvent{event: Get().Warn()}
}

// Error returns a LogEvent wrapper for error level logging.
func Error() *LogEvent {
	return &LogEvent{event: Get().Error()}
}
