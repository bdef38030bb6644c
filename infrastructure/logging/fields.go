package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// RunID adds a run ID field.
func RunID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("run_id", id)
	}
}

// Phase adds a phase field.
func Phase(p string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("phase", p)
	}
}

// Transition adds from/to phase fields.
func Transition(from, to string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("from_phase", from).Str("to_phase", to)
	}
}

// Level adds the puzzle level.
func Level(level int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("puzzle_level", level)
	}
}

// Iteration adds the loop pass number.
func Iteration(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("iteration", n)
	}
}

// Action adds the action kind.
func Action(kind string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("action", kind)
	}
}

// Outcome adds the outcome kind.
func Outcome(kind string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("outcome", kind)
	}
}

// Fallback marks a substituted action.
func Fallback(fallback bool) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool("fallback", fallback)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Reason adds a reason field.
func Reason(reason string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("reason", reason)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

// Int adds an integer field with custom key.
func Int(key string, value int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int(key, value)
	}
}
