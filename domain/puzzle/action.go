// Package puzzle provides the domain model for a level-based secret word puzzle
// driven by a decision oracle.
package puzzle

import (
	"fmt"
	"strings"
)

// ActionKind identifies one of the operations the puzzle interface supports.
type ActionKind string

const (
	ActionNone   ActionKind = "none"   // Nothing executed yet
	ActionAsk    ActionKind = "ask"    // Put a question to the puzzle
	ActionRead   ActionKind = "read"   // Observe the latest reply
	ActionSubmit ActionKind = "submit" // Submit a candidate secret word
)

// IsValid returns true if the kind names an executable operation.
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionAsk, ActionRead, ActionSubmit:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind.
func (k ActionKind) String() string {
	return string(k)
}

// Action is a single proposed operation. Exactly the field matching Kind is set.
type Action struct {
	Kind     ActionKind `json:"kind"`
	Question string     `json:"question,omitempty"`
	Password string     `json:"password,omitempty"`
}

// Ask creates an action that asks the given question.
func Ask(question string) Action {
	return Action{Kind: ActionAsk, Question: question}
}

// Read creates an action that reads the latest reply.
func Read() Action {
	return Action{Kind: ActionRead}
}

// Submit creates an action that submits the given password.
func Submit(password string) Action {
	return Action{Kind: ActionSubmit, Password: password}
}

// Validate checks that the action references a supported operation and
// carries the argument that operation requires.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionAsk:
		if strings.TrimSpace(a.Question) == "" {
			return fmt.Errorf("%w: ask requires a question", ErrInvalidAction)
		}
	case ActionSubmit:
		if strings.TrimSpace(a.Password) == "" {
			return fmt.Errorf("%w: submit requires a password", ErrInvalidAction)
		}
	case ActionRead:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, a.Kind)
	}
	return nil
}

// String renders the action for logs and prompts.
func (a Action) String() string {
	switch a.Kind {
	case ActionAsk:
		return fmt.Sprintf("ask(%q)", a.Question)
	case ActionSubmit:
		return fmt.Sprintf("submit(%q)", a.Password)
	default:
		return string(a.Kind) + "()"
	}
}
