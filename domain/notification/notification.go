// Package notification provides domain models for webhook notifications
// about run progress.
package notification

import (
	"encoding/json"
	"time"
)

// EventType represents the type of notification event.
type EventType string

// Event types for webhook notifications.
const (
	EventRunStarted   EventType = "run.started"
	EventLevelSolved  EventType = "level.solved"
	EventRunSucceeded EventType = "run.succeeded"
	EventRunEnded     EventType = "run.ended" // exhausted, fatal or cancelled
)

// IsValid returns true if the event type is known.
func (t EventType) IsValid() bool {
	switch t {
	case EventRunStarted, EventLevelSolved, EventRunSucceeded, EventRunEnded:
		return true
	default:
		return false
	}
}

// Event represents a notification event to be sent to webhooks.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"run_id"`
	Payload   json.RawMessage `json:"payload"`
}

// RunStartedPayload contains data for run.started events.
type RunStartedPayload struct {
	FinalLevel    int `json:"final_level"`
	MaxIterations int `json:"max_iterations"`
}

// LevelSolvedPayload contains data for level.solved events.
type LevelSolvedPayload struct {
	Level     int    `json:"level"`
	Iteration int    `json:"iteration"`
	Password  string `json:"password"`
}

// RunEndedPayload contains data for run.succeeded and run.ended events.
type RunEndedPayload struct {
	TerminationReason string `json:"termination_reason"`
	Reason            string `json:"reason,omitempty"`
	FinalLevel        int    `json:"final_level"`
	LevelsSolved      int    `json:"levels_solved"`
	Iterations        int    `json:"iterations"`
	DurationMs        int64  `json:"duration_ms"`
}

// NewEvent creates a new notification event.
func NewEvent(id string, eventType EventType, runID string, payload any) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Payload:   payloadBytes,
	}, nil
}

// DecodePayload unmarshals the event payload into the given struct.
func (e *Event) DecodePayload(v any) error {
	if e.Payload == nil {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
