package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// Ledger provides an append-only record of everything that happened during a run.
type Ledger struct {
	runID   string
	entries []Entry
	mu      sync.RWMutex
}

// New creates a new ledger for the given run.
func New(runID string) *Ledger {
	return &Ledger{
		runID:   runID,
		entries: make([]Entry, 0),
	}
}

// Append adds an entry to the ledger.
func (l *Ledger) Append(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.RunID = l.runID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	l.entries = append(l.entries, entry)
}

// Entries returns a copy of all entries.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// EntriesByType returns entries filtered by type.
func (l *Ledger) EntriesByType(entryType EntryType) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var filtered []Entry
	for _, e := range l.entries {
		if e.Type == entryType {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// LastEntry returns the most recent entry, or nil if empty.
func (l *Ledger) LastEntry() *Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return nil
	}
	entry := l.entries[len(l.entries)-1]
	return &entry
}

// Count returns the number of entries.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// RunID returns the associated run ID.
func (l *Ledger) RunID() string {
	return l.runID
}

// RecordRunStarted records the start of a run.
func (l *Ledger) RecordRunStarted(finalLevel, maxIterations int) {
	l.Append(NewEntry(EntryRunStarted, l.runID, puzzle.PhaseAwaitingDecision, 1, RunStartedDetails{
		FinalLevel:    finalLevel,
		MaxIterations: maxIterations,
	}))
}

// RecordDecision records the action chosen for the next pass.
func (l *Ledger) RecordDecision(phase puzzle.Phase, level int, action puzzle.Action, forced bool) {
	l.Append(NewEntry(EntryDecision, l.runID, phase, level, DecisionDetails{
		Action: action,
		Forced: forced,
	}))
}

// RecordFallback records that an unusable proposal was replaced.
func (l *Ledger) RecordFallback(phase puzzle.Phase, level int, action puzzle.Action, reason string) {
	l.Append(NewEntry(EntryFallback, l.runID, phase, level, FallbackDetails{
		Action: action,
		Reason: reason,
	}))
}

// RecordAction records an executed action and its outcome.
func (l *Ledger) RecordAction(phase puzzle.Phase, level int, action puzzle.Action, outcome puzzle.Outcome) {
	l.Append(NewEntry(EntryActionExecuted, l.runID, phase, level, ActionDetails{
		Action:  action,
		Outcome: outcome,
	}))
}

// RecordTransition records a phase transition.
func (l *Ledger) RecordTransition(from, to puzzle.Phase, level int, reason string) {
	l.Append(NewEntry(EntryTransition, l.runID, to, level, TransitionDetails{
		From:   from,
		To:     to,
		Reason: reason,
	}))
}

// RecordLevelAdvanced records that a level was solved.
func (l *Ledger) RecordLevelAdvanced(phase puzzle.Phase, from, to int) {
	l.Append(NewEntry(EntryLevelAdvanced, l.runID, phase, to, LevelDetails{
		From: from,
		To:   to,
	}))
}

// RecordRunTerminated records the end of a run.
func (l *Ledger) RecordRunTerminated(phase puzzle.Phase, level, iterations int, detail string) {
	l.Append(NewEntry(EntryRunTerminated, l.runID, phase, level, TerminationDetails{
		Reason:     phase.TerminationReason(),
		Detail:     detail,
		Iterations: iterations,
	}))
}
