package indexer

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyRunning indicates indexAll was invoked while a run is active.
	ErrAlreadyRunning = errors.New("indexer is already running")

	// ErrNotPaused indicates resume was invoked outside the paused state.
	ErrNotPaused = errors.New("indexer is not paused")
)

// State is the indexer lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateError   State = "error"
)

// Status is a snapshot of the indexer's progress. It is copied out under the
// indexer's lock; callers never observe partial updates.
type Status struct {
	State State `json:"state"`

	// RunID identifies the current or most recent indexAll run.
	RunID string `json:"run_id,omitempty"`

	// Done and Total count files within the current run.
	Done  int `json:"done"`
	Total int `json:"total"`

	// Chunks counts chunks inserted during the current run.
	Chunks int `json:"chunks"`

	// Errors counts per-item and per-batch failures that were skipped.
	Errors int `json:"errors"`

	// LastError is the most recent failure message, if any.
	LastError string `json:"last_error,omitempty"`

	// Started is when the current run began.
	Started time.Time `json:"started,omitempty"`

	// ETA estimates remaining time from the running completion rate.
	ETA time.Duration `json:"eta,omitempty"`
}
