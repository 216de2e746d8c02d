package cueflow

import (
	"time"

	"github.com/google/uuid"
)

// WorkState is the lifecycle state of a WorkUnit. Transitions are monotonic
// and follow spec §3 invariant 1: PENDING -> {RUNNING, COMPLETED, CANCELLED,
// FAILED}; RUNNING -> {COMPLETED, FAILED}.
type WorkState string

const (
	StatePending   WorkState = "PENDING"
	StateRunning   WorkState = "RUNNING"
	StateCompleted WorkState = "COMPLETED"
	StateFailed    WorkState = "FAILED"
	StateCancelled WorkState = "CANCELLED"
)

func (s WorkState) String() string { return string(s) }

// WorkUnit is one submission. It moves through the lifecycle exactly once
// (spec §3, §8 "Lifecycles").
type WorkUnit struct {
	ID        string
	Task      string
	Params    map[string]any
	State     WorkState
	CreatedAt time.Time

	// StartedAt is set iff the state ever reached RUNNING (invariant 2).
	StartedAt *time.Time
	// CompletedAt is set iff the state is terminal (invariant 2).
	CompletedAt *time.Time

	// Result is present only on success.
	Result any
	// Err is present only on failure; it is the stringified error, never
	// the error value itself, so WorkUnit stays trivially copyable.
	Err string

	// Attempt is reserved for future retry support (spec §9); the core
	// never increments it past 1.
	Attempt int
}

// clone returns a shallow copy of w, used so callers and the store never
// share a mutable WorkUnit across a state transition (spec §8 "Submit-then-get
// is idempotent... the returned unit is equal by field across calls prior to
// any state transition").
func (w *WorkUnit) clone() *WorkUnit {
	cp := *w
	if w.StartedAt != nil {
		t := *w.StartedAt
		cp.StartedAt = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func newWorkID() string {
	return uuid.NewString()
}
