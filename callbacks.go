package cueflow

import "time"

// OnStartFunc observes a unit immediately before its handler runs.
type OnStartFunc func(w *WorkUnit)

// OnCompleteFunc observes a unit's successful completion.
type OnCompleteFunc func(w *WorkUnit, result any, duration time.Duration)

// OnFailureFunc observes a unit's failure (handler error or timeout).
type OnFailureFunc func(w *WorkUnit, err error)

// OnSkipFunc observes a unit that completed without running because it was
// not stale.
type OnSkipFunc func(w *WorkUnit)

// OnPendingWarningFunc observes a unit that has been pending longer than
// PendingWarnAfter, fired at most once per unit.
type OnPendingWarningFunc func(w *WorkUnit, pendingSeconds float64)

// OnStallWarningFunc observes the scheduler making no progress for longer
// than StallWarnAfter, fired at most once per stall interval.
type OnStallWarningFunc func(seconds float64, pendingCount int)

// callHook invokes fn, if set, and swallows any panic per spec §4.5/§7:
// "Observation must never corrupt lifecycle."
func (o *Orchestrator) callHook(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn().Str("hook", name).Interface("panic", r).Msg("observation callback panicked")
		}
	}()
	fn()
}
