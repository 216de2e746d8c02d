package cueflow

import "time"

// runWatchdogs runs the per-unit pending-timeout/warning sweep (spec §4.6).
// It is called once per tick with the pending snapshot taken after that
// tick's dispatch walk, so a unit dispatched or skipped this tick is never
// also timed out this tick.
func (o *Orchestrator) runWatchdogs(now time.Time, pending []*WorkUnit) {
	o.mu.Lock()
	warned := o.pendingWarned
	if warned == nil {
		warned = make(map[string]bool)
		o.pendingWarned = warned
	}
	// Drop bookkeeping for units no longer pending so the map doesn't grow
	// without bound across a long-running orchestrator.
	live := make(map[string]bool, len(pending))
	for _, w := range pending {
		live[w.ID] = true
	}
	for id := range warned {
		if !live[id] {
			delete(warned, id)
		}
	}
	pendingTimeout := o.cfg.PendingTimeout
	pendingWarnAfter := o.cfg.PendingWarnAfter
	o.mu.Unlock()

	for _, w := range pending {
		age := now.Sub(w.CreatedAt).Seconds()

		if pendingTimeout > 0 && age >= pendingTimeout.Seconds() {
			o.failPendingTimeout(w, now, age)
			continue
		}

		if pendingWarnAfter > 0 && age >= pendingWarnAfter.Seconds() {
			o.mu.Lock()
			already := o.pendingWarned[w.ID]
			if !already {
				o.pendingWarned[w.ID] = true
			}
			o.mu.Unlock()
			if !already {
				o.fireOnPendingWarning(w, age)
			}
		}
	}
}

// failPendingTimeout synthesizes a TimeoutError and fails w (spec §4.6
// "Per-unit pending timeout").
func (o *Orchestrator) failPendingTimeout(w *WorkUnit, now time.Time, age float64) {
	err := &TimeoutError{Kind: TimeoutKindPending, Seconds: age}
	final, ok := o.store.finish(w.ID, StateFailed, now, nil, err.Error())
	if !ok {
		return
	}
	o.metrics.TimeoutsTotal.WithLabelValues(string(TimeoutKindPending)).Inc()
	o.touchCompletion(now)
	o.fireOnFailure(final, err)
}

// failStallTimeout synthesizes a stall-kind TimeoutError and fails w (spec
// §4.6 "a separate stall-timeout... synthesizes a TimeoutError for every
// pending unit").
func (o *Orchestrator) failStallTimeout(w *WorkUnit, now time.Time, age float64) {
	err := &TimeoutError{Kind: TimeoutKindStall, Seconds: age}
	final, ok := o.store.finish(w.ID, StateFailed, now, nil, err.Error())
	if !ok {
		return
	}
	o.metrics.TimeoutsTotal.WithLabelValues(string(TimeoutKindStall)).Inc()
	o.fireOnFailure(final, err)
}

// checkStallTimeout implements the global stall detector (spec §4.6
// "Global stall detector"). It returns true when the stall-timeout fires,
// signalling run() to stop the orchestrator after failing every pending
// unit.
func (o *Orchestrator) checkStallTimeout(now time.Time, pending []*WorkUnit) bool {
	if len(pending) == 0 {
		o.mu.Lock()
		o.lastCompletion = now
		o.nextStallWarnAt = time.Time{}
		o.mu.Unlock()
		return false
	}

	o.mu.RLock()
	since := now.Sub(o.lastCompletion).Seconds()
	warnAfter := o.cfg.StallWarnAfter
	timeout := o.cfg.StallTimeout
	nextWarnAt := o.nextStallWarnAt
	o.mu.RUnlock()

	if timeout > 0 && since >= timeout.Seconds() {
		for _, w := range pending {
			o.failStallTimeout(w, now, since)
		}
		o.logger.Warn().Float64("stall_seconds", since).Int("pending", len(pending)).
			Msg("stall timeout exceeded, stopping orchestrator")
		return true
	}

	// Fires once per StallWarnAfter interval while the stall persists
	// (spec §4.6 "once per stall interval"), not once per stall episode:
	// each firing re-arms nextStallWarnAt rather than latching a single
	// bool, so a stall that outlasts several warn intervals keeps warning.
	if warnAfter > 0 && since >= warnAfter.Seconds() {
		if nextWarnAt.IsZero() || !now.Before(nextWarnAt) {
			o.mu.Lock()
			o.nextStallWarnAt = now.Add(warnAfter)
			o.mu.Unlock()
			o.fireOnStallWarning(since, len(pending))
		}
	}

	return false
}

func (o *Orchestrator) fireOnPendingWarning(w *WorkUnit, seconds float64) {
	o.mu.RLock()
	fn := o.onPendingWarning
	o.mu.RUnlock()
	o.callHook("on_pending_warning", func() {
		if fn != nil {
			fn(w, seconds)
		}
	})
}

func (o *Orchestrator) fireOnStallWarning(seconds float64, pendingCount int) {
	o.mu.RLock()
	fn := o.onStallWarning
	o.mu.RUnlock()
	o.callHook("on_stall_warning", func() {
		if fn != nil {
			fn(seconds, pendingCount)
		}
	})
}
