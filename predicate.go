package cueflow

// IsReadyFunc reports whether a work unit's inputs are present.
type IsReadyFunc func(w *WorkUnit) bool

// IsStaleFunc reports whether a work unit's output is missing or outdated.
type IsStaleFunc func(w *WorkUnit) bool

// PriorityContext is passed to a registered PriorityFunc (spec §4.4 step 2).
type PriorityContext struct {
	Work       *WorkUnit
	WaitTime   float64 // seconds since CreatedAt
	QueueDepth int
}

// PriorityFunc computes a priority score in [0, 1]; higher runs first.
type PriorityFunc func(ctx PriorityContext) float64

// evalIsReady invokes the user's is_ready predicate, defaulting to true when
// unregistered and treating a panic as "not ready" (spec §4.3).
func (o *Orchestrator) evalIsReady(w *WorkUnit) (ready bool) {
	o.mu.RLock()
	fn := o.isReady
	o.mu.RUnlock()
	if fn == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn().Interface("panic", r).Str("work_id", w.ID).Msg("is_ready panicked")
			ready = false
		}
	}()
	return fn(w)
}

// evalIsStale invokes the user's is_stale predicate, defaulting to true when
// unregistered and treating a panic as "stale" (safer to redo than to
// wrongly skip, spec §4.3).
func (o *Orchestrator) evalIsStale(w *WorkUnit) (stale bool) {
	o.mu.RLock()
	fn := o.isStale
	o.mu.RUnlock()
	if fn == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn().Interface("panic", r).Str("work_id", w.ID).Msg("is_stale panicked")
			stale = true
		}
	}()
	return fn(w)
}

// evalPriority computes a unit's priority score, clamped to [0, 1]. Without a
// registered PriorityFunc it falls back to the starvation-preventing FIFO
// formula in spec §4.4 step 2.
func (o *Orchestrator) evalPriority(w *WorkUnit, waitTime float64, queueDepth int) (score float64) {
	o.mu.RLock()
	fn := o.priorityFn
	o.mu.RUnlock()

	if fn == nil {
		return defaultPriority(waitTime)
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn().Interface("panic", r).Str("work_id", w.ID).Msg("priority panicked")
			score = 0.5
		}
	}()

	score = fn(PriorityContext{Work: w, WaitTime: waitTime, QueueDepth: queueDepth})
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	return score
}

// defaultPriority is the built-in starvation-preventing FIFO score (spec
// §4.4, §GLOSSARY): min(0.3 + wait_seconds/3600, 0.9). Adapted from the
// teacher's aging formula in control_plane/scheduler/queue.go (effective
// priority = base - wait/agingFactor), re-expressed as the spec's bounded
// [0, 1] score rather than an unbounded integer priority.
func defaultPriority(waitSeconds float64) float64 {
	score := 0.3 + waitSeconds/3600.0
	if score > 0.9 {
		return 0.9
	}
	return score
}
