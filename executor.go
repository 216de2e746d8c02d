package cueflow

import (
	"fmt"
	"time"
)

// execute runs one dispatched unit's handler and records its outcome (spec
// §4.5). It runs on its own goroutine, concurrently with the scheduler loop
// and every other in-flight executor.
func (o *Orchestrator) execute(w *WorkUnit, task *TaskDefinition, gate *serviceGate) {
	defer o.wg.Done()
	defer func() {
		if gate != nil {
			gate.release(w.ID)
		}
	}()

	start := time.Now()
	o.fireOnStart(w)

	result, err := o.invokeHandler(task, w)
	now := time.Now()

	if err != nil {
		final, ok := o.store.finish(w.ID, StateFailed, now, nil, err.Error())
		o.touchCompletion(now)
		if ok {
			o.fireOnFailure(final, err)
		}
		return
	}

	final, ok := o.store.finish(w.ID, StateCompleted, now, result, "")
	o.touchCompletion(now)
	if ok {
		o.fireOnComplete(final, result, now.Sub(start))
	}
}

// invokeHandler calls task.Handler, converting a panic into an error so a
// buggy handler fails its own work unit rather than crashing the process
// (spec §7 "Handler exceptions: caught, stringified, work transitions to
// FAILED").
func (o *Orchestrator) invokeHandler(task *TaskDefinition, w *WorkUnit) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return task.Handler(o.runCtx, w)
}

// touchCompletion records that some unit reached a terminal state, resetting
// the stall detector (spec §4.6 "Tracks last_completion_time").
func (o *Orchestrator) touchCompletion(now time.Time) {
	o.mu.Lock()
	o.lastCompletion = now
	o.nextStallWarnAt = time.Time{}
	o.mu.Unlock()
}

func (o *Orchestrator) fireOnStart(w *WorkUnit) {
	o.mu.RLock()
	fn := o.onStart
	o.mu.RUnlock()
	o.callHook("on_start", func() {
		if fn != nil {
			fn(w)
		}
	})
}

func (o *Orchestrator) fireOnComplete(w *WorkUnit, result any, duration time.Duration) {
	o.mu.RLock()
	fn := o.onComplete
	o.mu.RUnlock()
	o.callHook("on_complete", func() {
		if fn != nil {
			fn(w, result, duration)
		}
	})
}

func (o *Orchestrator) fireOnFailure(w *WorkUnit, err error) {
	o.mu.RLock()
	fn := o.onFailure
	o.mu.RUnlock()
	o.callHook("on_failure", func() {
		if fn != nil {
			fn(w, err)
		}
	})
}

func (o *Orchestrator) fireOnSkip(w *WorkUnit) {
	o.mu.RLock()
	fn := o.onSkip
	o.mu.RUnlock()
	o.callHook("on_skip", func() {
		if fn != nil {
			fn(w)
		}
	})
}
