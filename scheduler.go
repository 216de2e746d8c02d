package cueflow

import (
	"sort"
	"time"
)

// rankedWork pairs a pending unit with its computed priority score for one
// tick's sort (spec §4.4 steps 2-3).
type rankedWork struct {
	unit  *WorkUnit
	score float64
}

// tick performs one deterministic scheduler iteration: snapshot, rank, sort,
// walk, then the two watchdogs (spec §4.4, §4.6). It returns true if the
// stall-timeout watchdog fired and the loop should exit.
func (o *Orchestrator) tick() (stop bool) {
	start := time.Now()
	defer func() {
		o.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	snapshot := o.store.snapshotPending()
	depth := len(snapshot)
	o.metrics.QueueDepth.Set(float64(depth))

	ranked := make([]rankedWork, len(snapshot))
	for i, w := range snapshot {
		wait := start.Sub(w.CreatedAt).Seconds()
		ranked[i] = rankedWork{unit: w, score: o.evalPriority(w, wait, depth)}
	}
	// Stable sort: ties retain submission order, which snapshot already
	// reflects (spec §4.4 step 3, §5 "ordering guarantees").
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	o.mu.RLock()
	tasks := make(map[string]*TaskDefinition, len(o.tasks))
	for k, v := range o.tasks {
		tasks[k] = v
	}
	services := make(map[string]*serviceGate, len(o.services))
	for k, v := range o.services {
		services[k] = v
	}
	o.mu.RUnlock()

	for _, r := range ranked {
		w := r.unit

		task, ok := tasks[w.Task]
		if !ok {
			// Left in pending: user error, surfaced via DebugBlocked.
			continue
		}

		if !o.evalIsReady(w) {
			continue
		}

		if !o.evalIsStale(w) {
			o.skip(w, start)
			continue
		}

		var gate *serviceGate
		if task.Service != "" {
			gate = services[task.Service]
		}
		if gate != nil && !gate.reserve(w.ID) {
			continue
		}

		o.dispatch(w, task, gate, start)
	}

	remaining := o.store.snapshotPending()
	o.runWatchdogs(start, remaining)

	return o.checkStallTimeout(start, remaining)
}

// skip transitions w directly to COMPLETED without running the handler
// (spec §4.4 step 4c, "is_stale(U) is false"). Skipped units never pass
// started_at (invariant: they terminate via the pending->terminal path).
func (o *Orchestrator) skip(w *WorkUnit, now time.Time) {
	final, ok := o.store.finish(w.ID, StateCompleted, now, nil, "")
	if !ok {
		return
	}
	o.metrics.Skips.Inc()
	o.fireOnSkip(final)
}

// dispatch reserves gate capacity (already done by the caller when a gate
// is present), transitions w to RUNNING, and hands it to the executor (spec
// §4.4 step 4e).
func (o *Orchestrator) dispatch(w *WorkUnit, task *TaskDefinition, gate *serviceGate, now time.Time) {
	running, ok := o.store.moveToRunning(w.ID, now)
	if !ok {
		if gate != nil {
			gate.release(w.ID)
		}
		return
	}

	o.metrics.Dispatches.Inc()
	o.metrics.AdmissionWaitTime.Observe(now.Sub(w.CreatedAt).Seconds())
	if gate != nil && task.Service != "" {
		o.updateGateSaturationMetric(task.Service, gate)
	}

	o.wg.Add(1)
	go o.execute(running, task, gate)
}

func (o *Orchestrator) updateGateSaturationMetric(service string, gate *serviceGate) {
	o.mu.RLock()
	def, ok := o.serviceDefs[service]
	o.mu.RUnlock()
	if !ok || def.Concurrency == nil || *def.Concurrency == 0 {
		return
	}
	saturation := float64(gate.inFlightCount()) / float64(*def.Concurrency)
	o.metrics.GateSaturation.WithLabelValues(service).Set(saturation)
}
