package cueflow

// BlockReason enumerates why a pending work unit is not moving, the
// taxonomy spec §6 defines for debug_blocked.
type BlockReason string

const (
	BlockUnknownTask BlockReason = "unknown_task"
	BlockNotReady    BlockReason = "not_ready"
	BlockServiceFull BlockReason = "service_full"
)

// BlockedEntry is one row of DebugBlocked's output (spec §6 "the primary
// observability hook for why is nothing moving?").
type BlockedEntry struct {
	Work    *WorkUnit
	Reason  BlockReason
	Details string
}

// DebugBlocked reports, for every currently pending unit that is blocked,
// why it has not been dispatched; a pending unit that is ready and whose
// service gate would admit it gets no entry. It must stay cheap to call (spec §6): it only re-runs
// the three admission checks the scheduler tick already performs, never a
// full tick.
func (o *Orchestrator) DebugBlocked() []BlockedEntry {
	pending := o.store.snapshotPending()

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

	out := make([]BlockedEntry, 0, len(pending))
	for _, w := range pending {
		task, ok := tasks[w.Task]
		if !ok {
			o.metrics.Rejections.WithLabelValues(string(BlockUnknownTask)).Inc()
			out = append(out, BlockedEntry{
				Work:    w,
				Reason:  BlockUnknownTask,
				Details: "task \"" + w.Task + "\" is not registered",
			})
			continue
		}

		if !o.evalIsReady(w) {
			o.metrics.Rejections.WithLabelValues(string(BlockNotReady)).Inc()
			out = append(out, BlockedEntry{
				Work:    w,
				Reason:  BlockNotReady,
				Details: "is_ready predicate returned false",
			})
			continue
		}

		if task.Service != "" {
			if gate, ok := services[task.Service]; ok && gate.full() {
				o.metrics.Rejections.WithLabelValues(string(BlockServiceFull)).Inc()
				out = append(out, BlockedEntry{
					Work:    w,
					Reason:  BlockServiceFull,
					Details: "service \"" + task.Service + "\" is at capacity",
				})
				continue
			}
		}

		// Ready, not gate-blocked: either about to be dispatched on the
		// next tick, or it would have skipped already (is_stale is only
		// evaluated inside the tick walk, not here, since evaluating it
		// here could itself trigger a skip-worthy side effect twice).
	}
	return out
}
