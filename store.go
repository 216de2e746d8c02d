package cueflow

import (
	"sync"
	"time"
)

// workStore holds every work unit, partitioned by lifecycle state (spec
// §4.1). pendingOrder preserves submission order so that priority ties break
// by stable sort without depending on Go's randomized map iteration order.
// Grounded on control_plane/store/memory.go's map-of-partitions pattern,
// generalized from sharded-by-node persistence lookups to plain in-memory
// partitions (persistence is a non-goal).
type workStore struct {
	mu sync.RWMutex

	pending      map[string]*WorkUnit
	pendingOrder []string // insertion order, for stable tie-breaking
	running      map[string]*WorkUnit
	terminal     map[string]*WorkUnit
}

func newWorkStore() *workStore {
	return &workStore{
		pending:  make(map[string]*WorkUnit),
		running:  make(map[string]*WorkUnit),
		terminal: make(map[string]*WorkUnit),
	}
}

func (s *workStore) enqueue(w *WorkUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[w.ID] = w
	s.pendingOrder = append(s.pendingOrder, w.ID)
}

// snapshotPending returns the pending partition in submission order, safe
// to range over without holding the store lock.
func (s *workStore) snapshotPending() []*WorkUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*WorkUnit, 0, len(s.pendingOrder))
	for _, id := range s.pendingOrder {
		if w, ok := s.pending[id]; ok {
			out = append(out, w)
		}
	}
	return out
}

func (s *workStore) pendingLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// moveToRunning atomically transitions id from pending to running, setting
// startedAt (spec §4.1 "move_to_running").
func (s *workStore) moveToRunning(id string, startedAt time.Time) (*WorkUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	delete(s.pending, id)
	s.removePendingOrderLocked(id)

	w.State = StateRunning
	w.StartedAt = &startedAt
	s.running[id] = w
	return w, true
}

// finish atomically transitions id (from pending or running) to a terminal
// state, setting completedAt (spec §4.1 "finish").
func (s *workStore) finish(id string, state WorkState, completedAt time.Time, result any, errText string) (*WorkUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.running[id]
	if ok {
		delete(s.running, id)
	} else if w, ok = s.pending[id]; ok {
		delete(s.pending, id)
		s.removePendingOrderLocked(id)
	} else {
		return nil, false
	}

	w.State = state
	w.CompletedAt = &completedAt
	w.Result = result
	w.Err = errText
	s.terminal[id] = w
	return w, true
}

func (s *workStore) get(id string) (*WorkUnit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.pending[id]; ok {
		return w.clone(), true
	}
	if w, ok := s.running[id]; ok {
		return w.clone(), true
	}
	if w, ok := s.terminal[id]; ok {
		return w.clone(), true
	}
	return nil, false
}

// list returns a filtered snapshot (spec §4.1 "list"). Pending items come
// back in submission order, first when state is nil; no priority ranking is
// applied here, so that order matches the built-in FIFO score but not a
// registered PriorityFunc. Running and terminal items come back in
// unspecified order.
func (s *workStore) list(state *WorkState, task string, limit int) []*WorkUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*WorkUnit
	add := func(w *WorkUnit) {
		if task != "" && w.Task != task {
			return
		}
		out = append(out, w.clone())
	}

	switch {
	case state == nil:
		for _, id := range s.pendingOrder {
			if w, ok := s.pending[id]; ok {
				add(w)
			}
		}
		for _, w := range s.running {
			add(w)
		}
		for _, w := range s.terminal {
			add(w)
		}
	case *state == StatePending:
		for _, id := range s.pendingOrder {
			if w, ok := s.pending[id]; ok {
				add(w)
			}
		}
	case *state == StateRunning:
		for _, w := range s.running {
			add(w)
		}
	default:
		for _, w := range s.terminal {
			if w.State == *state {
				add(w)
			}
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// cancelPending removes id from pending, marks it CANCELLED, and moves it to
// terminal. Returns false if id is not in pending (spec §4.1 "cancel_pending").
func (s *workStore) cancelPending(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	s.removePendingOrderLocked(id)

	w.State = StateCancelled
	w.CompletedAt = &now
	s.terminal[id] = w
	return true
}

func (s *workStore) removePendingOrderLocked(id string) {
	for i, pid := range s.pendingOrder {
		if pid == id {
			s.pendingOrder = append(s.pendingOrder[:i], s.pendingOrder[i+1:]...)
			return
		}
	}
}
