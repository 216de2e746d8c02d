package cueflow

import (
	"sync"
	"time"
)

// serviceGate is one instance per registered service. It answers a single
// question: may one more unit bound to this service be dispatched right now?
// (spec §4.2). The concurrency axis is a plain counter; the rate axis is a
// sliding-window log of admitted dispatch timestamps (spec §4.2): a dispatch
// counts against the rate while its timestamp lies in (now-window, now], and
// admission requires that count to be below rate_limit_count, since a
// token-bucket admits bursts beyond N per window
// and would violate invariant 5 (see DESIGN.md for the token-bucket attempt
// this replaced).
type serviceGate struct {
	mu sync.Mutex

	concurrency *int // nil = unlimited

	rateCount  int           // 0 = unlimited
	rateWindow time.Duration

	inFlight map[string]struct{}

	// dispatchLog holds the timestamps of dispatches currently inside the
	// rate window; it is the load-bearing admission check for the rate
	// axis, not just introspection. Its length never exceeds rateCount,
	// since reserve only appends when admitting.
	dispatchLog []time.Time
}

func newServiceGate(def ServiceDefinition) *serviceGate {
	g := &serviceGate{
		concurrency: def.Concurrency,
		inFlight:    make(map[string]struct{}),
	}
	if def.Rate != nil && def.Rate.Count > 0 && def.Rate.Window > 0 {
		g.rateCount = def.Rate.Count
		g.rateWindow = def.Rate.Window
	}
	return g
}

// reserve atomically checks both admission conditions and, if both pass,
// claims the capacity: adds workID to the in-flight set and, for a rated
// service, appends the dispatch to the window log, all under one critical
// section (spec §4.2 "Dispatch reservation").
func (g *serviceGate) reserve(workID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.concurrency != nil && len(g.inFlight) >= *g.concurrency {
		return false
	}

	now := time.Now()
	if g.rateCount > 0 {
		g.pruneLocked(now)
		if len(g.dispatchLog) >= g.rateCount {
			return false
		}
	}

	g.inFlight[workID] = struct{}{}
	if g.rateCount > 0 {
		g.dispatchLog = append(g.dispatchLog, now)
	}
	return true
}

// release removes workID from the in-flight set. The rate-limit window log
// is never released early; entries age out of the window naturally (spec
// §4.2 "Release").
func (g *serviceGate) release(workID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, workID)
}

// full reports whether the gate is currently refusing admission on either
// axis, used by debug_blocked's "service_full" reason.
func (g *serviceGate) full() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.concurrency != nil && len(g.inFlight) >= *g.concurrency {
		return true
	}
	if g.rateCount > 0 {
		g.pruneLocked(time.Now())
		if len(g.dispatchLog) >= g.rateCount {
			return true
		}
	}
	return false
}

func (g *serviceGate) inFlightCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}

// pruneLocked drops every logged dispatch that has aged out of the rate
// window as of now. Must be called with g.mu held.
func (g *serviceGate) pruneLocked(now time.Time) {
	if len(g.dispatchLog) == 0 {
		return
	}
	cutoff := now.Add(-g.rateWindow)
	i := 0
	for ; i < len(g.dispatchLog); i++ {
		if g.dispatchLog[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		g.dispatchLog = g.dispatchLog[i:]
	}
}
