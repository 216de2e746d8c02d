package cueflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// Scenario 1: basic completion (spec §8).
func TestBasicCompletion(t *testing.T) {
	o := New(Config{})
	if err := o.Service("api", "100/min", 10); err != nil {
		t.Fatalf("Service: %v", err)
	}

	var completes int32
	var lastResult any
	o.OnComplete(func(w *WorkUnit, result any, duration time.Duration) {
		atomic.AddInt32(&completes, 1)
		lastResult = result
	})

	if err := o.Task("t", "api", 1, func(ctx context.Context, w *WorkUnit) (any, error) {
		return map[string]int{"ok": 1}, nil
	}); err != nil {
		t.Fatalf("Task: %v", err)
	}

	o.Start()
	defer o.Stop(time.Second)

	id, err := o.Submit("t", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		w, _ := o.Get(id)
		return w != nil && w.State == StateCompleted
	})

	w, _ := o.Get(id)
	if w.State != StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", w.State)
	}
	if got := w.Result.(map[string]int)["ok"]; got != 1 {
		t.Fatalf("unexpected result: %v", w.Result)
	}
	if atomic.LoadInt32(&completes) != 1 {
		t.Fatalf("expected on_complete once, got %d", completes)
	}
	if lastResult == nil {
		t.Fatalf("on_complete fired without result")
	}
}

// Scenario 2: concurrency cap holds (spec §8).
func TestConcurrencyCapHolds(t *testing.T) {
	o := New(Config{})
	if err := o.Service("s", "", 2); err != nil {
		t.Fatalf("Service: %v", err)
	}

	var mu sync.Mutex
	current, peak := 0, 0
	var completed int32

	o.Task("t", "s", 1, func(ctx context.Context, w *WorkUnit) (any, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil, nil
	})
	o.OnComplete(func(w *WorkUnit, result any, duration time.Duration) {
		atomic.AddInt32(&completed, 1)
	})

	o.Start()
	defer o.Stop(time.Second)

	for i := 0; i < 6; i++ {
		if _, err := o.Submit("t", map[string]any{"i": i}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&completed) == 6 })

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Fatalf("observed peak concurrency %d, want <= 2", peak)
	}
}

// Scenario 3: rate limit shapes throughput (spec §8).
func TestRateLimitShapesThroughput(t *testing.T) {
	o := New(Config{})
	if err := o.Service("api", "3/sec", 100); err != nil {
		t.Fatalf("Service: %v", err)
	}

	var mu sync.Mutex
	var dispatchTimes []time.Time

	o.Task("t", "api", 1, func(ctx context.Context, w *WorkUnit) (any, error) {
		mu.Lock()
		dispatchTimes = append(dispatchTimes, time.Now())
		mu.Unlock()
		return nil, nil
	})

	o.Start()
	defer o.Stop(time.Second)

	for i := 0; i < 6; i++ {
		o.Submit("t", map[string]any{"i": i})
	}

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dispatchTimes) == 6
	})

	mu.Lock()
	defer mu.Unlock()
	first, sixth := dispatchTimes[0], dispatchTimes[5]
	if sixth.Sub(first) < 900*time.Millisecond {
		t.Fatalf("expected >= 0.9s between first and sixth dispatch, got %s", sixth.Sub(first))
	}
	if dispatchTimes[2].Sub(first) > 150*time.Millisecond {
		t.Fatalf("expected first 3 dispatches within ~100ms, third was at %s", dispatchTimes[2].Sub(first))
	}
}

// Scenario 4: readiness gates execution (spec §8).
func TestReadinessGatesExecution(t *testing.T) {
	o := New(Config{})
	o.Service("api", "100/min", 10)

	var ready int32
	var ran int32

	o.IsReady(func(w *WorkUnit) bool { return atomic.LoadInt32(&ready) == 1 })
	o.Task("consume", "api", 1, func(ctx context.Context, w *WorkUnit) (any, error) {
		atomic.AddInt32(&ran, 1)
		return nil, nil
	})

	o.Start()
	defer o.Stop(time.Second)

	id, _ := o.Submit("consume", nil)

	time.Sleep(100 * time.Millisecond)
	w, _ := o.Get(id)
	if w.State != StatePending {
		t.Fatalf("expected still PENDING, got %s", w.State)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("handler ran before ready")
	}

	atomic.StoreInt32(&ready, 1)
	waitFor(t, time.Second, func() bool {
		w, _ := o.Get(id)
		return w.State == StateCompleted
	})
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected handler to run exactly once, ran %d times", ran)
	}
}

// Scenario 5: staleness skips (spec §8).
func TestStalenessSkips(t *testing.T) {
	o := New(Config{})
	o.Service("api", "100/min", 10)

	var skipped int32
	var ran int32

	o.IsStale(func(w *WorkUnit) bool { return false })
	o.OnSkip(func(w *WorkUnit) { atomic.AddInt32(&skipped, 1) })
	o.Task("t", "api", 1, func(ctx context.Context, w *WorkUnit) (any, error) {
		atomic.AddInt32(&ran, 1)
		return nil, nil
	})

	o.Start()
	defer o.Stop(time.Second)

	id, _ := o.Submit("t", nil)

	waitFor(t, time.Second, func() bool {
		w, _ := o.Get(id)
		return w.State == StateCompleted
	})

	w, _ := o.Get(id)
	if w.StartedAt != nil {
		t.Fatalf("skipped unit should never set started_at")
	}
	if atomic.LoadInt32(&skipped) != 1 {
		t.Fatalf("expected on_skip once, got %d", skipped)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("handler should not run for a skipped unit")
	}
}

// Scenario 6: pending timeout (spec §8).
func TestPendingTimeout(t *testing.T) {
	o := New(Config{PendingTimeout: 100 * time.Millisecond})
	o.IsReady(func(w *WorkUnit) bool { return false })

	var failures int32
	var lastErr error
	o.OnFailure(func(w *WorkUnit, err error) {
		atomic.AddInt32(&failures, 1)
		lastErr = err
	})
	o.Task("t", "", 1, func(ctx context.Context, w *WorkUnit) (any, error) {
		return nil, nil
	})

	o.Start()
	defer o.Stop(time.Second)

	id, _ := o.Submit("t", nil)

	waitFor(t, time.Second, func() bool {
		w, _ := o.Get(id)
		return w.State == StateFailed
	})

	w, _ := o.Get(id)
	if w.State != StateFailed {
		t.Fatalf("expected FAILED, got %s", w.State)
	}
	if _, ok := lastErr.(*TimeoutError); !ok {
		t.Fatalf("expected *TimeoutError, got %T", lastErr)
	}
	if atomic.LoadInt32(&failures) != 1 {
		t.Fatalf("expected on_failure exactly once, got %d", failures)
	}
}

// Scenario 7: priority overrides FIFO (spec §8).
func TestPriorityOverridesFIFO(t *testing.T) {
	o := New(Config{})
	o.Service("api", "", 1)

	var mu sync.Mutex
	var order []float64

	o.Priority(func(ctx PriorityContext) float64 {
		p, _ := ctx.Work.Params["priority"].(float64)
		return p
	})
	o.Task("t", "api", 1, func(ctx context.Context, w *WorkUnit) (any, error) {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		p, _ := w.Params["priority"].(float64)
		order = append(order, p)
		mu.Unlock()
		return nil, nil
	})

	// Submit before Start so all three are in the pending queue together
	// when the first tick runs, making priority (not arrival order) decide.
	o.Submit("t", map[string]any{"priority": 0.1})
	o.Submit("t", map[string]any{"priority": 0.9})
	o.Submit("t", map[string]any{"priority": 0.5})

	o.Start()
	defer o.Stop(time.Second)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != 0.9 {
		t.Fatalf("expected 0.9-priority unit first, got order %v", order)
	}
}

func TestCancelPending(t *testing.T) {
	o := New(Config{})
	o.IsReady(func(w *WorkUnit) bool { return false })
	o.Task("t", "", 1, func(ctx context.Context, w *WorkUnit) (any, error) { return nil, nil })

	id, _ := o.Submit("t", nil)
	if !o.Cancel(id) {
		t.Fatalf("expected first cancel to succeed")
	}
	if o.Cancel(id) {
		t.Fatalf("expected second cancel to be idempotent (false)")
	}
	w, _ := o.Get(id)
	if w.State != StateCancelled {
		t.Fatalf("expected CANCELLED, got %s", w.State)
	}
}

func TestDoubleStartStopIdempotent(t *testing.T) {
	o := New(Config{})
	o.Task("t", "", 1, func(ctx context.Context, w *WorkUnit) (any, error) { return nil, nil })

	o.Start()
	o.Start() // no-op
	o.Stop(time.Second)
	o.Stop(time.Second) // no-op
}

func TestUnknownTaskError(t *testing.T) {
	o := New(Config{})
	_, err := o.Submit("nope", nil)
	var unknownTask *UnknownTaskError
	if err == nil {
		t.Fatalf("expected error")
	}
	if !asUnknownTask(err, &unknownTask) {
		t.Fatalf("expected *UnknownTaskError, got %T", err)
	}
}

func asUnknownTask(err error, target **UnknownTaskError) bool {
	e, ok := err.(*UnknownTaskError)
	if ok {
		*target = e
	}
	return ok
}

func TestUnknownServiceError(t *testing.T) {
	o := New(Config{})
	err := o.Task("t", "nonexistent", 1, func(ctx context.Context, w *WorkUnit) (any, error) { return nil, nil })
	if _, ok := err.(*UnknownServiceError); !ok {
		t.Fatalf("expected *UnknownServiceError, got %T", err)
	}
}

func TestGetNonexistentWork(t *testing.T) {
	o := New(Config{})
	if _, ok := o.Get("nonexistent"); ok {
		t.Fatalf("expected not found")
	}
}
