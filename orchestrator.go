// Package cueflow is an in-process work orchestrator: it holds submitted
// work until a readiness predicate and a staleness predicate both agree the
// work should run, then dispatches it through per-service concurrency and
// rate-limit gates, invoking a user handler and emitting lifecycle events.
//
// The scheduler loop, gate, watchdogs, and dispatch policy are the only
// non-trivial engineering in this package; persistence, cross-process
// dispatch, and example workloads are explicitly out of scope (see
// SPEC_FULL.md).
package cueflow

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cueflow/cueflow/log"
	"github.com/cueflow/cueflow/metrics"
)

// Config configures an Orchestrator at construction (spec §6 "Configuration
// at construction").
type Config struct {
	// Logger receives scheduling decisions and watchdog events. Defaults to
	// a disabled logger so importing cueflow is silent unless a caller
	// opts in.
	Logger *zerolog.Logger
	// Metrics receives Prometheus updates. Defaults to a registry-less
	// no-op so constructing multiple Orchestrators in tests never panics
	// on duplicate registration.
	Metrics *metrics.Metrics

	// TickInterval is the scheduler loop's sleep between ticks (spec §4.4
	// step 5, "order ~10ms"). Defaults to 10ms.
	TickInterval time.Duration

	// PendingTimeout, if positive, fails a unit that has been PENDING
	// longer than this with a TimeoutError (spec §4.6).
	PendingTimeout time.Duration
	// PendingWarnAfter, if positive, fires OnPendingWarning once per unit
	// before PendingTimeout would fire.
	PendingWarnAfter time.Duration
	// StallWarnAfter, if positive, fires OnStallWarning once per stall
	// interval when no unit has completed for this long.
	StallWarnAfter time.Duration
	// StallTimeout, if positive, fails every pending unit and stops the
	// orchestrator when no unit has completed for this long.
	StallTimeout time.Duration
}

const defaultTickInterval = 10 * time.Millisecond

// Orchestrator is the work orchestrator core (spec §2). The zero value is
// not usable; construct with New.
type Orchestrator struct {
	mu sync.RWMutex

	store       *workStore
	services    map[string]*serviceGate
	serviceDefs map[string]ServiceDefinition
	tasks       map[string]*TaskDefinition

	isReady    IsReadyFunc
	isStale    IsStaleFunc
	priorityFn PriorityFunc

	onStart          OnStartFunc
	onComplete       OnCompleteFunc
	onFailure        OnFailureFunc
	onSkip           OnSkipFunc
	onPendingWarning OnPendingWarningFunc
	onStallWarning   OnStallWarningFunc

	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	running  bool
	stopCh   chan struct{}
	loopDone chan struct{}
	runCtx   context.Context
	runCancel context.CancelFunc
	wg       sync.WaitGroup

	// watchdog state, reset on each Start (spec §4.6)
	pendingWarned   map[string]bool
	lastCompletion  time.Time
	nextStallWarnAt time.Time // zero = not currently armed
}

// New constructs an Orchestrator. Services and tasks must be registered
// with Service and Task before Start (spec §6 "Registration operations
// (synchronous, pre-start)").
func New(cfg Config) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = log.Disabled()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Noop()
	}

	return &Orchestrator{
		store:       newWorkStore(),
		services:    make(map[string]*serviceGate),
		serviceDefs: make(map[string]ServiceDefinition),
		tasks:       make(map[string]*TaskDefinition),
		cfg:         cfg,
		logger:      log.Component(logger, "cueflow"),
		metrics:     m,
	}
}

// Service registers a rate/concurrency-limited service (spec §6). rate is
// "" for no rate limit; concurrency <= 0 means unlimited concurrency.
func (o *Orchestrator) Service(name string, rate string, concurrency int) error {
	def := ServiceDefinition{Name: name}
	if concurrency > 0 {
		c := concurrency
		def.Concurrency = &c
	}
	if rate != "" {
		rl, err := parseRate(rate)
		if err != nil {
			return err
		}
		def.Rate = &rl
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.serviceDefs[name] = def
	o.services[name] = newServiceGate(def)
	return nil
}

// Task registers a handler under name, optionally bound to a service (spec
// §6). retry <= 0 defaults to 1; the field is reserved (spec §9) and never
// acted on by the core.
func (o *Orchestrator) Task(name string, service string, retry int, handler HandlerFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if service != "" {
		if _, ok := o.serviceDefs[service]; !ok {
			return &UnknownServiceError{Service: service}
		}
	}
	if retry <= 0 {
		retry = 1
	}
	o.tasks[name] = &TaskDefinition{Name: name, Service: service, Handler: handler, Retry: retry}
	return nil
}

// IsReady registers the readiness predicate; re-registration overwrites.
func (o *Orchestrator) IsReady(fn IsReadyFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.isReady = fn
}

// IsStale registers the staleness predicate; re-registration overwrites.
func (o *Orchestrator) IsStale(fn IsStaleFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.isStale = fn
}

// Priority registers the priority scoring function; re-registration
// overwrites. Without one, the built-in starvation-preventing FIFO score is
// used (spec §4.4).
func (o *Orchestrator) Priority(fn PriorityFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.priorityFn = fn
}

// OnStart registers the pre-handler observation hook.
func (o *Orchestrator) OnStart(fn OnStartFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStart = fn
}

// OnComplete registers the success observation hook.
func (o *Orchestrator) OnComplete(fn OnCompleteFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onComplete = fn
}

// OnFailure registers the failure observation hook (handler error or
// watchdog timeout).
func (o *Orchestrator) OnFailure(fn OnFailureFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onFailure = fn
}

// OnSkip registers the stale-skip observation hook.
func (o *Orchestrator) OnSkip(fn OnSkipFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSkip = fn
}

// OnPendingWarning registers the per-unit pending-warning hook.
func (o *Orchestrator) OnPendingWarning(fn OnPendingWarningFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onPendingWarning = fn
}

// OnStallWarning registers the global stall-warning hook.
func (o *Orchestrator) OnStallWarning(fn OnStallWarningFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStallWarning = fn
}

// Submit adds a work unit to the queue (spec §6). It fails with
// *UnknownTaskError if task is not registered.
func (o *Orchestrator) Submit(task string, params map[string]any) (string, error) {
	o.mu.RLock()
	_, ok := o.tasks[task]
	o.mu.RUnlock()
	if !ok {
		return "", &UnknownTaskError{Task: task}
	}

	if params == nil {
		params = map[string]any{}
	}
	w := &WorkUnit{
		ID:        newWorkID(),
		Task:      task,
		Params:    params,
		State:     StatePending,
		CreatedAt: time.Now(),
		Attempt:   1,
	}
	o.store.enqueue(w)
	o.metrics.QueueDepth.Set(float64(o.store.pendingLen()))
	return w.ID, nil
}

// Get looks up a work unit across all partitions (spec §4.1 "get").
func (o *Orchestrator) Get(id string) (*WorkUnit, bool) {
	return o.store.get(id)
}

// List returns a filtered snapshot of work units (spec §4.1 "list"). A nil
// state matches every state; an empty task matches every task; limit <= 0
// defaults to 100.
func (o *Orchestrator) List(state *WorkState, task string, limit int) []*WorkUnit {
	if limit <= 0 {
		limit = 100
	}
	return o.store.list(state, task, limit)
}

// Cancel withdraws a pending unit (spec §4.1 "cancel_pending"). It returns
// false for running or already-terminal work.
func (o *Orchestrator) Cancel(id string) bool {
	return o.store.cancelPending(id, time.Now())
}

// Start begins the scheduler loop as a background goroutine. It is
// idempotent (spec §4.7).
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.loopDone = make(chan struct{})
	o.runCtx, o.runCancel = context.WithCancel(context.Background())
	o.lastCompletion = time.Now()
	o.nextStallWarnAt = time.Time{}
	o.pendingWarned = make(map[string]bool)
	o.mu.Unlock()

	o.logger.Info().Msg("orchestrator started")
	go o.run()
}

// Stop signals the scheduler loop to exit, then awaits in-flight executors
// up to timeout (<= 0 waits indefinitely). Any still unfinished at the
// deadline have their shared context cancelled cooperatively; the core
// never pre-empts a handler that ignores cancellation (spec §5, §4.7). Stop
// is idempotent.
func (o *Orchestrator) Stop(timeout time.Duration) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	stopCh, loopDone, cancel := o.stopCh, o.loopDone, o.runCancel
	o.mu.Unlock()

	close(stopCh)
	<-loopDone

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(timeout):
			o.logger.Warn().Msg("stop timeout exceeded, cancelling in-flight handlers")
			cancel()
		}
	}
	o.logger.Info().Msg("orchestrator stopped")
}

// run is the scheduler loop (spec §4.4, §4.7 "must complete the current
// tick, no mid-tick teardown").
func (o *Orchestrator) run() {
	defer close(o.loopDone)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			if stop := o.tick(); stop {
				// The stall watchdog fired: cancel immediately (a stall
				// means nothing is making progress, so there is no reason
				// to wait out a grace period) and route through the same
				// teardown a user-initiated Stop performs, so in-flight
				// executors are still awaited and a subsequent explicit
				// Stop call does not silently no-op (spec §4.7). Stop must
				// run on its own goroutine: it blocks on <-o.loopDone,
				// which only closes once this function returns.
				o.runCancel()
				go o.Stop(0)
				return
			}
		}
	}
}
