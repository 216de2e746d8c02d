package cueflow

import "context"

// HandlerFunc executes a dispatched work unit. It may block (the executor
// runs it on its own goroutine, so blocking only costs that goroutine) or
// return quickly after kicking off asynchronous work of its own — the core
// makes no distinction, unlike the source's sync/async split (spec §3 "Design
// notes", "handler (synchronous or asynchronous)").
type HandlerFunc func(ctx context.Context, w *WorkUnit) (any, error)

// TaskDefinition binds a handler to a name and, optionally, a service.
type TaskDefinition struct {
	Name    string
	Service string // empty means ungated (spec §4.2 "Tasks with no service binding are ungated")
	Handler HandlerFunc
	// Retry is a reserved knob (spec §3, §9): the core surfaces it for API
	// stability but executes every work unit at most once per submission.
	Retry int
}
