// Package taskqueue is the in-process stand-in for the external task
// broker spec.md names out of scope, promoted to a concrete component
// per SPEC_FULL.md §3.2 because the Payout Executor's at-most-one-
// inflight-per-identity dedup is load-bearing and testable.
//
// Grounded on network/network.go's request-tracking shape
// (pendingRequests map + requestsLock guarding it, a monotonically
// increasing id) and on golang.org/x/sync's semaphore, a direct
// teacher dependency, for the bounded worker pool.
package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Result is a completed (or in-flight) task's outcome.
type Result struct {
	ID     string
	Name   string
	Status Status
	Value  any
	Err    string
}

// Handler is the work a named task performs.
type Handler func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Queue is a bounded worker pool of named, identity-deduplicated tasks.
type Queue struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	active  map[string]string // identity -> task id, tasks currently running
	results map[string]*Result
	nextID  uint64

	handlers map[string]Handler
}

// New builds a Queue with maxWorkers concurrent slots
// (CONCURRENT_MAX_WORKERS in spec §6).
func New(maxWorkers int) *Queue {
	return &Queue{
		sem:      semaphore.NewWeighted(int64(maxWorkers)),
		active:   make(map[string]string),
		results:  make(map[string]*Result),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task name. Call before Submit.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// identity builds the dedup key for a (name, args, kwargs) triple.
// Positional arguments and keyword arguments must both match exactly:
// every keyword argument is part of the key, so a submission whose
// keyword arguments are only a subset of a running task's is not
// treated as a duplicate.
func identity(name string, args []any, kwargs map[string]any) string {
	var b strings.Builder
	b.WriteString(name)
	for _, a := range args {
		fmt.Fprintf(&b, "|%v", a)
	}
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, kwargs[k])
	}
	return b.String()
}

// ActiveByIdentity reports the task id currently running with this
// identity, if any — the "introspection" the Payout Executor consults
// before dispatching a sweep or payout.
func (q *Queue) ActiveByIdentity(name string, args []any, kwargs map[string]any) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, ok := q.active[identity(name, args, kwargs)]
	return id, ok
}

// Submit dispatches name(args, kwargs) on the worker pool. If a task
// with the same identity is already running, Submit does not start a
// new one and returns the existing task's id with skipped=true.
func (q *Queue) Submit(ctx context.Context, name string, args []any, kwargs map[string]any) (id string, skipped bool, err error) {
	q.mu.Lock()
	h, ok := q.handlers[name]
	if !ok {
		q.mu.Unlock()
		return "", false, fmt.Errorf("taskqueue: no handler registered for %q", name)
	}
	key := identity(name, args, kwargs)
	if existing, running := q.active[key]; running {
		q.mu.Unlock()
		return existing, true, nil
	}

	q.nextID++
	id = fmt.Sprintf("t%d", q.nextID)
	q.active[key] = id
	q.results[id] = &Result{ID: id, Name: name, Status: StatusRunning}
	q.mu.Unlock()

	if err := q.sem.Acquire(ctx, 1); err != nil {
		q.mu.Lock()
		delete(q.active, key)
		delete(q.results, id)
		q.mu.Unlock()
		return "", false, err
	}

	// The handler's lifetime must outlive the submitter's request: HTTP
	// handlers submit with r.Context(), which net/http cancels the
	// instant ServeHTTP returns the task id, and scanner/recheck
	// callers submit with a chunk- or timer-scoped ctx that is canceled
	// long before the async task is expected to finish. Run the
	// handler on a context detached from the submitter's cancellation
	// so the return-a-task-id-then-poll-/task/{id} model actually works.
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer q.sem.Release(1)
		defer func() {
			q.mu.Lock()
			delete(q.active, key)
			q.mu.Unlock()
		}()

		value, runErr := h(runCtx, args, kwargs)

		q.mu.Lock()
		res := q.results[id]
		if runErr != nil {
			res.Status = StatusError
			res.Err = runErr.Error()
		} else {
			res.Status = StatusSuccess
			res.Value = value
		}
		q.mu.Unlock()
	}()

	return id, false, nil
}

// Result returns the current (possibly still-running) result for id.
func (q *Queue) Result(id string) (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.results[id]
	if !ok {
		return Result{}, false
	}
	return *r, true
}
