// Package executor applies a task graph to an inventory over remote
// sessions, one worker per host.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c-r-lewis/plumbops/internal/config"
	"github.com/c-r-lewis/plumbops/internal/graph"
	"github.com/c-r-lewis/plumbops/internal/inventory"
	"github.com/c-r-lewis/plumbops/internal/logger"
	"github.com/c-r-lewis/plumbops/internal/modules"
	"github.com/c-r-lewis/plumbops/internal/remote"
	"github.com/c-r-lewis/plumbops/internal/types"
)

// Options tune a run. Zero values take the config defaults.
type Options struct {
	Parallelism     int
	TaskTimeout     time.Duration
	ConnectAttempts int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	// CheckMode runs only the read-only checks.
	CheckMode bool
	// ForceHandlers runs notified handlers even after a task failed,
	// provided the connection is still usable.
	ForceHandlers bool
	// Limit restricts the run to hosts matching a selector.
	Limit string
}

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = config.DefaultParallelism
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = config.DefaultTaskTimeout
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = config.DefaultConnectAttempts
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = config.DefaultBackoffInitial
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	return o
}

// Executor runs graphs. It holds no per-run state and may be reused.
type Executor struct {
	connector remote.Connector
	modules   *modules.Registry
	opts      Options
}

// New returns an Executor. A nil registry means modules.Default().
func New(connector remote.Connector, registry *modules.Registry, opts Options) *Executor {
	if registry == nil {
		registry = modules.Default()
	}
	return &Executor{connector: connector, modules: registry, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (e *Executor) Options() Options { return e.opts }

// Run applies g to every selected host of inv and returns once all hosts are
// done. Cancelling ctx stops new hosts and new tasks from starting; a task
// already in flight runs to completion or to its timeout.
func (e *Executor) Run(ctx context.Context, g *graph.Graph, inv *inventory.Inventory) *RunResult {
	result := &RunResult{
		ID:        uuid.NewString(),
		Playbook:  g.Name(),
		CheckMode: e.opts.CheckMode,
		StartedAt: time.Now(),
		Hosts:     make(map[string]*HostResult),
	}
	rs := newRunState(result.ID, e.opts.CheckMode)
	forceHandlers := e.opts.ForceHandlers || g.ForceHandlers()

	hosts := inv.Hosts()
	if e.opts.Limit != "" {
		hosts = inv.Match(e.opts.Limit)
	}

	logger.InfoWithFields("Starting run", map[string]interface{}{
		"run_id":      result.ID,
		"playbook":    g.Name(),
		"hosts":       len(hosts),
		"parallelism": e.opts.Parallelism,
		"check_mode":  e.opts.CheckMode,
	})

	var eg errgroup.Group
	eg.SetLimit(e.opts.Parallelism)
	for _, h := range hosts {
		w := &hostWorker{
			e:             e,
			run:           rs,
			host:          h,
			tasks:         g.TasksFor(func(sel string) bool { return inv.Matches(h, sel) }),
			handlers:      g.Handlers(),
			forceHandlers: forceHandlers,
			result:        &HostResult{Host: h.Name, Address: h.Addr(), State: ConnPending},
		}
		if ctx.Err() != nil {
			result.merge(w.skipAll(ReasonCancelled))
			continue
		}
		eg.Go(func() error {
			result.merge(w.work(ctx))
			return nil
		})
	}
	_ = eg.Wait()
	result.FinishedAt = time.Now()

	sum := result.Summary()
	logger.InfoWithFields("Run finished", map[string]interface{}{
		"run_id":        result.ID,
		"duration":      result.Duration().String(),
		"changed":       sum.Changed,
		"satisfied":     sum.Satisfied,
		"failed":        sum.Failed,
		"indeterminate": sum.Indeterminate,
		"unreachable":   sum.Unreachable,
	})
	return result
}

// hostWorker processes one host's queue.
type hostWorker struct {
	e             *Executor
	run           *runState
	host          inventory.Host
	tasks         []*graph.Task
	handlers      []*graph.Task
	forceHandlers bool

	result *HostResult
	sess   remote.Session
	// halt is why the rest of the queue is skipped, once something stopped it.
	halt SkipReason
	// lost is set once the session failed and must not be used again.
	lost bool
}

func (w *hostWorker) work(ctx context.Context) *HostResult {
	defer w.close()

	for _, t := range w.tasks {
		if w.halt == "" && ctx.Err() != nil {
			w.halt = ReasonCancelled
			logger.WarnWithFields("Run cancelled, skipping remaining tasks", w.fields(nil))
		}
		if w.halt != "" {
			w.record(w.skipped(t, w.halt))
			continue
		}
		if w.sess == nil {
			if err := w.connect(ctx); err != nil {
				w.record(w.skipped(t, w.halt))
				continue
			}
		}
		w.record(w.runTask(ctx, t))
	}

	w.runHandlers(ctx)
	return w.result
}

func (w *hostWorker) skipAll(reason SkipReason) *HostResult {
	for _, t := range w.tasks {
		w.record(w.skipped(t, reason))
	}
	return w.result
}

// connect dials the host, retrying transient failures with exponential backoff.
func (w *hostWorker) connect(ctx context.Context) error {
	opts := w.e.opts
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.BackoffInitial
	b.MaxInterval = opts.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.ConnectAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		w.result.Attempts++
		sess, err := w.e.connector.Connect(ctx, w.host)
		if err != nil {
			if !remote.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		w.sess = sess
		return nil
	}, policy, func(err error, wait time.Duration) {
		logger.WarnWithFields("Connection attempt failed, retrying", w.fields(map[string]interface{}{
			"attempt":  w.result.Attempts,
			"retry_in": wait.String(),
			"error":    err.Error(),
		}))
	})

	if err == nil {
		w.transition(ConnConnected)
		logger.DebugWithFields("Connected", w.fields(map[string]interface{}{"attempts": w.result.Attempts}))
		return nil
	}
	if ctx.Err() != nil {
		w.halt = ReasonCancelled
		return err
	}

	w.transition(ConnUnreachable)
	w.halt = ReasonUnreachable
	w.result.setErr(err)
	logger.ErrorWithFields("Host unreachable", w.fields(map[string]interface{}{
		"attempts": w.result.Attempts,
		"error":    err.Error(),
	}))
	return err
}

func (w *hostWorker) transition(next ConnState) {
	if !w.result.State.canMoveTo(next) {
		logger.DebugWithFields("Rejected connection state change", w.fields(map[string]interface{}{
			"from":  w.result.State.String(),
			"to":    next.String(),
			"error": ErrInvalidTransition.Error(),
		}))
		return
	}
	w.result.State = next
}

func (w *hostWorker) close() {
	if w.sess == nil {
		return
	}
	if err := w.sess.Close(); err != nil {
		logger.DebugWithFields("Failed to close session", w.fields(map[string]interface{}{"error": err.Error()}))
	}
	w.sess = nil
	if w.result.State == ConnConnected {
		w.transition(ConnClosed)
	}
}

// runHandlers fires each notified handler once, in declaration order.
func (w *hostWorker) runHandlers(ctx context.Context) {
	for _, hd := range w.handlers {
		if !w.run.isNotified(w.host.Name, hd.Name) {
			continue
		}
		if reason := w.handlerBlock(ctx); reason != "" {
			w.record(w.skipped(hd, reason))
			continue
		}
		if w.run.checkMode {
			w.record(w.skipped(hd, ReasonCheckMode))
			continue
		}
		w.record(w.runTask(ctx, hd))
	}
}

func (w *hostWorker) handlerBlock(ctx context.Context) SkipReason {
	forced := w.halt == ReasonHostFailed && w.forceHandlers && !w.lost
	if w.halt != "" && !forced {
		return w.halt
	}
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return ""
}

func (w *hostWorker) runTask(ctx context.Context, t *graph.Task) TaskResult {
	start := time.Now()
	tr := TaskResult{Task: t.Name, Module: t.Module, Handler: t.Handler}

	mod, ok := w.e.modules.Lookup(t.Module)
	if !ok {
		tr.Status = StatusFailed
		tr.setErr(&TaskError{Host: w.host.Name, Task: t.Name, Err: fmt.Errorf("unknown module %q", t.Module)})
		w.halt = ReasonHostFailed
		w.result.setErr(tr.Err)
		return tr
	}

	sess := w.sess
	if t.Become {
		sess = remote.Become(sess, t.BecomeUser)
	}

	// Run cancellation does not interrupt a started task; its timeout does.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.e.opts.TaskTimeout)
	defer cancel()

	w.execute(taskCtx, mod, sess, t, &tr)
	tr.Duration = time.Since(start)
	return tr
}

// execute checks, then applies when the check is unsatisfied.
func (w *hostWorker) execute(ctx context.Context, mod modules.Module, sess remote.Session, t *graph.Task, tr *TaskResult) {
	var verdict types.Verdict
	var checkErr error
	finished := await(ctx, func() { verdict, checkErr = mod.Check(ctx, sess, t.Params) })
	if !finished || timedOut(ctx, checkErr) {
		w.timeout(tr, t, mod, false, !finished)
		return
	}
	if checkErr != nil {
		w.fail(tr, t, mod, checkErr, false)
		return
	}
	if verdict.Satisfied {
		tr.Status = StatusSkipped
		tr.Reason = ReasonSatisfied
		tr.Msg = verdict.Reason
		return
	}
	if w.run.checkMode {
		tr.Status = StatusChanged
		tr.Msg = "would change"
		if verdict.Reason != "" {
			tr.Msg += ": " + verdict.Reason
		}
		w.run.notify(w.host.Name, t.Notify)
		return
	}

	var res types.ModuleResult
	finished = await(ctx, func() { res = mod.Apply(ctx, sess, t.Params) })
	if !finished || (res.Failed && timedOut(ctx, res.Err)) {
		w.timeout(tr, t, mod, true, !finished)
		return
	}
	tr.Msg = res.Msg
	if res.Failed {
		err := res.Err
		if err == nil {
			err = errors.New(res.Msg)
		}
		w.fail(tr, t, mod, err, true)
		return
	}
	if !res.Changed {
		tr.Status = StatusSkipped
		tr.Reason = ReasonSatisfied
		return
	}
	tr.Status = StatusChanged
	w.run.notify(w.host.Name, t.Notify)
}

// await runs fn and reports false if ctx ended first.
func await(ctx context.Context, fn func()) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func timedOut(ctx context.Context, err error) bool {
	return err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil
}

func (w *hostWorker) fail(tr *TaskResult, t *graph.Task, mod modules.Module, err error, applying bool) {
	lost := remote.IsConnectionError(err)
	if lost {
		w.lost = true
		w.transition(ConnFailed)
	}
	if applying && lost && !mod.Idempotent() {
		tr.Status = StatusIndeterminate
		tr.setErr(&IndeterminateStateError{Host: w.host.Name, Task: t.Name, Err: err})
	} else {
		tr.Status = StatusFailed
		tr.setErr(&TaskError{Host: w.host.Name, Task: t.Name, Err: err})
	}
	w.halt = ReasonHostFailed
	w.result.setErr(tr.Err)
}

// timeout fails the task. An abandoned call may still be using the session,
// so nothing else, forced handlers included, runs on it.
func (w *hostWorker) timeout(tr *TaskResult, t *graph.Task, mod modules.Module, applying, abandoned bool) {
	if abandoned {
		w.lost = true
	}
	terr := &TimeoutError{Host: w.host.Name, Task: t.Name, Timeout: w.e.opts.TaskTimeout}
	if applying && !mod.Idempotent() {
		tr.Status = StatusIndeterminate
		tr.setErr(&IndeterminateStateError{Host: w.host.Name, Task: t.Name, Err: terr})
	} else {
		tr.Status = StatusFailed
		tr.setErr(terr)
	}
	w.halt = ReasonHostFailed
	w.result.setErr(tr.Err)
}

func (w *hostWorker) skipped(t *graph.Task, reason SkipReason) TaskResult {
	return TaskResult{Task: t.Name, Module: t.Module, Handler: t.Handler, Status: StatusSkipped, Reason: reason}
}

// record appends a result and emits its structured log line.
func (w *hostWorker) record(tr TaskResult) {
	if tr.Handler {
		w.result.Handlers = append(w.result.Handlers, tr)
	} else {
		w.result.Tasks = append(w.result.Tasks, tr)
	}

	fields := w.fields(map[string]interface{}{
		"task":     tr.Task,
		"module":   tr.Module,
		"status":   string(tr.Status),
		"duration": tr.Duration.String(),
	})
	if tr.Reason != "" {
		fields["reason"] = string(tr.Reason)
	}
	if tr.Handler {
		fields["handler"] = true
	}

	switch tr.Status {
	case StatusFailed, StatusIndeterminate:
		fields["error"] = tr.Error
		logger.ErrorWithFields("Task failed", fields)
	default:
		logger.InfoWithFields("Task finished", fields)
	}
}

func (w *hostWorker) fields(extra map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{"run_id": w.run.id, "host": w.host.Name}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
