package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultErrorBuffer = 64

// Runner launches detached tasks. Tasks run against the runner's own context,
// not the caller's, so they outlive the operation that scheduled them.
// Runner is safe for concurrent use.
type Runner struct {
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	errs   chan *TaskError

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	lanesMu sync.Mutex
	lanes   map[string]*lane

	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewRunner creates a runner. errorBuffer bounds how many failures are kept
// for Errors readers; further failures are only logged. Zero picks a default.
func NewRunner(log zerolog.Logger, errorBuffer int) *Runner {
	if errorBuffer <= 0 {
		errorBuffer = defaultErrorBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		errs:   make(chan *TaskError, errorBuffer),
		lanes:  make(map[string]*lane),
	}
}

// lane is a FIFO of tasks sharing a key. At most one goroutine drains it.
type lane struct {
	queue []queued
}

type queued struct {
	name string
	task Task
}

// Go queues task behind every earlier task with the same key and returns
// immediately. Tasks with one key run one at a time in submission
// order; different keys run concurrently. It reports false if the runner is
// stopped and the task was dropped.
func (r *Runner) Go(key, name string, task Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.rejected.Add(1)
		r.log.Debug().Str("task", name).Str("key", key).Msg("runner closed, task dropped")
		return false
	}

	r.started.Add(1)
	r.wg.Add(1)

	r.lanesMu.Lock()
	l, busy := r.lanes[key]
	if !busy {
		l = &lane{}
		r.lanes[key] = l
	}
	l.queue = append(l.queue, queued{name: name, task: task})
	r.lanesMu.Unlock()

	if !busy {
		go r.drain(key, l)
	}
	return true
}

func (r *Runner) drain(key string, l *lane) {
	for {
		r.lanesMu.Lock()
		if len(l.queue) == 0 {
			delete(r.lanes, key)
			r.lanesMu.Unlock()
			return
		}
		next := l.queue[0]
		l.queue[0] = queued{}
		l.queue = l.queue[1:]
		r.lanesMu.Unlock()

		r.run(next.name, next.task)
	}
}

func (r *Runner) run(name string, task Task) {
	defer r.wg.Done()

	start := time.Now()
	err := r.safeCall(task)
	if err == nil {
		r.completed.Add(1)
		r.log.Debug().Str("task", name).Dur("duration", time.Since(start)).Msg("task completed")
		return
	}

	r.failed.Add(1)
	r.log.Warn().Err(err).Str("task", name).Dur("duration", time.Since(start)).Msg("task failed")

	te := &TaskError{Name: name, Err: err, At: time.Now()}
	select {
	case r.errs <- te:
	default:
	}
}

func (r *Runner) safeCall(task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p}
		}
	}()
	return task(r.ctx)
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return "task panicked: " + formatPanic(p.value)
}

func formatPanic(v any) string {
	switch x := v.(type) {
	case error:
		return x.Error()
	case string:
		return x
	default:
		return "non-error value"
	}
}

// Errors returns failures of recent tasks. The channel is never closed.
func (r *Runner) Errors() <-chan *TaskError {
	return r.errs
}

// Wait blocks until every task started so far has finished or ctx expires.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new tasks and waits for in-flight ones. If ctx expires first,
// the tasks' context is cancelled and ctx's error returned.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.Wait(ctx)
	r.cancel()
	return err
}

// Stats returns a point-in-time view of the counters.
func (r *Runner) Stats() Stats {
	s := Stats{
		Started:   r.started.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Rejected:  r.rejected.Load(),
	}
	s.Running = s.Started - s.Completed - s.Failed
	return s
}
