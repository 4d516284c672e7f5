package sched

import (
	"context"
	"errors"
	"sync"
	"time"
)

type taskKey struct{}

// TaskFrom returns the task that owns ctx.
func TaskFrom(ctx context.Context) (*Task, bool) {
	if ctx == nil {
		return nil, false
	}
	t, ok := ctx.Value(taskKey{}).(*Task)
	return t, ok
}

// Task is one cooperative unit of work. It doubles as the scope that
// task-owned resources (signal bindings) attach their cleanup to.
type Task struct {
	id    string
	name  string
	sched *Scheduler
	done  chan struct{}

	mu       sync.Mutex
	finished bool
	onDone   []func()
	failures []error
	err      error
}

// ID returns the unique task identifier.
func (t *Task) ID() string { return t.id }

// Name returns the name given to Go.
func (t *Task) Name() string { return t.name }

// Done is closed after the task finished and released the worker.
func (t *Task) Done() <-chan struct{} { return t.done }

// OnDone registers fn to run when the task finishes, still holding the
// worker. Hooks run in reverse registration order. If the task already
// finished, fn runs immediately.
func (t *Task) OnDone(fn func()) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		fn()
		return
	}
	t.onDone = append(t.onDone, fn)
	t.mu.Unlock()
}

// Fail records an error raised on the task's behalf by something other than
// its own function, such as a signal handler. It is reported by Err.
func (t *Task) Fail(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		t.err = errors.Join(t.err, err)
		return
	}
	t.failures = append(t.failures, err)
}

// Err returns the task's result once finished.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Await suspends the calling task until t finishes, polling every interval.
// Outside a task it simply blocks.
func (t *Task) Await(ctx context.Context, interval time.Duration) error {
	if !InTask(ctx) {
		select {
		case <-t.done:
			return t.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		select {
		case <-t.done:
			return t.Err()
		default:
		}
		if err := Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	hooks := t.onDone
	t.onDone = nil
	t.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = true
	t.err = errors.Join(append([]error{err}, t.failures...)...)
}
