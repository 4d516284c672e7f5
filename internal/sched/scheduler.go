package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/ferry/internal/log"
)

// Scheduler serialises task execution onto a single logical worker.
type Scheduler struct {
	mu    sync.Mutex
	held  bool
	queue []chan struct{}

	wg    sync.WaitGroup
	tasks []*Task
}

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Go starts fn as a new cooperative task. The task begins once it obtains
// the worker.
func (s *Scheduler) Go(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	t := &Task{
		id:    uuid.NewString(),
		name:  name,
		sched: s,
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acquire()
		log.Debug(log.CatSched, "task started", "task", t.name, "id", t.id)

		err := run(context.WithValue(ctx, taskKey{}, t), t, fn)
		t.finish(err)
		log.Debug(log.CatSched, "task finished", "task", t.name, "id", t.id, "error", t.Err())

		s.release()
		close(t.done)
	}()
	return t
}

func run(ctx context.Context, t *Task, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.name, r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every task started so far has finished and returns
// their errors joined in start order.
func (s *Scheduler) Wait() error {
	s.wg.Wait()

	s.mu.Lock()
	tasks := append([]*Task(nil), s.tasks...)
	s.mu.Unlock()

	var errs []error
	for _, t := range tasks {
		if err := t.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Exclusive runs fn while holding the worker, so it never interleaves with
// task code. It must be called from outside any task.
func (s *Scheduler) Exclusive(fn func()) {
	s.acquire()
	defer s.release()
	fn()
}

func (s *Scheduler) acquire() {
	s.mu.Lock()
	if !s.held {
		s.held = true
		s.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	s.queue = append(s.queue, ch)
	s.mu.Unlock()
	<-ch
}

// release hands the worker directly to the oldest waiter, if any.
func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		s.held = false
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	close(next)
}

// Waiting returns how many tasks are queued for the worker.
func (s *Scheduler) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// InTask reports whether ctx belongs to a cooperative task.
func InTask(ctx context.Context) bool {
	_, ok := TaskFrom(ctx)
	return ok
}

// Yield suspends the calling task and lets every queued task run first.
func Yield(ctx context.Context) {
	t, ok := TaskFrom(ctx)
	if !ok {
		return
	}
	t.sched.release()
	t.sched.acquire()
}

// Sleep pauses for d. Inside a task the worker is released for the whole
// pause. Returns ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	t, ok := TaskFrom(ctx)
	if ok {
		t.sched.release()
		defer t.sched.acquire()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
