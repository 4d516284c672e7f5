// Package sched runs tasks as cooperative units sharing one worker.
//
// Every task runs on its own goroutine, but only the task holding the worker
// executes. A task gives the worker up only at suspension points:
//
//   - Yield hands the worker to the next queued task and queues again.
//   - Sleep releases the worker for the duration and queues again afterwards.
//
// Waiting tasks are served in FIFO order, so no task is starved. Code that is
// not running inside a task (plain goroutines, tests) may call Yield and Sleep
// too; Yield is then a no-op and Sleep is an ordinary sleep.
//
//	s := sched.New()
//	s.Go(ctx, "build", func(ctx context.Context) error { ... })
//	s.Go(ctx, "serve", func(ctx context.Context) error { ... })
//	err := s.Wait()
//
// Wait must not be called from inside a task; use Task.Await instead.
package sched
