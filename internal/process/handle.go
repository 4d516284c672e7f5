package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/zjrosen/ferry/internal/log"
)

// ErrTimeout is the cause recorded when a child outlives its timeout.
var ErrTimeout = errors.New("process timed out")

// ErrNotStarted is returned by operations that need a started child.
var ErrNotStarted = errors.New("process not started")

// Handle is one external process, owned by whoever built it.
type Handle struct {
	id      string
	label   string
	command Command
	env     []string
	dir     string
	timeout time.Duration
	tty     bool
	pty     bool

	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	master *os.File // PTY master, nil unless pty

	mu        sync.RWMutex
	state     State
	exitCode  int
	startedAt time.Time
	endedAt   time.Time
	waitErr   error
	pending   []Chunk
	stdout    bytes.Buffer
	stderr    bytes.Buffer

	notify chan struct{}
	done   chan struct{}
}

// ID returns the unique handle identifier.
func (h *Handle) ID() string { return h.id }

// Label returns the short display name.
func (h *Handle) Label() string { return h.label }

// Command returns the command as given.
func (h *Handle) Command() Command { return h.command }

// CommandLine returns the rendered command line.
func (h *Handle) CommandLine() string { return h.command.String() }

// Env returns the resolved environment the child runs with.
func (h *Handle) Env() []string { return append([]string(nil), h.env...) }

// Dir returns the resolved working directory ("" means inherited).
func (h *Handle) Dir() string { return h.dir }

// Timeout returns the configured lifetime bound (0 when unbounded).
func (h *Handle) Timeout() time.Duration { return h.timeout }

// State returns the current lifecycle state. Thread-safe.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// IsRunning reports whether the child has started and not yet finished.
func (h *Handle) IsRunning() bool {
	return h.State() == StateRunning
}

// ExitCode returns the exit code, or -1 until the child finished.
func (h *Handle) ExitCode() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitCode
}

// StartedAt returns when Start succeeded.
func (h *Handle) StartedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.startedAt
}

// EndedAt returns when the child finished.
func (h *Handle) EndedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.endedAt
}

// Duration returns the wall-clock run time so far.
func (h *Handle) Duration() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case h.startedAt.IsZero():
		return 0
	case h.endedAt.IsZero():
		return time.Since(h.startedAt)
	default:
		return h.endedAt.Sub(h.startedAt)
	}
}

// Stdout returns everything the child wrote to stdout so far.
func (h *Handle) Stdout() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return bytes.Clone(h.stdout.Bytes())
}

// Stderr returns everything the child wrote to stderr so far.
func (h *Handle) Stderr() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return bytes.Clone(h.stderr.Bytes())
}

// Err returns why the child did not exit normally: ErrTimeout, the
// cancellation cause, or a wait failure. Nil for any plain exit.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waitErr
}

// PID returns the OS process ID, or -1 if not started.
func (h *Handle) PID() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Notify receives a value whenever new output is queued. Spurious wakeups
// are possible; always Drain afterwards.
func (h *Handle) Notify() <-chan struct{} { return h.notify }

// Done is closed once the child finished and all output was queued.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Drain hands every queued chunk to fn in arrival order and returns how many
// were delivered. fn runs on the caller's goroutine.
func (h *Handle) Drain(fn func(Chunk)) int {
	h.mu.Lock()
	chunks := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, c := range chunks {
		fn(c)
	}
	return len(chunks)
}

// Wait blocks until the child finished and returns its exit code.
func (h *Handle) Wait() int {
	if h.State() == StatePending {
		return -1
	}
	<-h.done
	return h.ExitCode()
}

// Signal sends sig to the child.
func (h *Handle) Signal(sig os.Signal) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return ErrNotStarted
	}
	return h.cmd.Process.Signal(sig)
}

// Kill terminates the child immediately.
func (h *Handle) Kill() error {
	return h.Signal(os.Kill)
}

// String identifies the handle in logs.
func (h *Handle) String() string {
	return fmt.Sprintf("process(%s %q %s)", h.id[:8], h.CommandLine(), h.State())
}

func (h *Handle) enqueue(stream Stream, p []byte) {
	if len(p) == 0 {
		return
	}
	data := bytes.Clone(p)

	h.mu.Lock()
	h.pending = append(h.pending, Chunk{Stream: stream, Data: data})
	if stream == Stderr {
		h.stderr.Write(data)
	} else {
		h.stdout.Write(data)
	}
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// streamWriter feeds exec.Cmd output into the handle's queue.
type streamWriter struct {
	h      *Handle
	stream Stream
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.h.enqueue(w.stream, p)
	return len(p), nil
}

// finish classifies how the child ended. Called once by the waiter goroutine.
func (h *Handle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.endedAt = time.Now()
	h.state = StateExited
	h.exitCode = 0

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		h.exitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			h.exitCode = 128 + int(ws.Signal())
			h.state = StateKilled
		}
	default:
		h.exitCode = -1
		h.state = StateKilled
		h.waitErr = err
	}

	switch {
	case errors.Is(h.ctx.Err(), context.DeadlineExceeded):
		h.state = StateTimedOut
		h.waitErr = ErrTimeout
	case h.ctx.Err() != nil && h.state != StateExited:
		h.waitErr = context.Cause(h.ctx)
	}

	log.Debug(log.CatRun, "process finished",
		"id", h.id, "state", h.state, "exit", h.exitCode, "duration", h.endedAt.Sub(h.startedAt))
}
