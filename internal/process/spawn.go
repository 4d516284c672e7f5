package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/ferry/internal/log"
)

// DefaultWaitDelay bounds how long Wait keeps reading output after the child
// exited, for grandchildren that inherited the pipes.
const DefaultWaitDelay = 500 * time.Millisecond

// CommandFactoryFunc creates an exec.Cmd for testing purposes.
// It receives the context, executable path, and arguments.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// SpawnBuilder provides a fluent API for preparing an external process.
type SpawnBuilder struct {
	ctx            context.Context
	command        Command
	label          string
	env            []string
	workDir        string
	timeout        time.Duration
	tty            bool
	pty            bool
	waitDelay      time.Duration
	resolver       Resolver
	commandFactory CommandFactoryFunc
}

// NewSpawnBuilder creates a new SpawnBuilder with the given context.
// Cancelling ctx kills the child.
func NewSpawnBuilder(ctx context.Context) *SpawnBuilder {
	return &SpawnBuilder{
		ctx:       ctx,
		waitDelay: DefaultWaitDelay,
	}
}

// WithCommand sets what to run.
func (b *SpawnBuilder) WithCommand(c Command) *SpawnBuilder {
	b.command = c
	return b
}

// WithLabel overrides the display label derived from the command.
func (b *SpawnBuilder) WithLabel(label string) *SpawnBuilder {
	b.label = label
	return b
}

// WithEnv sets the complete child environment as KEY=VALUE pairs.
// When unset the child inherits os.Environ().
func (b *SpawnBuilder) WithEnv(env []string) *SpawnBuilder {
	b.env = env
	return b
}

// WithWorkDir sets the working directory for the process.
func (b *SpawnBuilder) WithWorkDir(dir string) *SpawnBuilder {
	b.workDir = dir
	return b
}

// WithTimeout bounds the child's lifetime. If d is 0 or negative the child
// runs until it exits or the builder's context ends.
func (b *SpawnBuilder) WithTimeout(d time.Duration) *SpawnBuilder {
	b.timeout = d
	return b
}

// WithTTY attaches the child to this process's terminal. Output is not
// captured.
func (b *SpawnBuilder) WithTTY(enabled bool) *SpawnBuilder {
	b.tty = enabled
	return b
}

// WithPTY runs the child on a fresh pseudo-terminal whose output is captured
// as stdout.
func (b *SpawnBuilder) WithPTY(enabled bool) *SpawnBuilder {
	b.pty = enabled
	return b
}

// WithWaitDelay overrides DefaultWaitDelay.
func (b *SpawnBuilder) WithWaitDelay(d time.Duration) *SpawnBuilder {
	b.waitDelay = d
	return b
}

// WithResolver sets how the executable name is resolved to a path.
func (b *SpawnBuilder) WithResolver(r Resolver) *SpawnBuilder {
	b.resolver = r
	return b
}

// WithCommandFactory sets a custom command factory for testing.
func (b *SpawnBuilder) WithCommandFactory(fn CommandFactoryFunc) *SpawnBuilder {
	b.commandFactory = fn
	return b
}

// Build validates the configuration and prepares a Pending handle. Nothing
// is executed until Handle.Start.
func (b *SpawnBuilder) Build() (*Handle, error) {
	if err := b.command.Validate(); err != nil {
		return nil, fmt.Errorf("spawn builder: %w", err)
	}
	if b.tty && b.pty {
		return nil, fmt.Errorf("spawn builder: tty and pty are mutually exclusive")
	}

	argv := b.command.Argv()
	name := argv[0]
	if b.resolver != nil {
		resolved, err := b.resolver.LookPath(name)
		if err != nil {
			return nil, fmt.Errorf("spawn builder: %w", err)
		}
		name = resolved
	}

	var procCtx context.Context
	var cancel context.CancelFunc
	if b.timeout > 0 {
		procCtx, cancel = context.WithTimeout(b.ctx, b.timeout)
	} else {
		procCtx, cancel = context.WithCancel(b.ctx)
	}

	var cmd *exec.Cmd
	if b.commandFactory != nil {
		cmd = b.commandFactory(procCtx, name, argv[1:]...)
	} else {
		// #nosec G204 -- running user-declared commands is the point
		cmd = exec.CommandContext(procCtx, name, argv[1:]...)
	}
	cmd.Dir = b.workDir
	if b.env != nil {
		cmd.Env = b.env
	}
	cmd.WaitDelay = b.waitDelay

	label := b.label
	if label == "" {
		label = b.command.Label()
	}
	env := b.env
	if env == nil {
		env = os.Environ()
	}

	return &Handle{
		id:       uuid.NewString(),
		label:    label,
		command:  b.command,
		env:      env,
		dir:      b.workDir,
		timeout:  b.timeout,
		tty:      b.tty,
		pty:      b.pty,
		cmd:      cmd,
		ctx:      procCtx,
		cancel:   cancel,
		state:    StatePending,
		exitCode: -1,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the child and the goroutines that collect its output.
func (h *Handle) Start() error {
	h.mu.Lock()
	if h.state != StatePending {
		h.mu.Unlock()
		return fmt.Errorf("process %s already started", h.id)
	}

	var ptyDone chan struct{}
	switch {
	case h.tty:
		h.cmd.Stdin = os.Stdin
		h.cmd.Stdout = os.Stdout
		h.cmd.Stderr = os.Stderr
	case h.pty:
		master, err := startPTY(h.cmd)
		if err != nil {
			h.mu.Unlock()
			h.cancel()
			return fmt.Errorf("starting %q on a pty: %w", h.CommandLine(), err)
		}
		h.master = master
		ptyDone = make(chan struct{})
	default:
		h.cmd.Stdout = streamWriter{h: h, stream: Stdout}
		h.cmd.Stderr = streamWriter{h: h, stream: Stderr}
	}

	log.Debug(log.CatRun, "starting process", "id", h.id, "command", h.CommandLine(), "dir", h.dir)

	if h.master == nil {
		if err := h.cmd.Start(); err != nil {
			h.mu.Unlock()
			h.cancel()
			return fmt.Errorf("starting %q: %w", h.CommandLine(), err)
		}
	}

	h.state = StateRunning
	h.startedAt = time.Now()
	h.mu.Unlock()

	if ptyDone != nil {
		go h.copyPTY(ptyDone)
	}
	go h.waitForCompletion(ptyDone)
	return nil
}

func (h *Handle) copyPTY(done chan struct{}) {
	defer close(done)
	buf := make([]byte, 32*1024)
	for {
		n, err := h.master.Read(buf)
		h.enqueue(Stdout, buf[:n])
		if err != nil {
			return
		}
	}
}

// waitForCompletion waits for the child, then for its output, and finally
// marks the handle done.
func (h *Handle) waitForCompletion(ptyDone chan struct{}) {
	err := h.cmd.Wait()

	if ptyDone != nil {
		select {
		case <-ptyDone:
		case <-time.After(h.cmd.WaitDelay):
		}
		_ = h.master.Close()
	}

	h.finish(err)
	h.cancel()
	close(h.done)

	select {
	case h.notify <- struct{}{}:
	default:
	}
}
