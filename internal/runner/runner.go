// Package runner runs one external command end to end: it resolves the
// execution context, spawns the process, streams its output, waits for it
// cooperatively when called from a scheduler task, and applies the failure
// policy.
package runner

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/ferry/internal/execctx"
	"github.com/zjrosen/ferry/internal/lifecycle"
	"github.com/zjrosen/ferry/internal/log"
	"github.com/zjrosen/ferry/internal/output"
	"github.com/zjrosen/ferry/internal/process"
	"github.com/zjrosen/ferry/internal/sched"
	"github.com/zjrosen/ferry/internal/tracing"
)

// DefaultResumeDelay is the pause between two polls of a running process
// inside a cooperative task.
const DefaultResumeDelay = 20 * time.Millisecond

// Output is the display side of a run. *output.Multiplexer implements it.
type Output interface {
	InitProcess(p output.Process)
	WriteProcessOutput(stream process.Stream, b []byte, p output.Process)
	TickProcess(p output.Process)
	FinishProcess(p output.Process)
}

// Deps are the per-run collaborators. Every field is optional.
type Deps struct {
	Output         Output
	Bus            *lifecycle.Bus
	Notifier       Notifier
	Resolver       process.Resolver
	Tracer         trace.Tracer
	CommandFactory process.CommandFactoryFunc
	ResumeDelay    time.Duration
}

// Runner runs commands.
type Runner struct {
	deps   Deps
	tracer trace.Tracer
}

// New creates a runner.
func New(deps Deps) *Runner {
	if deps.ResumeDelay <= 0 {
		deps.ResumeDelay = DefaultResumeDelay
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{}
	}
	return &Runner{deps: deps, tracer: tracing.OrNoop(deps.Tracer)}
}

// Run executes cmd and returns its handle once it finished.
//
// The context comes from WithContext or, failing that, from ctx (see
// execctx.Into). Configuration errors are returned before anything is
// spawned. A non-zero exit returns a *ProcessFailure unless failures are
// allowed, in which case the handle carries the code and err is nil.
func (r *Runner) Run(ctx context.Context, cmd process.Command, opts ...Option) (*process.Handle, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ec, err := resolve(ctx, &o)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, tracing.SpanProcessRun, trace.WithAttributes(
		attribute.String(tracing.AttrCommandLine, cmd.String()),
		attribute.String(tracing.AttrContextName, ec.Name()),
		attribute.Bool(tracing.AttrAllowFailure, ec.AllowFailure()),
		attribute.String(tracing.AttrTimeout, ec.Timeout().String()),
	))
	defer span.End()
	if t, ok := sched.TaskFrom(ctx); ok {
		span.SetAttributes(attribute.String(tracing.AttrTaskID, t.ID()), attribute.String(tracing.AttrTaskName, t.Name()))
	}

	terminal := runtime.GOOS != "windows"
	h, err := process.NewSpawnBuilder(ctx).
		WithCommand(cmd).
		WithLabel(o.label).
		WithEnv(ec.Environ()).
		WithWorkDir(ec.WorkingDirectory()).
		WithTimeout(ec.Timeout()).
		WithTTY(terminal && ec.TTY()).
		WithPTY(terminal && ec.PTY()).
		WithResolver(r.deps.Resolver).
		WithCommandFactory(r.deps.CommandFactory).
		Build()
	if err != nil {
		tracing.Fail(span, err, "spawn")
		return nil, err
	}
	span.SetAttributes(attribute.String(tracing.AttrProcessID, h.ID()), attribute.String(tracing.AttrProcessLabel, h.Label()))

	callback := o.callback
	if callback == nil && !ec.Quiet() && r.deps.Output != nil {
		callback = func(s process.Stream, b []byte, h *process.Handle) {
			r.deps.Output.WriteProcessOutput(s, b, h)
		}
	}
	deliver := func() {
		h.Drain(func(c process.Chunk) {
			if callback != nil {
				callback(c.Stream, c.Data, h)
			}
		})
	}

	log.Info(log.CatRun, fmt.Sprintf(`Running command: "%s".`, h.CommandLine()), "id", h.ID(), "context", ec.Name())

	r.initOutput(h)
	if err := h.Start(); err != nil {
		r.finishOutput(h)
		tracing.Fail(span, err, "start")
		return nil, err
	}
	span.AddEvent(tracing.EventProcessStarted, trace.WithAttributes(attribute.Int(tracing.AttrPID, h.PID())))
	if r.deps.Bus != nil {
		r.deps.Bus.PublishStart(h)
	}

	code := r.wait(ctx, h, deliver)
	deliver()

	r.finishOutput(h)
	if r.deps.Bus != nil {
		r.deps.Bus.PublishTerminate(h, code)
	}
	span.AddEvent(tracing.EventProcessExited)
	span.SetAttributes(attribute.Int(tracing.AttrExitCode, code), attribute.String(tracing.AttrProcessState, h.State().String()))

	if ec.Notify() {
		r.notify(ctx, h, code)
	}

	if code == 0 {
		log.Debug(log.CatRun, "Command finished successfully.", "id", h.ID(), "duration", h.Duration())
		span.SetStatus(codes.Ok, "")
		return h, nil
	}

	log.Notice(log.CatRun, fmt.Sprintf("Command finished with an error (exit code=%d).", code), "id", h.ID(), "state", h.State())
	if ec.AllowFailure() {
		span.SetStatus(codes.Ok, "failure allowed")
		return h, nil
	}

	failure := &ProcessFailure{Handle: h, Detail: DetailTerse}
	if ec.Verbosity().IsVeryVerbose() {
		failure.Detail = DetailFull
	}
	tracing.Fail(span, failure, "process_failure")
	return h, failure
}

// resolve layers the per-call overrides onto the base context in a fixed
// order and checks the result.
func resolve(ctx context.Context, o *options) (execctx.Context, error) {
	var c execctx.Context
	if o.base != nil {
		c = *o.base
	} else {
		var err error
		if c, err = execctx.From(ctx); err != nil {
			return c, err
		}
	}

	if o.env != nil {
		c = c.WithEnvironment(o.env)
	}
	if o.workDir != nil && *o.workDir != "" {
		if o.path != nil && *o.path != "" {
			return c, &execctx.ConfigurationError{
				Field:  "path",
				Reason: `you cannot use both the "path" and "workingDirectory" options at the same time`,
			}
		}
		c = c.WithWorkingDirectory(*o.workDir)
	}
	if o.path != nil && *o.path != "" {
		log.Warn(log.CatRun, `The "path" option is deprecated, use "workingDirectory" instead.`, "path", *o.path)
		c = c.WithWorkingDirectory(*o.path)
	}
	if o.tty != nil {
		c = c.WithTTY(*o.tty)
	}
	if o.pty != nil {
		c = c.WithPTY(*o.pty)
	}
	if o.timeout != nil {
		c = c.WithTimeout(*o.timeout)
	}
	if o.quiet != nil {
		c = c.WithQuiet(*o.quiet)
	}
	if o.allowFailure != nil {
		c = c.WithAllowFailure(*o.allowFailure)
	}
	if o.notify != nil {
		c = c.WithNotify(*o.notify)
	}

	// Quiet means capture. Terminal modes inherited from the context are
	// dropped; requesting one explicitly is an error.
	if c.Quiet() {
		if o.tty != nil && *o.tty {
			return c, &execctx.ConfigurationError{Field: "tty", Reason: `the "tty" option cannot be used with "quiet"`}
		}
		if o.pty != nil && *o.pty {
			return c, &execctx.ConfigurationError{Field: "pty", Reason: `the "pty" option cannot be used with "quiet"`}
		}
		c = c.WithTTY(false).WithPTY(false)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// wait blocks until h finished. Inside a cooperative task it ticks the
// display, yields and sleeps between polls so sibling tasks make progress.
func (r *Runner) wait(ctx context.Context, h *process.Handle, deliver func()) int {
	if !sched.InTask(ctx) {
		for {
			deliver()
			select {
			case <-h.Done():
				return h.ExitCode()
			case <-h.Notify():
			}
		}
	}

	for {
		deliver()
		select {
		case <-h.Done():
			return h.ExitCode()
		default:
		}
		if r.deps.Output != nil {
			r.deps.Output.TickProcess(h)
		}
		sched.Yield(ctx)
		if err := sched.Sleep(ctx, r.deps.ResumeDelay); err != nil {
			// The spawn context is derived from ctx, so the child is being
			// killed. Block for the remaining teardown.
			<-h.Done()
			return h.ExitCode()
		}
	}
}

func (r *Runner) initOutput(h *process.Handle) {
	if r.deps.Output != nil {
		r.deps.Output.InitProcess(h)
	}
}

func (r *Runner) finishOutput(h *process.Handle) {
	if r.deps.Output != nil {
		r.deps.Output.FinishProcess(h)
	}
}

func (r *Runner) notify(ctx context.Context, h *process.Handle, code int) {
	outcome := "successfully"
	if code != 0 {
		outcome = "with an error"
	}
	msg := fmt.Sprintf(`The command "%s" has been finished %s.`, h.CommandLine(), outcome)
	if err := r.deps.Notifier.Notify(ctx, msg); err != nil {
		log.ErrorErr(log.CatRun, "notification failed", err, "id", h.ID())
	}
}

// Capture runs cmd quietly and returns its trimmed stdout.
func (r *Runner) Capture(ctx context.Context, cmd process.Command, opts ...Option) (string, error) {
	h, err := r.Run(ctx, cmd, append(opts, WithQuiet(true))...)
	if h == nil {
		return "", err
	}
	return strings.TrimSpace(string(h.Stdout())), err
}

// ExitCode runs cmd quietly with failures allowed and returns its exit code.
// The error is only set when the command could not run at all.
func (r *Runner) ExitCode(ctx context.Context, cmd process.Command, opts ...Option) (int, error) {
	h, err := r.Run(ctx, cmd, append(opts, WithQuiet(true), WithAllowFailure(true))...)
	if err != nil {
		return -1, err
	}
	return h.ExitCode(), nil
}
