// Package app wires the collaborators of one ferry run: the context
// registry, the output multiplexer, the lifecycle bus, the signal router,
// the scheduler, the runner and the readiness engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/zjrosen/ferry/internal/cachemanager"
	"github.com/zjrosen/ferry/internal/config"
	"github.com/zjrosen/ferry/internal/execctx"
	"github.com/zjrosen/ferry/internal/flags"
	"github.com/zjrosen/ferry/internal/lifecycle"
	"github.com/zjrosen/ferry/internal/log"
	"github.com/zjrosen/ferry/internal/metrics"
	"github.com/zjrosen/ferry/internal/output"
	"github.com/zjrosen/ferry/internal/process"
	"github.com/zjrosen/ferry/internal/runner"
	"github.com/zjrosen/ferry/internal/sched"
	"github.com/zjrosen/ferry/internal/signals"
	"github.com/zjrosen/ferry/internal/tracing"
	"github.com/zjrosen/ferry/internal/waitfor"
)

// LookupCacheTTL is how long a resolved executable path is reused.
const LookupCacheTTL = 5 * time.Minute

// Interrupts are the signals that stop the command of every running task.
var Interrupts = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Options tweaks New for callers that need more control than config gives.
type Options struct {
	// CommandFactory replaces exec.CommandContext when spawning.
	CommandFactory process.CommandFactoryFunc
	// Notifier replaces the default log notifier.
	Notifier runner.Notifier
	// Live overrides output.live and terminal detection.
	Live *bool
}

// App holds exactly one of each collaborator for a run.
type App struct {
	cfg config.Config

	Registry  *execctx.Registry
	Output    *output.Multiplexer
	Bus       *lifecycle.Bus
	Signals   *signals.Router
	Scheduler *sched.Scheduler
	Runner    *runner.Runner
	Wait      *waitfor.Engine
	Metrics   *metrics.Collector
	Tracing   *tracing.Provider
	Flags     *flags.Registry

	lookups     *cachemanager.InMemoryCacheManager[string, string]
	metricsStop context.CancelFunc
	metricsDone <-chan struct{}
}

// New builds an App from cfg writing process output to stdout and stderr.
func New(cfg config.Config, stdout, stderr io.Writer) (*App, error) {
	return NewWithOptions(cfg, stdout, stderr, Options{})
}

// NewWithOptions is New with explicit overrides.
func NewWithOptions(cfg config.Config, stdout, stderr io.Writer, opts Options) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reg, err := config.BuildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	fl := flags.New(cfg.Flags)

	tc := cfg.Tracing
	if fl.Enabled(flags.FlagProcessTracing) {
		tc.Enabled = true
	}
	tp, err := tracing.NewProvider(tc)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	live := liveOutput(cfg.Output, stderr, fl)
	if opts.Live != nil {
		live = *opts.Live
	}
	mux := output.New(stdout, stderr, output.Options{
		Live:         live,
		AlwaysPrefix: cfg.Output.Prefix,
		NoColor:      cfg.Output.NoColor,
	})

	a := &App{
		cfg:       cfg,
		Registry:  reg,
		Output:    mux,
		Bus:       lifecycle.NewBus(),
		Scheduler: sched.New(),
		Metrics:   metrics.NewCollector(),
		Tracing:   tp,
		Flags:     fl,
	}
	a.Signals = signals.New(a.Scheduler.Exclusive)

	var resolver process.Resolver
	if fl.Enabled(flags.FlagLookupCache) {
		a.lookups = cachemanager.NewInMemoryCacheManager[string, string]("lookups", LookupCacheTTL, 2*LookupCacheTTL)
		resolver = process.NewCachedResolver(a.lookups, LookupCacheTTL)
	}

	a.Runner = runner.New(runner.Deps{
		Output:         mux,
		Bus:            a.Bus,
		Notifier:       opts.Notifier,
		Resolver:       resolver,
		Tracer:         tp.Tracer(),
		CommandFactory: opts.CommandFactory,
	})

	a.Wait = &waitfor.Engine{
		Poll:     cfg.Wait.PollInterval,
		Timeout:  cfg.Wait.Timeout,
		Progress: stderr,
		Tracer:   tp.Tracer(),
	}

	var metricsCtx context.Context
	metricsCtx, a.metricsStop = context.WithCancel(context.Background())
	a.metricsDone = a.Metrics.Attach(metricsCtx, a.Bus)

	log.Debug(log.CatConfig, "app initialised",
		"contexts", a.Registry.Names(), "live", live, "tracing", tp.Enabled())
	return a, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Seed makes the named context (default when empty) current on ctx.
func (a *App) Seed(ctx context.Context, name string) (context.Context, error) {
	return a.Registry.Seed(ctx, name)
}

// RunAll runs every command as its own cooperative task and waits for all
// of them. Handles are returned in command order; a command that never
// spawned leaves a nil entry. The error joins every task failure.
//
// While a task runs, an interrupt stops its command.
func (a *App) RunAll(ctx context.Context, cmds []process.Command, opts ...runner.Option) ([]*process.Handle, error) {
	if _, err := execctx.From(ctx); err != nil {
		return nil, err
	}

	handles := make([]*process.Handle, len(cmds))
	for i, cmd := range cmds {
		a.Scheduler.Go(ctx, cmd.Label(), func(ctx context.Context) error {
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			if t, ok := sched.TaskFrom(ctx); ok {
				for _, sig := range Interrupts {
					err := a.Signals.Bind(sig, func(s os.Signal) (bool, error) {
						log.Info(log.CatSignal, "stopping command", "command", cmd.String(), "signal", s)
						cancel(fmt.Errorf("interrupted by %s", s))
						return false, nil
					}, t)
					if err != nil {
						return err
					}
				}
			}

			h, err := a.Runner.Run(ctx, cmd, opts...)
			handles[i] = h
			return err
		})
	}

	err := a.Scheduler.Wait()
	return handles, err
}

// Close stops signal handling, drains the lifecycle bus into the metrics
// collector and flushes traces.
func (a *App) Close(ctx context.Context) error {
	a.Signals.Close()
	a.Bus.Close()

	select {
	case <-a.metricsDone:
	case <-ctx.Done():
	}
	a.metricsStop()

	errs := []error{a.Signals.Err()}
	if a.lookups != nil {
		errs = append(errs, a.lookups.Flush(ctx))
	}
	if err := a.Tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// liveOutput decides whether the status line is drawn.
func liveOutput(oc config.OutputConfig, stderr io.Writer, fl *flags.Registry) bool {
	if !fl.Enabled(flags.FlagLiveOutput) {
		return false
	}
	if oc.Live != nil {
		return *oc.Live
	}
	return IsTerminal(stderr)
}

// IsTerminal reports whether w is an *os.File attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
