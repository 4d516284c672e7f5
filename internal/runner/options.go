package runner

import (
	"time"

	"github.com/zjrosen/ferry/internal/execctx"
	"github.com/zjrosen/ferry/internal/process"
)

// Callback receives output chunks in arrival order on the goroutine that
// called Run.
type Callback func(stream process.Stream, data []byte, h *process.Handle)

// options holds per-call overrides. A nil pointer means "inherit".
type options struct {
	env          map[string]string
	workDir      *string
	path         *string
	tty          *bool
	pty          *bool
	timeout      *time.Duration
	quiet        *bool
	allowFailure *bool
	notify       *bool
	callback     Callback
	base         *execctx.Context
	label        string
}

// Option overrides one dimension of the execution context for a single Run.
type Option func(*options)

// WithEnvironment overlays env onto the context environment.
func WithEnvironment(env map[string]string) Option {
	return func(o *options) { o.env = env }
}

// WithWorkingDirectory runs the command in dir.
func WithWorkingDirectory(dir string) Option {
	return func(o *options) { o.workDir = &dir }
}

// WithPath is the former name of WithWorkingDirectory.
//
// Deprecated: use WithWorkingDirectory. Combining both is a configuration
// error.
func WithPath(dir string) Option {
	return func(o *options) { o.path = &dir }
}

// WithTTY attaches the command to the controlling terminal.
func WithTTY(enabled bool) Option {
	return func(o *options) { o.tty = &enabled }
}

// WithPTY runs the command on a pseudo-terminal.
func WithPTY(enabled bool) Option {
	return func(o *options) { o.pty = &enabled }
}

// WithTimeout bounds the command's lifetime. Zero removes the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = &d }
}

// WithQuiet captures output without displaying it.
func WithQuiet(quiet bool) Option {
	return func(o *options) { o.quiet = &quiet }
}

// WithAllowFailure returns non-zero exits instead of failing.
func WithAllowFailure(allow bool) Option {
	return func(o *options) { o.allowFailure = &allow }
}

// WithNotify sends a completion notification.
func WithNotify(notify bool) Option {
	return func(o *options) { o.notify = &notify }
}

// WithCallback replaces the default output forwarding.
func WithCallback(cb Callback) Option {
	return func(o *options) { o.callback = cb }
}

// WithContext uses c instead of the context carried by ctx.
func WithContext(c execctx.Context) Option {
	return func(o *options) { o.base = &c }
}

// WithLabel sets the display label of the process.
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}
