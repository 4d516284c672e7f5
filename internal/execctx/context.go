// Package execctx holds the immutable spawn parameters used to run external
// commands, the per-task scope that carries the current one, and a registry
// of named contexts.
//
// A Context is a value. Every With method returns a modified copy and leaves
// the receiver untouched, so a parent context can be shared freely between
// concurrently running tasks.
package execctx

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"
)

// DefaultName is the registry name of the process-wide default context.
const DefaultName = "default"

// Context is an immutable snapshot of process spawn parameters.
type Context struct {
	name         string
	environment  map[string]string
	workDir      string
	tty          bool
	pty          bool
	timeout      time.Duration
	quiet        bool
	allowFailure bool
	notify       bool
	verbosity    Verbosity
}

// New returns the zero configuration: no overlay, inherited working
// directory, no timeout and normal verbosity.
func New() Context {
	return Context{
		name:      DefaultName,
		verbosity: VerbosityNormal,
	}
}

// Name returns the registry name the context was created under.
func (c Context) Name() string { return c.name }

// Environment returns a copy of the environment overlay.
func (c Context) Environment() map[string]string { return maps.Clone(c.environment) }

// WorkingDirectory returns the working directory, or "" to inherit.
func (c Context) WorkingDirectory() string { return c.workDir }

// TTY reports whether the child is attached to the controlling terminal.
func (c Context) TTY() bool { return c.tty }

// PTY reports whether the child gets a pseudo-terminal.
func (c Context) PTY() bool { return c.pty }

// Timeout bounds the child's wall-clock lifetime. Zero means unbounded.
func (c Context) Timeout() time.Duration { return c.timeout }

// Quiet reports whether output is captured without being displayed.
func (c Context) Quiet() bool { return c.quiet }

// AllowFailure reports whether a non-zero exit is returned instead of raised.
func (c Context) AllowFailure() bool { return c.allowFailure }

// Notify reports whether a completion notification is sent.
func (c Context) Notify() bool { return c.notify }

// Verbosity returns the output detail level.
func (c Context) Verbosity() Verbosity { return c.verbosity }

// WithName returns a copy registered under name.
func (c Context) WithName(name string) Context {
	c.name = name
	return c
}

// WithEnvironment overlays env onto the current overlay. Keys in env replace
// same-named keys; every other key is inherited.
func (c Context) WithEnvironment(env map[string]string) Context {
	merged := make(map[string]string, len(c.environment)+len(env))
	maps.Copy(merged, c.environment)
	maps.Copy(merged, env)
	c.environment = merged
	return c
}

// WithEnvironmentReplaced discards the current overlay and uses env instead.
func (c Context) WithEnvironmentReplaced(env map[string]string) Context {
	c.environment = maps.Clone(env)
	return c
}

// WithWorkingDirectory returns a copy running in dir.
func (c Context) WithWorkingDirectory(dir string) Context {
	c.workDir = dir
	return c
}

// WithTTY returns a copy with tty set.
func (c Context) WithTTY(tty bool) Context {
	c.tty = tty
	return c
}

// WithPTY returns a copy with pty set.
func (c Context) WithPTY(pty bool) Context {
	c.pty = pty
	return c
}

// WithTimeout returns a copy with the given child lifetime bound.
func (c Context) WithTimeout(d time.Duration) Context {
	c.timeout = d
	return c
}

// WithQuiet returns a copy with quiet set.
func (c Context) WithQuiet(quiet bool) Context {
	c.quiet = quiet
	return c
}

// WithAllowFailure returns a copy with allowFailure set.
func (c Context) WithAllowFailure(allow bool) Context {
	c.allowFailure = allow
	return c
}

// WithNotify returns a copy with notify set.
func (c Context) WithNotify(notify bool) Context {
	c.notify = notify
	return c
}

// WithVerbosity returns a copy with the given verbosity.
func (c Context) WithVerbosity(v Verbosity) Context {
	c.verbosity = v
	return c
}

// Validate checks the mutual exclusions between tty, pty and quiet.
func (c Context) Validate() error {
	if c.tty && c.pty {
		return &ConfigurationError{Field: "pty", Reason: `the "tty" and "pty" options cannot be used together`}
	}
	if c.quiet && c.tty {
		return &ConfigurationError{Field: "tty", Reason: `the "tty" option cannot be used with "quiet"`}
	}
	if c.quiet && c.pty {
		return &ConfigurationError{Field: "pty", Reason: `the "pty" option cannot be used with "quiet"`}
	}
	return nil
}

// Environ renders the parent process environment with the overlay applied,
// as sorted KEY=VALUE pairs suitable for exec.Cmd.Env.
func (c Context) Environ() []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	maps.Copy(env, c.environment)

	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Equal reports whether both contexts hold the same values.
func (c Context) Equal(o Context) bool {
	return c.name == o.name &&
		maps.Equal(c.environment, o.environment) &&
		c.workDir == o.workDir &&
		c.tty == o.tty &&
		c.pty == o.pty &&
		c.timeout == o.timeout &&
		c.quiet == o.quiet &&
		c.allowFailure == o.allowFailure &&
		c.notify == o.notify &&
		c.verbosity == o.verbosity
}

// String summarises the context for logs.
func (c Context) String() string {
	return fmt.Sprintf("context(%s dir=%q env=%d tty=%t pty=%t timeout=%s quiet=%t allow_failure=%t notify=%t verbosity=%s)",
		c.name, c.workDir, len(c.environment), c.tty, c.pty, c.timeout, c.quiet, c.allowFailure, c.notify, c.verbosity)
}
