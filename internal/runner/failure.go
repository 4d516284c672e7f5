package runner

import (
	"fmt"
	"strings"

	"github.com/zjrosen/ferry/internal/execctx"
	"github.com/zjrosen/ferry/internal/process"
)

// ErrConfiguration matches configuration errors raised before spawning.
var ErrConfiguration = execctx.ErrConfiguration

// Detail selects how much a ProcessFailure reports.
type Detail int

const (
	// DetailTerse reports only the command line.
	DetailTerse Detail = iota
	// DetailFull adds exit code, working directory and captured output.
	DetailFull
)

// ProcessFailure is returned when a command exits non-zero and failures are
// not allowed.
type ProcessFailure struct {
	Handle *process.Handle
	Detail Detail
}

// ExitCode returns the failing exit code.
func (f *ProcessFailure) ExitCode() int {
	return f.Handle.ExitCode()
}

func (f *ProcessFailure) Error() string {
	h := f.Handle
	if f.Detail == DetailTerse {
		return fmt.Sprintf(`The command "%s" failed.`, h.CommandLine())
	}

	dir := h.Dir()
	if dir == "" {
		dir = "(inherited)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The command \"%s\" failed.\n\n", h.CommandLine())
	fmt.Fprintf(&b, "Exit Code: %d(%s)\n\n", h.ExitCode(), exitCodeText(h))
	fmt.Fprintf(&b, "Working directory: %s\n\n", dir)
	fmt.Fprintf(&b, "Output:\n================\n%s\n\n", h.Stdout())
	fmt.Fprintf(&b, "Error Output:\n================\n%s", h.Stderr())
	return b.String()
}

// Unwrap exposes why the process stopped, such as process.ErrTimeout.
func (f *ProcessFailure) Unwrap() error {
	return f.Handle.Err()
}

func exitCodeText(h *process.Handle) string {
	switch h.State() {
	case process.StateTimedOut:
		return "Timed out"
	case process.StateKilled:
		return "Killed"
	}
	switch code := h.ExitCode(); {
	case code == 1:
		return "General error"
	case code == 2:
		return "Misuse of shell builtins"
	case code == 126:
		return "Invoked command cannot execute"
	case code == 127:
		return "Command not found"
	case code > 128 && code < 160:
		return fmt.Sprintf("Terminated by signal %d", code-128)
	default:
		return "Unknown error"
	}
}
