package process

import (
	"errors"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// Command is either an argument vector executed directly or a single line
// interpreted by the platform shell.
type Command struct {
	args  []string
	shell string
}

// Args builds a command executed without a shell.
func Args(args ...string) Command {
	return Command{args: append([]string(nil), args...)}
}

// Shell builds a command interpreted by /bin/sh (cmd.exe on Windows).
func Shell(line string) Command {
	return Command{shell: line}
}

// IsShell reports whether the command goes through the shell.
func (c Command) IsShell() bool { return c.shell != "" }

// Validate rejects empty commands.
func (c Command) Validate() error {
	if c.shell == "" && (len(c.args) == 0 || c.args[0] == "") {
		return errors.New("command is empty")
	}
	return nil
}

// Argv returns the argument vector that is actually executed.
func (c Command) Argv() []string {
	if c.shell != "" {
		if runtime.GOOS == "windows" {
			return []string{"cmd", "/C", c.shell}
		}
		return []string{"/bin/sh", "-c", c.shell}
	}
	return append([]string(nil), c.args...)
}

// String renders the command line the way a user would type it.
func (c Command) String() string {
	if c.shell != "" {
		return c.shell
	}
	quoted := make([]string, len(c.args))
	for i, a := range c.args {
		quoted[i] = quote(a)
	}
	return strings.Join(quoted, " ")
}

// Label is a short name for display: the executable's base name, or the
// first word of a shell line.
func (c Command) Label() string {
	if c.shell != "" {
		fields := strings.Fields(c.shell)
		if len(fields) == 0 {
			return "sh"
		}
		return filepath.Base(fields[0])
	}
	if len(c.args) == 0 {
		return ""
	}
	return filepath.Base(c.args[0])
}

var safeArg = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

func quote(arg string) string {
	if arg != "" && safeArg.MatchString(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
