// Package testutil provides helpers shared by tests that spawn processes.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// SkipOnWindows skips tests that depend on /bin/sh.
func SkipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

// ScriptBuilder accumulates shell lines and writes them as an executable
// script in a temp directory.
type ScriptBuilder struct {
	t     *testing.T
	name  string
	lines []string
}

// NewScript creates a builder for a script named name.
func NewScript(t *testing.T, name string) *ScriptBuilder {
	t.Helper()
	return &ScriptBuilder{t: t, name: name}
}

// Line appends a raw shell line.
func (b *ScriptBuilder) Line(line string) *ScriptBuilder {
	b.lines = append(b.lines, line)
	return b
}

// Echo prints text on stdout.
func (b *ScriptBuilder) Echo(text string) *ScriptBuilder {
	return b.Line("echo " + shellQuote(text))
}

// EchoErr prints text on stderr.
func (b *ScriptBuilder) EchoErr(text string) *ScriptBuilder {
	return b.Line("echo " + shellQuote(text) + " >&2")
}

// Sleep pauses for the given shell duration, e.g. "0.1".
func (b *ScriptBuilder) Sleep(seconds string) *ScriptBuilder {
	return b.Line("sleep " + seconds)
}

// Exit ends the script with code.
func (b *ScriptBuilder) Exit(code int) *ScriptBuilder {
	return b.Line("exit " + strconv.Itoa(code))
}

// Build writes the script and returns its absolute path.
func (b *ScriptBuilder) Build() string {
	b.t.Helper()
	path := filepath.Join(b.t.TempDir(), b.name)
	body := "#!/bin/sh\n" + strings.Join(b.lines, "\n") + "\n"
	require.NoError(b.t, os.WriteFile(path, []byte(body), 0o755)) //nolint:gosec // test fixture must be executable
	return path
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
