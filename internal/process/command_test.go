package process

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommand_String(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"plain args", Args("echo", "hello"), "echo hello"},
		{"arg with space", Args("echo", "hello world"), "echo 'hello world'"},
		{"arg with quote", Args("echo", "it's"), `echo 'it'\''s'`},
		{"empty arg", Args("printf", ""), "printf ''"},
		{"shell line kept verbatim", Shell("echo $HOME | wc -c"), "echo $HOME | wc -c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.cmd.String())
		})
	}
}

func TestCommand_Argv(t *testing.T) {
	require.Equal(t, []string{"ls", "-la"}, Args("ls", "-la").Argv())
	if runtime.GOOS != "windows" {
		require.Equal(t, []string{"/bin/sh", "-c", "exit 3"}, Shell("exit 3").Argv())
	}

	args := []string{"a", "b"}
	c := Args(args...)
	args[0] = "mutated"
	require.Equal(t, "a", c.Argv()[0], "command keeps its own copy")
}

func TestCommand_Label(t *testing.T) {
	require.Equal(t, "make", Args("/usr/bin/make", "test").Label())
	require.Equal(t, "docker", Shell("docker compose up -d").Label())
	require.Equal(t, "sh", Shell("   ").Label())
}

func TestCommand_Validate(t *testing.T) {
	require.NoError(t, Args("true").Validate())
	require.NoError(t, Shell("true").Validate())
	require.Error(t, Args().Validate())
	require.Error(t, Args("").Validate())
	require.Error(t, Command{}.Validate())
}

func TestState(t *testing.T) {
	require.False(t, StatePending.IsTerminal())
	require.False(t, StateRunning.IsTerminal())
	require.True(t, StateExited.IsTerminal())
	require.True(t, StateTimedOut.IsTerminal())
	require.True(t, StateKilled.IsTerminal())
	require.Equal(t, "timed_out", StateTimedOut.String())
	require.Equal(t, "stderr", Stderr.String())
}
