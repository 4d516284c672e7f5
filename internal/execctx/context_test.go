package execctx

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func drawContext(t *rapid.T) Context {
	env := rapid.MapOf(
		rapid.StringMatching(`[A-Z]{1,6}`),
		rapid.StringMatching(`[a-z0-9]{0,8}`),
	).Draw(t, "env")
	return New().
		WithEnvironment(env).
		WithWorkingDirectory(rapid.StringMatching(`(/[a-z]{1,5}){0,3}`).Draw(t, "dir")).
		WithTTY(rapid.Bool().Draw(t, "tty")).
		WithPTY(rapid.Bool().Draw(t, "pty")).
		WithTimeout(time.Duration(rapid.Int64Range(0, 600).Draw(t, "timeout")) * time.Second).
		WithQuiet(rapid.Bool().Draw(t, "quiet")).
		WithAllowFailure(rapid.Bool().Draw(t, "allowFailure")).
		WithNotify(rapid.Bool().Draw(t, "notify")).
		WithVerbosity(Verbosity(rapid.IntRange(0, 4).Draw(t, "verbosity")))
}

// TestWith_LeavesReceiverUnchanged checks that every With method copies and
// changes exactly one dimension.
func TestWith_LeavesReceiverUnchanged(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawContext(rt)
		snapshot := c.WithName(c.Name())

		switch rapid.IntRange(0, 7).Draw(rt, "dimension") {
		case 0:
			dir := rapid.StringMatching(`/[a-z]{1,8}`).Draw(rt, "newDir")
			d := c.WithWorkingDirectory(dir)
			require.Equal(rt, dir, d.WorkingDirectory())
			require.True(rt, d.WithWorkingDirectory(c.WorkingDirectory()).Equal(c))
		case 1:
			v := !c.TTY()
			d := c.WithTTY(v)
			require.Equal(rt, v, d.TTY())
			require.True(rt, d.WithTTY(c.TTY()).Equal(c))
		case 2:
			v := !c.PTY()
			d := c.WithPTY(v)
			require.Equal(rt, v, d.PTY())
			require.True(rt, d.WithPTY(c.PTY()).Equal(c))
		case 3:
			v := time.Duration(rapid.Int64Range(1, 1000).Draw(rt, "newTimeout")) * time.Millisecond
			d := c.WithTimeout(v)
			require.Equal(rt, v, d.Timeout())
			require.True(rt, d.WithTimeout(c.Timeout()).Equal(c))
		case 4:
			v := !c.Quiet()
			d := c.WithQuiet(v)
			require.Equal(rt, v, d.Quiet())
			require.True(rt, d.WithQuiet(c.Quiet()).Equal(c))
		case 5:
			v := !c.AllowFailure()
			d := c.WithAllowFailure(v)
			require.Equal(rt, v, d.AllowFailure())
			require.True(rt, d.WithAllowFailure(c.AllowFailure()).Equal(c))
		case 6:
			v := !c.Notify()
			d := c.WithNotify(v)
			require.Equal(rt, v, d.Notify())
			require.True(rt, d.WithNotify(c.Notify()).Equal(c))
		case 7:
			key := rapid.StringMatching(`[A-Z]{1,6}`).Draw(rt, "key")
			d := c.WithEnvironment(map[string]string{key: "override"})
			require.Equal(rt, "override", d.Environment()[key])
			for k, v := range c.Environment() {
				if k != key {
					require.Equal(rt, v, d.Environment()[k])
				}
			}
		}

		require.True(rt, c.Equal(snapshot), "receiver must not change")
	})
}

func TestWithEnvironment_OverlayMerge(t *testing.T) {
	base := New().WithEnvironment(map[string]string{"A": "1", "B": "2"})
	child := base.WithEnvironment(map[string]string{"B": "20", "C": "30"})

	require.Equal(t, map[string]string{"A": "1", "B": "20", "C": "30"}, child.Environment())
	require.Equal(t, map[string]string{"A": "1", "B": "2"}, base.Environment())
}

func TestEnvironment_ReturnsCopy(t *testing.T) {
	c := New().WithEnvironment(map[string]string{"A": "1"})
	env := c.Environment()
	env["A"] = "mutated"

	require.Equal(t, "1", c.Environment()["A"])
}

func TestWithEnvironmentReplaced(t *testing.T) {
	c := New().WithEnvironment(map[string]string{"A": "1"}).
		WithEnvironmentReplaced(map[string]string{"B": "2"})

	require.Equal(t, map[string]string{"B": "2"}, c.Environment())
}

func TestEnviron_OverlayWins(t *testing.T) {
	t.Setenv("FERRY_TEST_BASE", "base")
	t.Setenv("FERRY_TEST_OVERRIDE", "old")

	env := New().WithEnvironment(map[string]string{
		"FERRY_TEST_OVERRIDE": "new",
		"FERRY_TEST_ADDED":    "added",
	}).Environ()

	require.Contains(t, env, "FERRY_TEST_BASE=base")
	require.Contains(t, env, "FERRY_TEST_OVERRIDE=new")
	require.Contains(t, env, "FERRY_TEST_ADDED=added")
	require.NotContains(t, env, "FERRY_TEST_OVERRIDE=old")
	require.Equal(t, os.Getenv("FERRY_TEST_OVERRIDE"), "old", "parent environment untouched")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ctx     Context
		wantErr bool
	}{
		{name: "defaults", ctx: New()},
		{name: "tty only", ctx: New().WithTTY(true)},
		{name: "pty only", ctx: New().WithPTY(true)},
		{name: "quiet only", ctx: New().WithQuiet(true)},
		{name: "tty and pty", ctx: New().WithTTY(true).WithPTY(true), wantErr: true},
		{name: "quiet and tty", ctx: New().WithQuiet(true).WithTTY(true), wantErr: true},
		{name: "quiet and pty", ctx: New().WithQuiet(true).WithPTY(true), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ctx.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrConfiguration))
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			require.NotEmpty(t, cfgErr.Field)
		})
	}
}

func TestParseVerbosity(t *testing.T) {
	tests := []struct {
		in   string
		want Verbosity
	}{
		{"", VerbosityNormal},
		{"quiet", VerbosityQuiet},
		{"verbose", VerbosityVerbose},
		{"vv", VerbosityVeryVerbose},
		{"very-verbose", VerbosityVeryVerbose},
		{"DEBUG", VerbosityDebug},
	}
	for _, tt := range tests {
		got, err := ParseVerbosity(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseVerbosity("loud")
	require.Error(t, err)
}

func TestVerbosity_Ordering(t *testing.T) {
	require.False(t, VerbosityVerbose.IsVeryVerbose())
	require.True(t, VerbosityVeryVerbose.IsVeryVerbose())
	require.True(t, VerbosityDebug.IsVeryVerbose())
	require.True(t, VerbosityDebug.IsDebug())
	require.Less(t, VerbosityQuiet, VerbosityNormal)
}
