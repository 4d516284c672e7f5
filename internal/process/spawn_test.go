package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ferry/internal/cachemanager"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

// runToEnd drains h until it finishes and returns all chunks in order.
func runToEnd(t *testing.T, h *Handle) []Chunk {
	t.Helper()
	var chunks []Chunk
	collect := func(c Chunk) { chunks = append(chunks, c) }
	timeout := time.After(10 * time.Second)
	for {
		h.Drain(collect)
		select {
		case <-h.Done():
			h.Drain(collect)
			return chunks
		case <-h.Notify():
		case <-timeout:
			t.Fatal("process did not finish")
		}
	}
}

func joined(chunks []Chunk, stream Stream) string {
	var b strings.Builder
	for _, c := range chunks {
		if c.Stream == stream {
			b.Write(c.Data)
		}
	}
	return b.String()
}

func TestSpawnBuilder_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewSpawnBuilder(ctx).Build()
	require.ErrorContains(t, err, "command is empty")

	_, err = NewSpawnBuilder(ctx).WithCommand(Args("true")).WithTTY(true).WithPTY(true).Build()
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestSpawnBuilder_BuildIsPending(t *testing.T) {
	h, err := NewSpawnBuilder(context.Background()).
		WithCommand(Args("echo", "hi")).
		WithWorkDir(os.TempDir()).
		WithEnv([]string{"A=1"}).
		Build()
	require.NoError(t, err)

	require.Equal(t, StatePending, h.State())
	require.Equal(t, -1, h.ExitCode())
	require.Equal(t, -1, h.PID())
	require.Equal(t, -1, h.Wait(), "waiting on a pending handle does not block")
	require.Equal(t, "echo", h.Label())
	require.Equal(t, []string{"A=1"}, h.Env())
	require.Equal(t, os.TempDir(), h.Dir())
	require.ErrorIs(t, h.Kill(), ErrNotStarted)
	require.Len(t, h.ID(), 36)
}

func TestHandle_CapturesStreamsSeparately(t *testing.T) {
	skipOnWindows(t)

	h, err := NewSpawnBuilder(context.Background()).
		WithCommand(Shell("echo out; echo err >&2; echo more")).
		Build()
	require.NoError(t, err)
	require.NoError(t, h.Start())
	require.Error(t, h.Start(), "second start fails")

	chunks := runToEnd(t, h)

	require.Equal(t, "out\nmore\n", joined(chunks, Stdout))
	require.Equal(t, "err\n", joined(chunks, Stderr))
	require.Equal(t, "out\nmore\n", string(h.Stdout()))
	require.Equal(t, "err\n", string(h.Stderr()))
	require.Equal(t, 0, h.Wait())
	require.Equal(t, StateExited, h.State())
	require.False(t, h.EndedAt().Before(h.StartedAt()))
	require.NoError(t, h.Err())
}

func TestHandle_NonZeroExit(t *testing.T) {
	skipOnWindows(t)

	h, err := NewSpawnBuilder(context.Background()).WithCommand(Shell("exit 3")).Build()
	require.NoError(t, err)
	require.NoError(t, h.Start())

	require.Equal(t, 3, h.Wait())
	require.Equal(t, StateExited, h.State())
	require.False(t, h.IsRunning())
}

func TestHandle_Timeout(t *testing.T) {
	skipOnWindows(t)

	h, err := NewSpawnBuilder(context.Background()).
		WithCommand(Args("sleep", "5")).
		WithTimeout(50 * time.Millisecond).
		Build()
	require.NoError(t, err)
	require.NoError(t, h.Start())

	code := h.Wait()
	require.NotEqual(t, 0, code)
	require.Equal(t, StateTimedOut, h.State())
	require.ErrorIs(t, h.Err(), ErrTimeout)
	require.Less(t, h.Duration(), 4*time.Second)
}

func TestHandle_KilledByCancel(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := NewSpawnBuilder(ctx).WithCommand(Args("sleep", "5")).Build()
	require.NoError(t, err)
	require.NoError(t, h.Start())
	require.Greater(t, h.PID(), 0)

	cancel()
	h.Wait()
	require.Equal(t, StateKilled, h.State())
	require.ErrorIs(t, h.Err(), context.Canceled)
}

func TestHandle_StartFailure(t *testing.T) {
	h, err := NewSpawnBuilder(context.Background()).
		WithCommand(Args("/definitely/not/here")).
		Build()
	require.NoError(t, err)
	require.Error(t, h.Start())
	require.Equal(t, StatePending, h.State())
}

func TestHandle_CommandFactory(t *testing.T) {
	skipOnWindows(t)

	var gotName string
	h, err := NewSpawnBuilder(context.Background()).
		WithCommand(Args("anything", "x")).
		WithCommandFactory(func(ctx context.Context, name string, args ...string) *exec.Cmd {
			gotName = name
			return exec.CommandContext(ctx, "echo", args...)
		}).
		Build()
	require.NoError(t, err)
	require.NoError(t, h.Start())

	chunks := runToEnd(t, h)
	require.Equal(t, "anything", gotName)
	require.Equal(t, "x\n", joined(chunks, Stdout))
}

func TestHandle_PTY(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("pty is linux only")
	}
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skip("no /dev/ptmx")
	}

	h, err := NewSpawnBuilder(context.Background()).
		WithCommand(Shell("test -t 1 && echo tty")).
		WithPTY(true).
		Build()
	require.NoError(t, err)
	require.NoError(t, h.Start())

	chunks := runToEnd(t, h)
	require.Equal(t, 0, h.ExitCode())
	require.Contains(t, joined(chunks, Stdout), "tty")
}

func TestCachedResolver(t *testing.T) {
	skipOnWindows(t)

	cache := cachemanager.NewInMemoryCacheManager[string, string]("exec", time.Minute, time.Minute)
	r := NewCachedResolver(cache, time.Minute)

	path, err := r.LookPath("sh")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "/sh"))
	require.Equal(t, 1, cache.Len())

	_, err = r.LookPath("sh")
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	abs, err := r.LookPath("/bin/sh")
	require.NoError(t, err)
	require.Equal(t, "/bin/sh", abs)

	_, err = r.LookPath("ferry-no-such-binary")
	require.True(t, errors.Is(err, exec.ErrNotFound))

	_, err = NewSpawnBuilder(context.Background()).
		WithCommand(Args("ferry-no-such-binary")).
		WithResolver(r).
		Build()
	require.ErrorIs(t, err, exec.ErrNotFound)
}
