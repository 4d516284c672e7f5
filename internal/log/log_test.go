package log

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ferry/internal/testutil"
)

func TestDisabledUntilInit(t *testing.T) {
	require.Nil(t, current())
	require.Nil(t, NewListener(context.Background()))

	// Must not panic.
	Info(CatRun, "nobody listens")
}

func TestFormat(t *testing.T) {
	var buf testutil.SyncBuffer
	cleanup := InitWriter(&buf)
	defer cleanup()

	Notice(CatRun, "Command finished with an error", "exit", 3, "label", "make")

	line := buf.String()
	require.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2} \[NOTICE\] \[run\] Command finished with an error exit=3 label=make\n$`, line)
}

func TestOddFields(t *testing.T) {
	var buf testutil.SyncBuffer
	cleanup := InitWriter(&buf)
	defer cleanup()

	Debug(CatWait, "poll", "attempt")
	require.True(t, strings.HasSuffix(buf.String(), "poll attempt=<missing>\n"))
}

func TestErrorErr(t *testing.T) {
	var buf testutil.SyncBuffer
	cleanup := InitWriter(&buf)
	defer cleanup()

	ErrorErr(CatSignal, "handler failed", errors.New("boom"), "signal", "interrupt")
	ErrorErr(CatSignal, "handler failed", nil)

	out := buf.String()
	require.Contains(t, out, "[ERROR] [signal] handler failed signal=interrupt error=boom")
	require.Contains(t, out, "error=<nil>")
}

func TestMinLevelAndEnabled(t *testing.T) {
	var buf testutil.SyncBuffer
	cleanup := InitWriter(&buf)
	defer cleanup()

	SetMinLevel(LevelWarn)
	Info(CatConfig, "hidden")
	Notice(CatConfig, "hidden too")
	Warn(CatConfig, "shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "[WARN] [config] shown")

	buf.Reset()
	SetEnabled(false)
	Error(CatConfig, "off")
	require.Empty(t, buf.String())

	SetEnabled(true)
	Error(CatConfig, "on")
	require.Contains(t, buf.String(), "on")
}

func TestLevelString(t *testing.T) {
	require.Equal(t, "DEBUG", LevelDebug.String())
	require.Equal(t, "INFO", LevelInfo.String())
	require.Equal(t, "NOTICE", LevelNotice.String())
	require.Equal(t, "WARN", LevelWarn.String())
	require.Equal(t, "ERROR", LevelError.String())
	require.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNewListener(t *testing.T) {
	cleanup := InitWriter(nil)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := NewListener(ctx)
	require.NotNil(t, ch)

	Info(CatCache, "hit", "key", "sh")

	select {
	case ev := <-ch:
		require.Contains(t, ev.Payload, "[INFO] [cache] hit key=sh")
	case <-time.After(time.Second):
		t.Fatal("no log event")
	}
}

func TestInit_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	cleanup, err := Init(path)
	require.NoError(t, err)
	Info(CatTrace, "first")
	cleanup()

	cleanup, err = Init(path)
	require.NoError(t, err)
	Info(CatTrace, "second")
	cleanup()
	install(nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "first")
	require.Contains(t, string(data), "second")
}

func TestInit_BadPath(t *testing.T) {
	_, err := Init(filepath.Join(t.TempDir(), "missing", "debug.log"))
	require.Error(t, err)
}

func TestInitWithTeaLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	cleanup, err := InitWithTeaLog(path, "ferry")
	require.NoError(t, err)
	Warn(CatOutput, "styled")
	cleanup()
	install(nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "[WARN] [output] styled")
}
