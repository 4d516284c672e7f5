package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ferry/internal/lifecycle"
	"github.com/zjrosen/ferry/internal/process"
	"github.com/zjrosen/ferry/internal/pubsub"
	"github.com/zjrosen/ferry/internal/testutil"
)

func terminated(label string, state process.State, code int, d time.Duration) pubsub.Event[lifecycle.Event] {
	return pubsub.Event[lifecycle.Event]{
		Type:      lifecycle.ProcessTerminated,
		Payload:   lifecycle.Event{Label: label, State: state, ExitCode: code, Duration: d},
		Timestamp: time.Now(),
	}
}

func started(label string) pubsub.Event[lifecycle.Event] {
	return pubsub.Event[lifecycle.Event]{
		Type:      lifecycle.ProcessStarted,
		Payload:   lifecycle.Event{Label: label, State: process.StateRunning, ExitCode: -1},
		Timestamp: time.Now(),
	}
}

func TestCollector_Record(t *testing.T) {
	c := NewCollector()
	for _, l := range []string{"make", "make", "curl", "sleep", "kill"} {
		c.Record(started(l))
	}
	c.Record(terminated("make", process.StateExited, 0, time.Second))
	c.Record(terminated("make", process.StateExited, 2, 500*time.Millisecond))
	c.Record(terminated("curl", process.StateExited, 0, 2*time.Second))
	c.Record(terminated("sleep", process.StateTimedOut, 143, 3*time.Second))

	m := c.Snapshot()
	require.Equal(t, 5, m.Started)
	require.Equal(t, 2, m.Succeeded)
	require.Equal(t, 1, m.Failed)
	require.Equal(t, 1, m.TimedOut)
	require.Equal(t, 0, m.Killed)
	require.Equal(t, 1, m.Running())
	require.Equal(t, 6500*time.Millisecond, m.TotalDuration)
	require.Equal(t, "sleep", m.LongestLabel)
	require.Equal(t, 50.0, m.SuccessRate())

	require.Equal(t, CommandMetrics{Runs: 2, Failures: 1, TotalDuration: 1500 * time.Millisecond, LastExitCode: 2}, m.ByCommand["make"])
	require.Equal(t, []string{"curl", "make", "sleep"}, c.Labels())

	require.Equal(t, "5 started, 2 succeeded, 1 failed, 1 timed out in 6.5s (longest: sleep 3s)", c.FormatSummary())
}

func TestCollector_SnapshotIsolated(t *testing.T) {
	c := NewCollector()
	c.Record(terminated("a", process.StateExited, 0, time.Millisecond))

	snap := c.Snapshot()
	snap.ByCommand["a"] = CommandMetrics{Runs: 99}

	require.Equal(t, 1, c.Snapshot().ByCommand["a"].Runs)
}

func TestRunMetrics_Formatting(t *testing.T) {
	tests := []struct {
		name    string
		m       RunMetrics
		rate    float64
		display string
		summary string
	}{
		{
			name:    "empty",
			display: "-",
			summary: "0 started, 0 succeeded, 0 failed in -",
		},
		{
			name:    "killed only",
			m:       RunMetrics{Started: 1, Killed: 1, TotalDuration: 1234567 * time.Microsecond},
			display: "1.235s",
			summary: "1 started, 0 succeeded, 0 failed, 1 killed in 1.235s",
		},
		{
			name:    "all good",
			m:       RunMetrics{Started: 4, Succeeded: 4, TotalDuration: 40 * time.Millisecond, Longest: 20 * time.Millisecond, LongestLabel: "go"},
			rate:    100,
			display: "40ms",
			summary: "4 started, 4 succeeded, 0 failed in 40ms (longest: go 20ms)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.rate, tt.m.SuccessRate())
			require.Equal(t, tt.display, tt.m.FormatDurationDisplay())
			require.Equal(t, tt.summary, tt.m.FormatSummary())
		})
	}
}

func TestCollector_AttachConsumesBus(t *testing.T) {
	testutil.SkipOnWindows(t)

	bus := lifecycle.NewBus()
	c := NewCollector()
	done := c.Attach(context.Background(), bus)

	h, err := process.NewSpawnBuilder(context.Background()).WithCommand(process.Shell("exit 1")).Build()
	require.NoError(t, err)
	require.NoError(t, h.Start())
	bus.PublishStart(h)
	code := h.Wait()
	bus.PublishTerminate(h, code)

	bus.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop after bus closed")
	}

	m := c.Snapshot()
	require.Equal(t, 1, m.Started)
	require.Equal(t, 1, m.Failed)
	require.Equal(t, 1, m.ByCommand["exit"].Runs)
}
