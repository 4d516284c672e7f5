package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ferry/internal/process"
	"github.com/zjrosen/ferry/internal/pubsub"
	"github.com/zjrosen/ferry/internal/testutil"
)

func startedHandle(t *testing.T) *process.Handle {
	t.Helper()
	testutil.SkipOnWindows(t)
	h, err := process.NewSpawnBuilder(context.Background()).
		WithCommand(process.Shell("exit 2")).
		WithLabel("two").
		Build()
	require.NoError(t, err)
	require.NoError(t, h.Start())
	h.Wait()
	return h
}

func next(t *testing.T, ch <-chan pubsub.Event[Event]) pubsub.Event[Event] {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return pubsub.Event[Event]{}
}

func TestBus_PublishesStartAndTerminate(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Subscribe(ctx)
	require.Equal(t, 1, bus.Subscribers())

	h := startedHandle(t)
	bus.PublishStart(h)
	bus.PublishTerminate(h, h.ExitCode())

	start := next(t, ch)
	require.Equal(t, ProcessStarted, start.Type)
	require.Equal(t, h.ID(), start.Payload.HandleID)
	require.Equal(t, "two", start.Payload.Label)
	require.Equal(t, "exit 2", start.Payload.CommandLine)

	end := next(t, ch)
	require.Equal(t, ProcessTerminated, end.Type)
	require.Equal(t, 2, end.Payload.ExitCode)
	require.Equal(t, process.StateExited, end.Payload.State)
}

func TestBus_CloseEndsSubscriptions(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(context.Background())
	bus.Close()

	_, ok := <-ch
	require.False(t, ok)

	h := startedHandle(t)
	require.NotPanics(t, func() { bus.PublishStart(h) })
}
