package waitfor

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/ferry/internal/sched"
	"github.com/zjrosen/ferry/internal/tracing"
)

func TestWait_ReadyOnThirdPoll(t *testing.T) {
	var calls int
	check := func(context.Context) (Status, error) {
		calls++
		if calls == 3 {
			return Ready, nil
		}
		return NotReady, nil
	}

	e := &Engine{}
	err := e.Wait(context.Background(), check, WithTimeout(time.Second), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWait_TimeoutReached(t *testing.T) {
	if testing.Short() {
		t.Skip("takes two seconds")
	}
	var calls int
	check := func(context.Context) (Status, error) {
		calls++
		return NotReady, nil
	}

	e := &Engine{}
	start := time.Now()
	err := e.Wait(context.Background(), check, WithTimeout(2*time.Second), WithPollInterval(500*time.Millisecond))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeoutReached)
	require.NotErrorIs(t, err, ErrExitedBeforeTimeout)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, TimeoutReached, werr.Outcome)
	require.Equal(t, calls, werr.Polls)
	require.InDelta(t, 2*time.Second, elapsed, float64(500*time.Millisecond))
}

func TestWait_FailedExitsImmediately(t *testing.T) {
	var calls int
	refused := errors.New("service exited")
	check := func(context.Context) (Status, error) {
		calls++
		return Failed, refused
	}

	e := &Engine{}
	start := time.Now()
	err := e.Wait(context.Background(), check, WithTimeout(time.Minute))

	require.ErrorIs(t, err, ErrExitedBeforeTimeout)
	require.ErrorIs(t, err, refused)
	require.Equal(t, 1, calls)
	require.Less(t, time.Since(start), time.Second)
}

func TestWait_KeepsLastCause(t *testing.T) {
	first := errors.New("first")
	last := errors.New("last")
	var calls int
	check := func(context.Context) (Status, error) {
		calls++
		if calls == 1 {
			return NotReady, first
		}
		return NotReady, last
	}

	e := &Engine{Sleeper: func(context.Context, time.Duration) error { return nil }}
	err := e.Wait(context.Background(), check, WithTimeout(20*time.Millisecond), WithMessage("db"))

	require.ErrorIs(t, err, last)
	require.NotErrorIs(t, err, first)
	require.Contains(t, err.Error(), "db: timeout reached after")
}

func TestWait_SleepBoundedByDeadline(t *testing.T) {
	var sleeps []time.Duration
	e := &Engine{
		Sleeper: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			time.Sleep(d)
			return nil
		},
	}
	err := e.Wait(context.Background(), func(context.Context) (Status, error) { return NotReady, nil },
		WithTimeout(150*time.Millisecond), WithPollInterval(100*time.Millisecond))

	require.ErrorIs(t, err, ErrTimeoutReached)
	require.GreaterOrEqual(t, len(sleeps), 2)
	require.Equal(t, 100*time.Millisecond, sleeps[0])
	require.Less(t, sleeps[1], 100*time.Millisecond)
}

func TestWait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	check := func(context.Context) (Status, error) {
		cancel()
		return NotReady, nil
	}

	e := &Engine{}
	err := e.Wait(ctx, check, WithTimeout(time.Minute))
	require.ErrorIs(t, err, context.Canceled)
	var werr *Error
	require.False(t, errors.As(err, &werr))
}

func TestWait_Progress(t *testing.T) {
	var out bytes.Buffer
	e := &Engine{Progress: &out}

	require.NoError(t, e.Wait(context.Background(), func(context.Context) (Status, error) { return Ready, nil },
		WithMessage("Waiting for db...")))
	require.Equal(t, "Waiting for db... OK\n", out.String())

	out.Reset()
	_ = e.Wait(context.Background(), func(context.Context) (Status, error) { return Failed, nil },
		WithMessage("Waiting for api..."))
	require.Equal(t, "Waiting for api... FAILED\n", out.String())

	out.Reset()
	require.NoError(t, e.Wait(context.Background(), func(context.Context) (Status, error) { return Ready, nil }))
	require.Empty(t, out.String(), "no message, no progress")
}

func TestWait_Tracing(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	e := &Engine{Tracer: tracing.NewProviderWithExporter(tracing.Config{}, exp).Tracer()}

	_ = e.Wait(context.Background(), func(context.Context) (Status, error) { return Failed, nil })

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "waitfor.custom", spans[0].Name)
	require.Equal(t, codes.Error, spans[0].Status.Code)
	require.Contains(t, spans[0].Attributes, attribute.String(tracing.AttrWaitOutcome, "exited_before_timeout"))
}

func TestWait_SuspendsCooperativeTask(t *testing.T) {
	s := sched.New()
	var progressed atomic.Int32
	stop := make(chan struct{})

	s.Go(context.Background(), "waiter", func(ctx context.Context) error {
		defer close(stop)
		e := &Engine{}
		return e.Wait(ctx, func(context.Context) (Status, error) {
			if progressed.Load() >= 3 {
				return Ready, nil
			}
			return NotReady, nil
		}, WithTimeout(5*time.Second), WithPollInterval(5*time.Millisecond))
	})
	s.Go(context.Background(), "worker", func(ctx context.Context) error {
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			progressed.Add(1)
			if err := sched.Sleep(ctx, time.Millisecond); err != nil {
				return err
			}
		}
	})

	require.NoError(t, s.Wait())
	require.GreaterOrEqual(t, progressed.Load(), int32(3))
}

func TestStatusAndOutcomeStrings(t *testing.T) {
	require.Equal(t, "not_ready", NotReady.String())
	require.Equal(t, "ready", Ready.String())
	require.Equal(t, "failed", Failed.String())
	require.Equal(t, "success", Success.String())
	require.Equal(t, "timeout_reached", TimeoutReached.String())
	require.Equal(t, "exited_before_timeout", ExitedBeforeTimeout.String())
}
