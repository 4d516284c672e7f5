// Package waitfor repeatedly probes a condition until it holds, fails for
// good, or a deadline passes.
//
// A probe is a Check returning NotReady, Ready or Failed. Ready ends the wait
// successfully. Failed ends it at once with ErrExitedBeforeTimeout. A
// deadline passing while the check stays NotReady ends it with
// ErrTimeoutReached. The sleep between polls goes through sched.Sleep, so a
// waiting cooperative task hands the worker to its siblings.
package waitfor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/ferry/internal/log"
	"github.com/zjrosen/ferry/internal/sched"
	"github.com/zjrosen/ferry/internal/tracing"
)

// Defaults used when an Engine field is zero.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTimeout      = 10 * time.Second
)

// Status is the result of one probe.
type Status int

const (
	NotReady Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case NotReady:
		return "not_ready"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Check probes the condition once. A non-nil error with NotReady is kept as
// the last cause and the wait continues.
type Check func(ctx context.Context) (Status, error)

// Sleeper pauses between polls.
type Sleeper func(ctx context.Context, d time.Duration) error

// Engine runs checks. The zero value is usable.
type Engine struct {
	Poll     time.Duration
	Timeout  time.Duration
	Progress io.Writer
	Tracer   trace.Tracer
	Sleeper  Sleeper
	Client   *http.Client
}

type settings struct {
	timeout time.Duration
	poll    time.Duration
	message string
	kind    string
	target  string
}

// Option adjusts a single Wait call.
type Option func(*settings)

// WithTimeout bounds the polling loop. It never stops what a check started.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithPollInterval sets the pause between polls.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) { s.poll = d }
}

// WithMessage prints msg to the engine's Progress writer while waiting.
func WithMessage(msg string) Option {
	return func(s *settings) { s.message = msg }
}

func withProbe(kind, target string) Option {
	return func(s *settings) {
		s.kind = kind
		s.target = target
	}
}

// Wait polls check until it is Ready, Failed or the timeout passes. The
// returned error is a *Error for both failure outcomes, or ctx.Err() when
// ctx ends first.
func (e *Engine) Wait(ctx context.Context, check Check, opts ...Option) error {
	s := settings{timeout: e.Timeout, poll: e.Poll, kind: "custom"}
	for _, opt := range opts {
		opt(&s)
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	sleep := e.Sleeper
	if sleep == nil {
		sleep = sched.Sleep
	}

	ctx, span := tracing.OrNoop(e.Tracer).Start(ctx, tracing.SpanPrefixWait+s.kind,
		trace.WithAttributes(
			attribute.String(tracing.AttrWaitKind, s.kind),
			attribute.String(tracing.AttrWaitTarget, s.target),
		))
	defer span.End()

	p := e.startProgress(s.message)
	log.Debug(log.CatWait, "waiting", "kind", s.kind, "target", s.target, "timeout", s.timeout, "poll", s.poll)

	start := time.Now()
	deadline := start.Add(s.timeout)
	var cause error
	polls := 0

	for {
		polls++
		status, err := probe(ctx, check, deadline)
		if err != nil && status != Ready {
			cause = err
		}
		span.AddEvent(tracing.EventWaitPoll, trace.WithAttributes(attribute.String("status", status.String())))

		var werr *Error
		switch {
		case status == Ready:
			span.SetAttributes(attribute.Int(tracing.AttrWaitPolls, polls), attribute.String(tracing.AttrWaitOutcome, Success.String()))
			span.SetStatus(codes.Ok, "")
			p.finish(true)
			log.Debug(log.CatWait, "ready", "kind", s.kind, "target", s.target, "polls", polls, "elapsed", time.Since(start))
			return nil
		case status == Failed:
			werr = &Error{Outcome: ExitedBeforeTimeout, Message: s.message, Elapsed: time.Since(start), Polls: polls, Cause: cause}
		case !time.Now().Before(deadline):
			werr = &Error{Outcome: TimeoutReached, Message: s.message, Elapsed: time.Since(start), Polls: polls, Cause: cause}
		}
		if werr != nil {
			span.SetAttributes(attribute.Int(tracing.AttrWaitPolls, polls), attribute.String(tracing.AttrWaitOutcome, werr.Outcome.String()))
			tracing.Fail(span, werr, werr.Outcome.String())
			p.finish(false)
			log.Warn(log.CatWait, "wait failed", "kind", s.kind, "target", s.target, "outcome", werr.Outcome, "polls", polls, "cause", cause)
			return werr
		}

		if err := sleep(ctx, min(s.poll, time.Until(deadline))); err != nil {
			p.finish(false)
			tracing.Fail(span, err, "cancelled")
			return fmt.Errorf("waiting for %s: %w", s.kind, err)
		}
	}
}

// probe runs one check bounded by the wait deadline.
func probe(ctx context.Context, check Check, deadline time.Time) (Status, error) {
	attemptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return check(attemptCtx)
}

type progress struct {
	w      io.Writer
	ok     lipgloss.Style
	failed lipgloss.Style
}

func (e *Engine) startProgress(msg string) *progress {
	if e.Progress == nil || msg == "" {
		return &progress{}
	}
	r := lipgloss.NewRenderer(e.Progress)
	_, _ = io.WriteString(e.Progress, msg)
	return &progress{
		w:      e.Progress,
		ok:     r.NewStyle().Foreground(lipgloss.Color("2")),
		failed: r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

func (p *progress) finish(ok bool) {
	if p.w == nil {
		return
	}
	if ok {
		_, _ = io.WriteString(p.w, " "+p.ok.Render("OK")+"\n")
	} else {
		_, _ = io.WriteString(p.w, " "+p.failed.Render("FAILED")+"\n")
	}
	p.w = nil
}
