package waitfor

import (
	"errors"
	"fmt"
	"time"
)

// Outcome classifies how a wait ended.
type Outcome int

const (
	Success Outcome = iota
	TimeoutReached
	ExitedBeforeTimeout
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TimeoutReached:
		return "timeout_reached"
	case ExitedBeforeTimeout:
		return "exited_before_timeout"
	default:
		return "unknown"
	}
}

// Sentinels matched with errors.Is against a *Error.
var (
	ErrTimeoutReached      = errors.New("timeout reached")
	ErrExitedBeforeTimeout = errors.New("exited before timeout")
)

// Error reports a failed wait.
type Error struct {
	Outcome Outcome
	Message string
	Elapsed time.Duration
	Polls   int
	// Cause is the last error returned by the check, if any.
	Cause error
}

func (e *Error) Error() string {
	subject := e.Message
	if subject == "" {
		subject = "condition"
	}
	msg := fmt.Sprintf("%s: %s after %s (%d polls)", subject, e.sentinel(), e.Elapsed.Round(time.Millisecond), e.Polls)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) sentinel() error {
	if e.Outcome == ExitedBeforeTimeout {
		return ErrExitedBeforeTimeout
	}
	return ErrTimeoutReached
}

// Unwrap exposes both the outcome sentinel and the last cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Cause}
}
