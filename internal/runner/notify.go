package runner

import (
	"context"

	"github.com/zjrosen/ferry/internal/log"
)

// Notifier delivers a human-readable completion message.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, msg string) error { return f(ctx, msg) }

// LogNotifier writes notifications to the log at info level.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, msg string) error {
	log.Info(log.CatRun, msg)
	return nil
}
