// Package pubsub provides a generic publish/subscribe event system.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	CreatedEvent    EventType = "created"
	StartedEvent    EventType = "started"
	TerminatedEvent EventType = "terminated"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}

// Listen consumes events from sub on a new goroutine and calls fn for each
// one until ctx is cancelled or the subscription closes. The returned channel
// is closed once the goroutine exits.
func Listen[T any](ctx context.Context, sub Subscriber[T], fn func(Event[T])) <-chan struct{} {
	ch := sub.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				fn(ev)
			}
		}
	}()
	return done
}
