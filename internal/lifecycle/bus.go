// Package lifecycle publishes process start and termination events to
// interested subscribers such as metrics and notifications.
package lifecycle

import (
	"context"
	"time"

	"github.com/zjrosen/ferry/internal/log"
	"github.com/zjrosen/ferry/internal/process"
	"github.com/zjrosen/ferry/internal/pubsub"
)

// Event types published on the bus.
const (
	ProcessStarted    pubsub.EventType = "process.started"
	ProcessTerminated pubsub.EventType = "process.terminated"
)

// Event describes one process transition. Fields are copied from the handle
// at publish time so subscribers never touch the handle itself.
type Event struct {
	HandleID    string
	Label       string
	CommandLine string
	PID         int
	State       process.State
	ExitCode    int
	Duration    time.Duration
	At          time.Time
}

// Bus is the per-run lifecycle event channel.
type Bus struct {
	broker *pubsub.Broker[Event]
}

// NewBus creates an open bus.
func NewBus() *Bus {
	return &Bus{broker: pubsub.NewBroker[Event]()}
}

// PublishStart announces that h is running.
func (b *Bus) PublishStart(h *process.Handle) {
	ev := snapshot(h)
	log.Debug(log.CatRun, "publish start", "id", ev.HandleID, "label", ev.Label, "pid", ev.PID)
	b.broker.Publish(ProcessStarted, ev)
}

// PublishTerminate announces that h finished with code.
func (b *Bus) PublishTerminate(h *process.Handle, code int) {
	ev := snapshot(h)
	ev.ExitCode = code
	log.Debug(log.CatRun, "publish terminate", "id", ev.HandleID, "exit", code, "state", ev.State)
	b.broker.Publish(ProcessTerminated, ev)
}

// Subscribe returns a channel of events closed when ctx ends or the bus closes.
func (b *Bus) Subscribe(ctx context.Context) <-chan pubsub.Event[Event] {
	return b.broker.Subscribe(ctx)
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	return b.broker.SubscriberCount()
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() {
	b.broker.Close()
}

func snapshot(h *process.Handle) Event {
	return Event{
		HandleID:    h.ID(),
		Label:       h.Label(),
		CommandLine: h.CommandLine(),
		PID:         h.PID(),
		State:       h.State(),
		ExitCode:    h.ExitCode(),
		Duration:    h.Duration(),
		At:          time.Now(),
	}
}
