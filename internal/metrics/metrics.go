// Package metrics aggregates process lifecycle events into run statistics.
package metrics

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/ferry/internal/lifecycle"
	"github.com/zjrosen/ferry/internal/process"
	"github.com/zjrosen/ferry/internal/pubsub"
)

// CommandMetrics holds counters for one command label.
type CommandMetrics struct {
	Runs          int           `json:"runs"`
	Failures      int           `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
	LastExitCode  int           `json:"last_exit_code"`
}

// RunMetrics holds the aggregate view of every process in a run.
type RunMetrics struct {
	Started   int `json:"started"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Killed    int `json:"killed"`

	TotalDuration time.Duration `json:"total_duration"`
	Longest       time.Duration `json:"longest"`
	LongestLabel  string        `json:"longest_label"`

	ByCommand map[string]CommandMetrics `json:"by_command"`

	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Running returns how many started processes have not terminated yet.
func (m RunMetrics) Running() int {
	return m.Started - m.Terminated()
}

// Terminated returns how many processes finished in any way.
func (m RunMetrics) Terminated() int {
	return m.Succeeded + m.Failed + m.TimedOut + m.Killed
}

// SuccessRate returns the percentage of terminated processes that exited 0.
func (m RunMetrics) SuccessRate() float64 {
	if m.Terminated() == 0 {
		return 0
	}
	return float64(m.Succeeded) / float64(m.Terminated()) * 100
}

// FormatDurationDisplay returns the total process time (e.g., "1.5s").
func (m RunMetrics) FormatDurationDisplay() string {
	if m.TotalDuration == 0 {
		return "-"
	}
	return m.TotalDuration.Round(time.Millisecond).String()
}

// FormatSummary returns a one-line human-readable summary.
func (m RunMetrics) FormatSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d started, %d succeeded, %d failed", m.Started, m.Succeeded, m.Failed)
	if m.TimedOut > 0 {
		fmt.Fprintf(&b, ", %d timed out", m.TimedOut)
	}
	if m.Killed > 0 {
		fmt.Fprintf(&b, ", %d killed", m.Killed)
	}
	fmt.Fprintf(&b, " in %s", m.FormatDurationDisplay())
	if m.LongestLabel != "" {
		fmt.Fprintf(&b, " (longest: %s %s)", m.LongestLabel, m.Longest.Round(time.Millisecond))
	}
	return b.String()
}

// Collector consumes lifecycle events.
type Collector struct {
	mu sync.Mutex
	m  RunMetrics
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{m: RunMetrics{ByCommand: make(map[string]CommandMetrics)}}
}

// Attach subscribes to bus until ctx ends or the bus closes. The returned
// channel closes once the subscription has been fully consumed.
func (c *Collector) Attach(ctx context.Context, bus *lifecycle.Bus) <-chan struct{} {
	return pubsub.Listen[lifecycle.Event](ctx, bus, c.Record)
}

// Record applies one event.
func (c *Collector) Record(ev pubsub.Event[lifecycle.Event]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := ev.Payload
	c.m.LastUpdatedAt = ev.Timestamp

	switch ev.Type {
	case lifecycle.ProcessStarted:
		c.m.Started++
	case lifecycle.ProcessTerminated:
		switch {
		case p.State == process.StateTimedOut:
			c.m.TimedOut++
		case p.State == process.StateKilled:
			c.m.Killed++
		case p.ExitCode == 0:
			c.m.Succeeded++
		default:
			c.m.Failed++
		}
		c.m.TotalDuration += p.Duration
		if p.Duration > c.m.Longest {
			c.m.Longest = p.Duration
			c.m.LongestLabel = p.Label
		}

		cm := c.m.ByCommand[p.Label]
		cm.Runs++
		if p.ExitCode != 0 {
			cm.Failures++
		}
		cm.TotalDuration += p.Duration
		cm.LastExitCode = p.ExitCode
		c.m.ByCommand[p.Label] = cm
	}
}

// Snapshot returns a copy of the current metrics.
func (c *Collector) Snapshot() RunMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.m
	m.ByCommand = maps.Clone(c.m.ByCommand)
	return m
}

// FormatSummary summarises the current metrics.
func (c *Collector) FormatSummary() string {
	return c.Snapshot().FormatSummary()
}

// Labels returns the command labels seen so far, sorted.
func (c *Collector) Labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.m.ByCommand))
}
