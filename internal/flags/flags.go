// Package flags provides feature flag support for controlled feature rollout.
// Flags are read-only after initialization and provide safe defaults for unknown flags.
package flags

import (
	"maps"

	"github.com/zjrosen/ferry/internal/log"
)

// Flag name constants for type-safe flag access.
const (
	// FlagLiveOutput controls the animated status line while processes run.
	// output.live still decides per run; this switches the feature off entirely.
	FlagLiveOutput = "live-output"

	// FlagProcessTracing forces tracing on with the configured exporter even
	// when tracing.enabled is false.
	FlagProcessTracing = "process-tracing"

	// FlagLookupCache controls whether executable lookups are cached.
	FlagLookupCache = "lookup-cache"
)

// Defaults lists the value of every known flag when config does not set it.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagLiveOutput:     true,
		FlagProcessTracing: false,
		FlagLookupCache:    true,
	}
}

// Registry holds feature flag state loaded from configuration.
// Flags are read-only after initialization.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map layered over Defaults().
func New(flags map[string]bool) *Registry {
	merged := Defaults()
	maps.Copy(merged, flags)
	r := &Registry{flags: merged}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(merged), "flags", r.All())
	return r
}

// Enabled returns true if the named flag is enabled.
// Returns false for unknown flags (safe default).
// Returns false when called on nil registry (nil-safe).
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of all flags (for debugging/logging).
// Returns an empty map if the registry is nil.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	return maps.Clone(r.flags)
}
