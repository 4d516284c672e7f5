package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		registry *Registry
		flag     string
		expected bool
	}{
		{
			name:     "default on",
			registry: New(nil),
			flag:     FlagLiveOutput,
			expected: true,
		},
		{
			name:     "default off",
			registry: New(nil),
			flag:     FlagProcessTracing,
			expected: false,
		},
		{
			name:     "config overrides default",
			registry: New(map[string]bool{FlagLiveOutput: false, FlagProcessTracing: true}),
			flag:     FlagLiveOutput,
			expected: false,
		},
		{
			name:     "custom flag set to true",
			registry: New(map[string]bool{"feature-a": true}),
			flag:     "feature-a",
			expected: true,
		},
		{
			name:     "unknown flag returns false",
			registry: New(map[string]bool{"feature-a": true}),
			flag:     "unknown-flag",
			expected: false,
		},
		{
			name:     "nil registry returns false",
			registry: nil,
			flag:     FlagLookupCache,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.registry.Enabled(tt.flag))
		})
	}
}

func TestRegistry_All(t *testing.T) {
	r := New(map[string]bool{FlagLookupCache: false, "extra": true})

	require.Equal(t, map[string]bool{
		FlagLiveOutput:     true,
		FlagProcessTracing: false,
		FlagLookupCache:    false,
		"extra":            true,
	}, r.All())

	var nilRegistry *Registry
	require.Equal(t, map[string]bool{}, nilRegistry.All())
}

func TestRegistry_All_ReturnsDefensiveCopy(t *testing.T) {
	r := New(map[string]bool{"feature-a": true})

	copied := r.All()
	copied["feature-a"] = false
	copied["new-flag"] = true

	require.True(t, r.Enabled("feature-a"), "registry should not be affected by copy mutation")
	require.False(t, r.Enabled("new-flag"), "registry should not have new flags from copy mutation")
}

func TestNew_DoesNotAliasInput(t *testing.T) {
	in := map[string]bool{"feature-a": true}
	r := New(in)

	in["feature-a"] = false
	require.True(t, r.Enabled("feature-a"))
}
