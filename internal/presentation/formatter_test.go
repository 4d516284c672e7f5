package presentation

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ferry/internal/execctx"
	"github.com/zjrosen/ferry/internal/metrics"
)

func TestFromContext(t *testing.T) {
	c := execctx.New().
		WithName("ci").
		WithEnvironment(map[string]string{"B": "2", "A": "1"}).
		WithTimeout(90 * time.Second).
		WithQuiet(true)

	dto := FromContext(c)
	require.Equal(t, "ci", dto.Name)
	require.Equal(t, 90.0, dto.TimeoutSeconds)
	require.True(t, dto.Quiet)
	require.Equal(t, "normal", dto.Verbosity)
	require.Equal(t, []string{"A", "B"}, dto.EnvironmentKeys())
}

func TestFormatContexts(t *testing.T) {
	reg := execctx.NewRegistry(execctx.New())
	require.NoError(t, reg.Register("ci", execctx.New().WithAllowFailure(true)))

	dtos, err := FromRegistry(reg)
	require.NoError(t, err)
	require.Len(t, dtos, 2)
	require.Equal(t, "ci", dtos[0].Name)
	require.Equal(t, "default", dtos[1].Name)

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).FormatContexts(dtos))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, true, decoded[0]["allow_failure"])
	require.Equal(t, map[string]any{}, decoded[1]["environment"], "empty overlay is an object, not null")
	require.NotContains(t, decoded[1], "timeout_seconds")
}

func TestFormatMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.RunMetrics{Started: 2, Succeeded: 1, Failed: 1}

	require.NoError(t, NewFormatter(&buf).FormatMetrics(m))
	require.Contains(t, buf.String(), "\n  ")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, 2.0, decoded["started"])
	require.Equal(t, 1.0, decoded["failed"])
}
