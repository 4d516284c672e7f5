// Package presentation renders ferry data for machine consumption.
package presentation

import (
	"encoding/json"
	"io"

	"github.com/zjrosen/ferry/internal/metrics"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatContexts formats a list of contexts as JSON
func (f *Formatter) FormatContexts(contexts []ContextDTO) error {
	return f.encode(contexts)
}

// FormatMetrics formats run metrics as JSON
func (f *Formatter) FormatMetrics(m metrics.RunMetrics) error {
	return f.encode(m)
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
