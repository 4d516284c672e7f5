package presentation

import (
	"maps"
	"slices"

	"github.com/zjrosen/ferry/internal/execctx"
)

// ContextDTO represents an execution context for presentation.
type ContextDTO struct {
	Name             string            `json:"name"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Environment      map[string]string `json:"environment"`
	TimeoutSeconds   float64           `json:"timeout_seconds,omitempty"`
	TTY              bool              `json:"tty"`
	PTY              bool              `json:"pty"`
	Quiet            bool              `json:"quiet"`
	AllowFailure     bool              `json:"allow_failure"`
	Notify           bool              `json:"notify"`
	Verbosity        string            `json:"verbosity"`
}

// FromContext converts an execution context to a DTO.
func FromContext(c execctx.Context) ContextDTO {
	env := c.Environment()
	if env == nil {
		env = map[string]string{}
	}
	return ContextDTO{
		Name:             c.Name(),
		WorkingDirectory: c.WorkingDirectory(),
		Environment:      env,
		TimeoutSeconds:   c.Timeout().Seconds(),
		TTY:              c.TTY(),
		PTY:              c.PTY(),
		Quiet:            c.Quiet(),
		AllowFailure:     c.AllowFailure(),
		Notify:           c.Notify(),
		Verbosity:        c.Verbosity().String(),
	}
}

// FromRegistry converts every registered context, sorted by name.
func FromRegistry(reg *execctx.Registry) ([]ContextDTO, error) {
	names := reg.Names()
	slices.Sort(names)

	dtos := make([]ContextDTO, 0, len(names))
	for _, name := range names {
		c, err := reg.Get(name)
		if err != nil {
			return nil, err
		}
		dtos = append(dtos, FromContext(c))
	}
	return dtos, nil
}

// EnvironmentKeys returns the sorted overlay keys of d.
func (d ContextDTO) EnvironmentKeys() []string {
	return slices.Sorted(maps.Keys(d.Environment))
}
