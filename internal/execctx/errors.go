package execctx

import "errors"

// ErrNoContext is returned when no default context has been established for
// the run.
var ErrNoContext = errors.New("no execution context has been established")

// ErrConfiguration matches every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports mutually exclusive or duplicated options. It is
// always raised before a process is spawned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Is makes errors.Is(err, ErrConfiguration) true.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
