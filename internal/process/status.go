package process

// State represents where a handle is in its lifecycle.
type State int

const (
	// StatePending indicates the handle was built but not started.
	StatePending State = iota
	// StateRunning indicates the child process is running.
	StateRunning
	// StateExited indicates the child exited on its own, with any code.
	StateExited
	// StateTimedOut indicates the child was terminated at its deadline.
	StateTimedOut
	// StateKilled indicates the child was terminated by a signal or cancellation.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateTimedOut:
		return "timed_out"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the child can no longer produce output.
func (s State) IsTerminal() bool {
	return s == StateExited || s == StateTimedOut || s == StateKilled
}

// Stream identifies which output stream a chunk came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// String returns the stream name.
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is one read from a child output stream.
type Chunk struct {
	Stream Stream
	Data   []byte
}
