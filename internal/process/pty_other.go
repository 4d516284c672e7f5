//go:build !linux

package process

import (
	"errors"
	"os"
	"os/exec"
)

// ErrPTYUnsupported is returned when pseudo-terminals are not available.
var ErrPTYUnsupported = errors.New("pty is not supported on this platform")

func startPTY(*exec.Cmd) (*os.File, error) {
	return nil, ErrPTYUnsupported
}
