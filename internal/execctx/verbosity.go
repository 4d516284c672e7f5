package execctx

import (
	"fmt"
	"strings"
)

// Verbosity is the ordered output detail level of a run.
type Verbosity int

const (
	VerbosityQuiet Verbosity = iota
	VerbosityNormal
	VerbosityVerbose
	VerbosityVeryVerbose
	VerbosityDebug
)

// String returns the config spelling of the level.
func (v Verbosity) String() string {
	switch v {
	case VerbosityQuiet:
		return "quiet"
	case VerbosityNormal:
		return "normal"
	case VerbosityVerbose:
		return "verbose"
	case VerbosityVeryVerbose:
		return "very_verbose"
	case VerbosityDebug:
		return "debug"
	default:
		return fmt.Sprintf("verbosity(%d)", int(v))
	}
}

// IsVerbose reports v >= VerbosityVerbose.
func (v Verbosity) IsVerbose() bool { return v >= VerbosityVerbose }

// IsVeryVerbose reports v >= VerbosityVeryVerbose.
func (v Verbosity) IsVeryVerbose() bool { return v >= VerbosityVeryVerbose }

// IsDebug reports v >= VerbosityDebug.
func (v Verbosity) IsDebug() bool { return v >= VerbosityDebug }

// ParseVerbosity accepts the String spellings plus the -v/-vv/-vvv shorthands.
// An empty string is VerbosityNormal.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quiet", "q":
		return VerbosityQuiet, nil
	case "", "normal":
		return VerbosityNormal, nil
	case "verbose", "v":
		return VerbosityVerbose, nil
	case "very_verbose", "very-verbose", "vv":
		return VerbosityVeryVerbose, nil
	case "debug", "vvv":
		return VerbosityDebug, nil
	default:
		return VerbosityNormal, fmt.Errorf("unknown verbosity %q", s)
	}
}
