// Package config provides configuration types, defaults and loading for ferry.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/ferry/internal/execctx"
	"github.com/zjrosen/ferry/internal/log"
	"github.com/zjrosen/ferry/internal/tracing"
)

// EnvPrefix is prepended to every environment override, e.g.
// FERRY_WAIT_TIMEOUT=30s.
const EnvPrefix = "FERRY"

// Config holds all configuration options for ferry.
type Config struct {
	Context  ContextConfig            `mapstructure:"context"`
	Contexts map[string]ContextConfig `mapstructure:"contexts"`
	Wait     WaitConfig               `mapstructure:"wait"`
	Output   OutputConfig             `mapstructure:"output"`
	Tracing  tracing.Config           `mapstructure:"tracing"`
	Flags    map[string]bool          `mapstructure:"flags"`
}

// ContextConfig describes an execution context. Unset fields inherit from
// the context it is layered on.
type ContextConfig struct {
	Environment      map[string]string `mapstructure:"environment" yaml:"environment,omitempty"`
	WorkingDirectory string            `mapstructure:"working_directory" yaml:"working_directory,omitempty"`
	TTY              *bool             `mapstructure:"tty" yaml:"tty,omitempty"`
	PTY              *bool             `mapstructure:"pty" yaml:"pty,omitempty"`
	// Timeout is a Go duration ("90s") or a number of seconds ("1.5").
	Timeout      string `mapstructure:"timeout" yaml:"timeout,omitempty"`
	Quiet        *bool  `mapstructure:"quiet" yaml:"quiet,omitempty"`
	AllowFailure *bool  `mapstructure:"allow_failure" yaml:"allow_failure,omitempty"`
	Notify       *bool  `mapstructure:"notify" yaml:"notify,omitempty"`
	// Verbosity is one of quiet, normal, verbose, very_verbose, debug.
	Verbosity string `mapstructure:"verbosity" yaml:"verbosity,omitempty"`
}

// WaitConfig holds readiness probe defaults.
type WaitConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// Endpoint is the target used when a URL probe is given none.
	// $ENDPOINT takes precedence.
	Endpoint string `mapstructure:"endpoint"`
}

// OutputConfig holds display options.
type OutputConfig struct {
	// Live shows the animated status line. Nil means "when stderr is a
	// terminal".
	Live *bool `mapstructure:"live"`
	// Prefix labels every line, even with a single process running.
	Prefix  bool `mapstructure:"prefix"`
	NoColor bool `mapstructure:"no_color"`
}

// ParseTimeout reads a timeout as a Go duration or as seconds.
// The empty string means no timeout.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("timeout must not be negative, got %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative, got %q", s)
	}
	return d, nil
}

// Apply layers cc onto base.
func (cc ContextConfig) Apply(base execctx.Context) (execctx.Context, error) {
	c := base
	if len(cc.Environment) > 0 {
		c = c.WithEnvironment(cc.Environment)
	}
	if cc.WorkingDirectory != "" {
		c = c.WithWorkingDirectory(cc.WorkingDirectory)
	}
	if cc.TTY != nil {
		c = c.WithTTY(*cc.TTY)
	}
	if cc.PTY != nil {
		c = c.WithPTY(*cc.PTY)
	}
	if cc.Timeout != "" {
		d, err := ParseTimeout(cc.Timeout)
		if err != nil {
			return base, err
		}
		c = c.WithTimeout(d)
	}
	if cc.Quiet != nil {
		c = c.WithQuiet(*cc.Quiet)
	}
	if cc.AllowFailure != nil {
		c = c.WithAllowFailure(*cc.AllowFailure)
	}
	if cc.Notify != nil {
		c = c.WithNotify(*cc.Notify)
	}
	if cc.Verbosity != "" {
		v, err := execctx.ParseVerbosity(cc.Verbosity)
		if err != nil {
			return base, err
		}
		c = c.WithVerbosity(v)
	}
	if err := c.Validate(); err != nil {
		return base, err
	}
	return c, nil
}

// BuildRegistry creates the default context from cfg.Context and layers
// every named context on top of it.
func BuildRegistry(cfg Config) (*execctx.Registry, error) {
	def, err := cfg.Context.Apply(execctx.New())
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	reg := execctx.NewRegistry(def)

	names := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c, err := cfg.Contexts[name].Apply(def)
		if err != nil {
			return nil, fmt.Errorf("contexts.%s: %w", name, err)
		}
		if err := reg.Register(name, c); err != nil {
			return nil, fmt.Errorf("contexts.%s: %w", name, err)
		}
	}
	return reg, nil
}

// DefaultTracesFilePath returns ~/.config/ferry/traces/traces.jsonl, or ""
// if the home directory is unknown.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ferry", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Context: ContextConfig{Verbosity: execctx.VerbosityNormal.String()},
		Wait: WaitConfig{
			PollInterval: 100 * time.Millisecond,
			Timeout:      10 * time.Second,
		},
		Tracing: tc,
	}
}

// Validate checks every section.
func Validate(cfg Config) error {
	if err := ValidateContext("context", cfg.Context); err != nil {
		return err
	}
	for name, cc := range cfg.Contexts {
		if name == "" || name == execctx.DefaultName {
			return fmt.Errorf("contexts: %q is not a valid context name", name)
		}
		if err := ValidateContext("contexts."+name, cc); err != nil {
			return err
		}
	}
	if err := ValidateWait(cfg.Wait); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateContext checks a single context section.
func ValidateContext(path string, cc ContextConfig) error {
	if _, err := ParseTimeout(cc.Timeout); err != nil {
		return fmt.Errorf("%s.timeout: %w", path, err)
	}
	if cc.Verbosity != "" {
		if _, err := execctx.ParseVerbosity(cc.Verbosity); err != nil {
			return fmt.Errorf("%s.verbosity: %w", path, err)
		}
	}
	if cc.WorkingDirectory != "" && !filepath.IsAbs(cc.WorkingDirectory) && strings.HasPrefix(cc.WorkingDirectory, "~") {
		return fmt.Errorf("%s.working_directory: ~ is not expanded, use an absolute path", path)
	}
	isTrue := func(b *bool) bool { return b != nil && *b }
	if isTrue(cc.TTY) && isTrue(cc.PTY) {
		return fmt.Errorf("%s: tty and pty cannot both be enabled", path)
	}
	if isTrue(cc.Quiet) && (isTrue(cc.TTY) || isTrue(cc.PTY)) {
		return fmt.Errorf("%s: quiet cannot be combined with tty or pty", path)
	}
	return nil
}

// ValidateWait checks the wait section. Zero values use defaults.
func ValidateWait(w WaitConfig) error {
	if w.PollInterval < 0 {
		return fmt.Errorf("wait.poll_interval must not be negative, got %s", w.PollInterval)
	}
	if w.Timeout < 0 {
		return fmt.Errorf("wait.timeout must not be negative, got %s", w.Timeout)
	}
	if w.Timeout > 0 && w.PollInterval > w.Timeout {
		return fmt.Errorf("wait.poll_interval (%s) must not exceed wait.timeout (%s)", w.PollInterval, w.Timeout)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}
	switch tc.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
	}
	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// SetDefaults registers Defaults() on v so unset keys and FERRY_ overrides
// resolve.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("context.verbosity", d.Context.Verbosity)
	v.SetDefault("wait.poll_interval", d.Wait.PollInterval)
	v.SetDefault("wait.timeout", d.Wait.Timeout)
	v.SetDefault("wait.endpoint", d.Wait.Endpoint)
	v.SetDefault("output.prefix", d.Output.Prefix)
	v.SetDefault("output.no_color", d.Output.NoColor)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads the file configured on v (if any), applies defaults and FERRY_
// environment overrides, and validates the result. A missing config file is
// not an error.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "no config file, using defaults")
	} else {
		log.Debug(log.CatConfig, "loaded config", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if path := v.ConfigFileUsed(); path != "" {
		if err := restoreEnvironmentKeys(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfigTemplate returns a commented YAML config for new users.
func DefaultConfigTemplate() string {
	return `# Ferry Configuration

# Default execution context, used by every command unless --context picks
# one of the named contexts below.
context:
  # environment:             # Variables layered over the parent environment
  #   APP_ENV: dev
  # working_directory: /srv/app
  # timeout: 60s             # Go duration or seconds; empty means unbounded
  # tty: false               # Attach to this terminal (output not captured)
  # pty: false               # Run on a pseudo-terminal
  # quiet: false             # Capture output without displaying it
  # allow_failure: false     # Return non-zero exits instead of failing
  # notify: false            # Notify when the command finishes
  verbosity: normal          # quiet, normal, verbose, very_verbose or debug

# Named contexts inherit every unset field from "context" above.
# contexts:
#   ci:
#     quiet: true
#     timeout: 10m
#   dev:
#     environment:
#       APP_ENV: dev
#     allow_failure: true

# Readiness probes (ferry wait ...)
wait:
  poll_interval: 100ms
  timeout: 10s
  # endpoint: http://127.0.0.1:8080   # Default target, overridden by $ENDPOINT

# Output display
output:
  # live: true               # Status line; default: only when stderr is a terminal
  prefix: false              # Label every line even with one process running
  no_color: false

# Process tracing (OpenTelemetry)
tracing:
  enabled: false
  exporter: file             # none, file, stdout or otlp
  # file_path: ~/.config/ferry/traces/traces.jsonl
  # otlp_endpoint: localhost:4317
  sample_rate: 1.0

# Feature flags
# flags:
#   live-output: true
#   process-tracing: false
`
}

// WriteDefaultConfig creates a config file with default settings.
// Creates parent directories if they don't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

// restoreEnvironmentKeys re-reads the environment maps straight from the
// file, since viper lowercases every map key.
func restoreEnvironmentKeys(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user config path
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}

	type envOnly struct {
		Environment map[string]string `yaml:"environment"`
	}
	var raw struct {
		Context  envOnly            `yaml:"context"`
		Contexts map[string]envOnly `yaml:"contexts"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if raw.Context.Environment != nil {
		cfg.Context.Environment = raw.Context.Environment
	}
	for name, c := range raw.Contexts {
		cc, ok := cfg.Contexts[name]
		if !ok || c.Environment == nil {
			continue
		}
		cc.Environment = c.Environment
		cfg.Contexts[name] = cc
	}
	return nil
}
