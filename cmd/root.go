package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/ferry/internal/config"
	"github.com/zjrosen/ferry/internal/log"
	"github.com/zjrosen/ferry/internal/runner"
)

// LocalConfigPath is checked before the user config.
const LocalConfigPath = ".ferry/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	verbosity int
	cfg       config.Config
	cfgErr    error

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "ferry",
	Short: "Run external commands concurrently with contexts, signals and readiness checks",
	Long: `ferry runs external commands with a layered execution context
(environment, working directory, timeout, terminal mode), multiplexes the
output of concurrently running commands, and waits for services to become
ready.

Examples:
  ferry run -- make build
  ferry run -c "npm run watch" -c "go run ./server"
  ferry wait port localhost 5432
  ferry wait url http://localhost:8080/health`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
			logCleanup = nil
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "C", "",
		"config file (default: "+LocalConfigPath+" or ~/.config/ferry/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write debug logs to $FERRY_LOG (default: debug.log)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"increase verbosity (-v verbose, -vv very verbose, -vvv debug)")
}

func initConfig() {
	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .ferry/config.yaml (current directory)
		// 2. ~/.config/ferry/config.yaml (user config)
		if _, err := os.Stat(LocalConfigPath); err == nil {
			v.SetConfigFile(LocalConfigPath)
		} else if home, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(home, ".config", "ferry", "config.yaml")
			if _, err := os.Stat(userPath); err != nil {
				// First run: leave a commented template behind. Failure
				// only means running on defaults.
				_ = config.WriteDefaultConfig(userPath)
			}
			v.AddConfigPath(filepath.Dir(userPath))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	cfg, cfgErr = config.Load(v)
}

// setupLogging enables the debug log and surfaces config errors before any
// command runs.
func setupLogging(cmd *cobra.Command, _ []string) error {
	if debugFlag || os.Getenv("FERRY_DEBUG") != "" {
		logPath := os.Getenv("FERRY_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.InitWithTeaLog(logPath, "ferry")
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
		log.Info(log.CatConfig, "ferry starting", "command", cmd.CommandPath(), "debug", true, "logPath", logPath)
	}
	return cfgErr
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// ExitCode maps an Execute error to the process exit status: 0 on success,
// the child's code for a failed command, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var failure *runner.ProcessFailure
	if errors.As(err, &failure) {
		if code := failure.ExitCode(); code > 0 && code < 256 {
			return code
		}
	}
	return 1
}
