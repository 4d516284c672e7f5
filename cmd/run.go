package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zjrosen/ferry/internal/app"
	"github.com/zjrosen/ferry/internal/config"
	"github.com/zjrosen/ferry/internal/execctx"
	"github.com/zjrosen/ferry/internal/log"
	"github.com/zjrosen/ferry/internal/presentation"
	"github.com/zjrosen/ferry/internal/process"
	"github.com/zjrosen/ferry/internal/runner"
)

var (
	runContext      string
	runShell        []string
	runEnv          []string
	runCwd          string
	runTimeout      string
	runQuiet        bool
	runAllowFailure bool
	runTTY          bool
	runPTY          bool
	runNotify       bool
	runLive         bool
	runNoLive       bool
	runSummaryJSON  bool
	runParallel     bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- command args...]",
	Short: "Run one or more commands",
	Long: `Run external commands in the selected execution context.

Arguments after -- are executed directly. Every -c value is a shell line;
several -c values run concurrently and their output is prefixed with the
command name.

Exit status is the failing command's exit code, or 1 for any other error.

Examples:
  ferry run -- go test ./...
  ferry run --context ci --timeout 10m -- make release
  ferry run -c "npm run watch" -c "go run ./server"
  ferry run --env APP_ENV=dev --cwd ./web -- npm start`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runContext, "context", "", "named context from config (default: the default context)")
	f.StringArrayVarP(&runShell, "command", "c", nil, "shell line to run (repeatable; each runs concurrently)")
	f.StringArrayVarP(&runEnv, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringVar(&runCwd, "cwd", "", "working directory")
	f.StringVar(&runTimeout, "timeout", "", "kill the command after this long (duration or seconds)")
	f.BoolVarP(&runQuiet, "quiet", "q", false, "capture output without displaying it")
	f.BoolVar(&runAllowFailure, "allow-failure", false, "exit 0 even when a command fails")
	f.BoolVar(&runTTY, "tty", false, "attach the command to this terminal")
	f.BoolVar(&runPTY, "pty", false, "run the command on a pseudo-terminal")
	f.BoolVar(&runNotify, "notify", false, "notify when the command finishes")
	f.BoolVar(&runLive, "live", false, "show the status line even when stderr is not a terminal")
	f.BoolVar(&runNoLive, "no-live", false, "never show the status line")
	f.BoolVar(&runParallel, "parallel", true, "run -c commands concurrently; false runs them in order and stops at the first failure")
	f.BoolVar(&runSummaryJSON, "summary-json", false, "print run metrics as JSON to stderr when done")
	runCmd.MarkFlagsMutuallyExclusive("tty", "pty")
	runCmd.MarkFlagsMutuallyExclusive("live", "no-live")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cmds, err := buildCommands(runShell, args)
	if err != nil {
		return err
	}
	opts, err := runOptions(cmd)
	if err != nil {
		return err
	}

	runCfg := cfg
	switch {
	case runLive:
		on := true
		runCfg.Output.Live = &on
	case runNoLive:
		off := false
		runCfg.Output.Live = &off
	}

	a, err := app.New(runCfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	closed := false
	closeApp := func() {
		if closed {
			return
		}
		closed = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			log.ErrorErr(log.CatRun, "closing app", err)
		}
	}
	defer closeApp()

	ctx, err := a.Seed(cmd.Context(), runContext)
	if err != nil {
		return err
	}
	if verbosity > 0 {
		ctx, err = execctx.Update(ctx, func(c execctx.Context) execctx.Context {
			return c.WithVerbosity(cliVerbosity(verbosity))
		})
		if err != nil {
			return err
		}
	}
	if runTTY && !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Warn(log.CatRun, "tty requested but stdin is not a terminal")
	}

	if runParallel {
		_, err = a.RunAll(ctx, cmds, opts...)
	} else {
		for _, c := range cmds {
			if _, err = a.RunAll(ctx, []process.Command{c}, opts...); err != nil {
				break
			}
		}
	}

	// Close drains the lifecycle bus, so the summary sees every command.
	closeApp()
	switch {
	case runSummaryJSON:
		if ferr := presentation.NewFormatter(cmd.ErrOrStderr()).FormatMetrics(a.Metrics.Snapshot()); ferr != nil {
			log.ErrorErr(log.CatRun, "writing summary", ferr)
		}
	case verbosity > 0:
		fmt.Fprintln(cmd.ErrOrStderr(), a.Metrics.FormatSummary())
	}
	return err
}

// buildCommands turns -c lines and positional arguments into commands.
func buildCommands(shell []string, args []string) ([]process.Command, error) {
	var cmds []process.Command
	for _, line := range shell {
		if strings.TrimSpace(line) == "" {
			return nil, fmt.Errorf("empty --command")
		}
		cmds = append(cmds, process.Shell(line))
	}
	if len(args) > 0 {
		cmds = append(cmds, process.Args(args...))
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("nothing to run: pass a command after -- or use -c")
	}
	return cmds, nil
}

// runOptions maps explicitly set flags to runner overrides. Unset flags
// leave the context untouched.
func runOptions(cmd *cobra.Command) ([]runner.Option, error) {
	f := cmd.Flags()
	var opts []runner.Option

	if len(runEnv) > 0 {
		env, err := parseEnv(runEnv)
		if err != nil {
			return nil, err
		}
		opts = append(opts, runner.WithEnvironment(env))
	}
	if f.Changed("cwd") {
		opts = append(opts, runner.WithWorkingDirectory(runCwd))
	}
	if f.Changed("timeout") {
		d, err := config.ParseTimeout(runTimeout)
		if err != nil {
			return nil, fmt.Errorf("--timeout: %w", err)
		}
		opts = append(opts, runner.WithTimeout(d))
	}
	if f.Changed("quiet") {
		opts = append(opts, runner.WithQuiet(runQuiet))
	}
	if f.Changed("allow-failure") {
		opts = append(opts, runner.WithAllowFailure(runAllowFailure))
	}
	if f.Changed("tty") {
		opts = append(opts, runner.WithTTY(runTTY))
	}
	if f.Changed("pty") {
		opts = append(opts, runner.WithPTY(runPTY))
	}
	if f.Changed("notify") {
		opts = append(opts, runner.WithNotify(runNotify))
	}
	return opts, nil
}

// parseEnv reads KEY=VALUE pairs. Later pairs win.
func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q: expected KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}

// cliVerbosity maps the -v count.
func cliVerbosity(n int) execctx.Verbosity {
	switch {
	case n <= 0:
		return execctx.VerbosityNormal
	case n == 1:
		return execctx.VerbosityVerbose
	case n == 2:
		return execctx.VerbosityVeryVerbose
	default:
		return execctx.VerbosityDebug
	}
}
