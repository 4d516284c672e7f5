package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ferry/internal/app"
	"github.com/zjrosen/ferry/internal/waitfor"
)

var (
	waitTimeout  time.Duration
	waitInterval time.Duration
	waitMessage  string
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for a service or file to become ready",
	Long: `Poll a readiness check until it succeeds, fails for good, or times out.

Defaults come from the wait section of the config. URL targets default to
$ENDPOINT, then wait.endpoint.

Examples:
  ferry wait port localhost 5432 --timeout 30s
  ferry wait url http://localhost:8080/health
  ferry wait status http://localhost:8080/ready 204
  ferry wait file ./tmp/server.pid`,
}

var waitPortCmd = &cobra.Command{
	Use:   "port <host> <port>",
	Short: "Wait until a TCP port accepts connections",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[1])
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[1])
		}
		return withEngine(cmd, func(ctx context.Context, e *waitfor.Engine, opts []waitfor.Option) error {
			return e.WaitForPort(ctx, args[0], port, opts...)
		})
	},
}

var waitURLCmd = &cobra.Command{
	Use:   "url [url]",
	Short: "Wait until a URL answers with a 2xx status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := endpointArg(args)
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *waitfor.Engine, opts []waitfor.Option) error {
			return e.WaitForURL(ctx, url, opts...)
		})
	},
}

var waitStatusCmd = &cobra.Command{
	Use:   "status [url] <code>",
	Short: "Wait until a URL answers with a given status code",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := strconv.Atoi(args[len(args)-1])
		if err != nil || code < 100 || code > 599 {
			return fmt.Errorf("invalid status code %q", args[len(args)-1])
		}
		url, err := endpointArg(args[:len(args)-1])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *waitfor.Engine, opts []waitfor.Option) error {
			return e.WaitForHTTPStatus(ctx, url, code, opts...)
		})
	},
}

var waitFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Wait until a file exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *waitfor.Engine, opts []waitfor.Option) error {
			return e.WaitForFile(ctx, args[0], opts...)
		})
	},
}

func init() {
	pf := waitCmd.PersistentFlags()
	pf.DurationVar(&waitTimeout, "timeout", 0, "give up after this long (default: wait.timeout)")
	pf.DurationVar(&waitInterval, "interval", 0, "pause between checks (default: wait.poll_interval)")
	pf.StringVarP(&waitMessage, "message", "m", "", "progress message printed while waiting")

	waitCmd.AddCommand(waitPortCmd, waitURLCmd, waitStatusCmd, waitFileCmd)
	rootCmd.AddCommand(waitCmd)
}

func endpointArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if url := waitfor.DefaultEndpoint(cfg.Wait.Endpoint); url != "" {
		return url, nil
	}
	return "", fmt.Errorf("no URL given and neither $%s nor wait.endpoint is set", waitfor.EndpointEnv)
}

// withEngine builds an app for its readiness engine and runs fn with the
// options taken from the wait flags.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *waitfor.Engine, opts []waitfor.Option) error) error {
	a, err := app.New(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	}()

	var opts []waitfor.Option
	if waitTimeout > 0 {
		opts = append(opts, waitfor.WithTimeout(waitTimeout))
	}
	if waitInterval > 0 {
		opts = append(opts, waitfor.WithPollInterval(waitInterval))
	}
	if waitMessage != "" {
		opts = append(opts, waitfor.WithMessage(waitMessage))
	}
	return fn(cmd.Context(), a.Wait, opts)
}
