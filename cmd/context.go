package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/ferry/internal/config"
	"github.com/zjrosen/ferry/internal/execctx"
	"github.com/zjrosen/ferry/internal/presentation"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage named execution contexts",
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured execution contexts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := config.BuildRegistry(cfg)
		if err != nil {
			return err
		}
		if ctxListJSON {
			dtos, err := presentation.FromRegistry(reg)
			if err != nil {
				return err
			}
			return presentation.NewFormatter(cmd.OutOrStdout()).FormatContexts(dtos)
		}
		return printContexts(cmd.OutOrStdout(), reg)
	},
}

var ctxListJSON bool

var (
	ctxSetEnv          []string
	ctxSetCwd          string
	ctxSetTimeout      string
	ctxSetQuiet        bool
	ctxSetAllowFailure bool
	ctxSetTTY          bool
	ctxSetPTY          bool
	ctxSetNotify       bool
	ctxSetVerbosity    string
)

var contextSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or replace a named context in the config file",
	Long: `Create or replace a named context. Only the given flags are stored;
everything else is inherited from the default context.

Example:
  ferry context set ci --timeout 10m --quiet --env CI=1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := contextFromFlags(cmd)
		if err != nil {
			return err
		}
		path := configPath()
		if err := config.SaveContext(path, args[0], cc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved context %q to %s\n", args[0], path)
		return nil
	},
}

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a named context from the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if err := config.DeleteContext(path, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted context %q from %s\n", args[0], path)
		return nil
	},
}

func init() {
	contextListCmd.Flags().BoolVar(&ctxListJSON, "json", false, "print contexts as JSON")

	f := contextSetCmd.Flags()
	f.StringArrayVarP(&ctxSetEnv, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringVar(&ctxSetCwd, "cwd", "", "working directory")
	f.StringVar(&ctxSetTimeout, "timeout", "", "timeout (duration or seconds)")
	f.BoolVar(&ctxSetQuiet, "quiet", false, "capture output without displaying it")
	f.BoolVar(&ctxSetAllowFailure, "allow-failure", false, "return failures instead of raising them")
	f.BoolVar(&ctxSetTTY, "tty", false, "attach commands to the terminal")
	f.BoolVar(&ctxSetPTY, "pty", false, "run commands on a pseudo-terminal")
	f.BoolVar(&ctxSetNotify, "notify", false, "notify when commands finish")
	f.StringVar(&ctxSetVerbosity, "verbosity", "", "quiet, normal, verbose, very_verbose or debug")

	contextCmd.AddCommand(contextListCmd, contextSetCmd, contextDeleteCmd)
	rootCmd.AddCommand(contextCmd)
}

// configPath is the file context set/delete edit.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	if cfgFile != "" {
		return cfgFile
	}
	return LocalConfigPath
}

func contextFromFlags(cmd *cobra.Command) (config.ContextConfig, error) {
	f := cmd.Flags()
	var cc config.ContextConfig

	if len(ctxSetEnv) > 0 {
		env, err := parseEnv(ctxSetEnv)
		if err != nil {
			return cc, err
		}
		cc.Environment = env
	}
	cc.WorkingDirectory = ctxSetCwd
	if f.Changed("timeout") {
		if _, err := config.ParseTimeout(ctxSetTimeout); err != nil {
			return cc, fmt.Errorf("--timeout: %w", err)
		}
		cc.Timeout = ctxSetTimeout
	}
	boolFlag := func(name string, v bool) *bool {
		if !f.Changed(name) {
			return nil
		}
		return &v
	}
	cc.Quiet = boolFlag("quiet", ctxSetQuiet)
	cc.AllowFailure = boolFlag("allow-failure", ctxSetAllowFailure)
	cc.TTY = boolFlag("tty", ctxSetTTY)
	cc.PTY = boolFlag("pty", ctxSetPTY)
	cc.Notify = boolFlag("notify", ctxSetNotify)
	cc.Verbosity = ctxSetVerbosity
	return cc, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// printContexts writes one row per context, default first.
func printContexts(w io.Writer, reg *execctx.Registry) error {
	names := reg.Names()
	slices.SortFunc(names, func(a, b string) int {
		switch {
		case a == execctx.DefaultName:
			return -1
		case b == execctx.DefaultName:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})

	rows := [][]string{{"NAME", "DIR", "TIMEOUT", "ENV", "OPTIONS"}}
	for _, name := range names {
		c, err := reg.Get(name)
		if err != nil {
			return err
		}
		rows = append(rows, []string{name, orDash(c.WorkingDirectory()), timeoutText(c), envText(c), optionsText(c)})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	for r, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			styled := cell
			switch {
			case r == 0:
				styled = headerStyle.Render(cell)
			case i == 0:
				styled = nameStyle.Render(cell)
			}
			b.WriteString(styled)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		if _, err := fmt.Fprintln(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func timeoutText(c execctx.Context) string {
	if c.Timeout() <= 0 {
		return "-"
	}
	return c.Timeout().String()
}

func envText(c execctx.Context) string {
	env := c.Environment()
	if len(env) == 0 {
		return "-"
	}
	return strings.Join(slices.Sorted(maps.Keys(env)), ",")
}

func optionsText(c execctx.Context) string {
	var opts []string
	for _, o := range []struct {
		on   bool
		name string
	}{
		{c.TTY(), "tty"},
		{c.PTY(), "pty"},
		{c.Quiet(), "quiet"},
		{c.AllowFailure(), "allow-failure"},
		{c.Notify(), "notify"},
	} {
		if o.on {
			opts = append(opts, o.name)
		}
	}
	if c.Verbosity() != execctx.VerbosityNormal {
		opts = append(opts, "verbosity="+c.Verbosity().String())
	}
	if len(opts) == 0 {
		return "-"
	}
	return strings.Join(opts, " ")
}
