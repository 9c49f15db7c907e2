// Package cli implements the vramsply command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vramsply/internal/agent"
	"vramsply/internal/config"
	"vramsply/internal/version"
)

// Hooks replaced in tests.
var (
	fnRunAgent  = func(ctx context.Context, o agent.Options) error { return agent.New(o).Run(ctx) }
	fnOpenURL   = openBrowser
	fnSignalCtx = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	}
)

// globals holds persistent flags and output streams.
type globals struct {
	ConfigPath string
	LogLevel   string
	Out        io.Writer
	Err        io.Writer
}

// MainWithArgs runs the CLI and returns the process exit code: 0 on
// success, 1 on error, 2 when no command was given.
func MainWithArgs(args []string) int {
	return run(args, os.Stdout, os.Stderr)
}

func run(args []string, out, errOut io.Writer) int {
	g := &globals{Out: out, Err: errOut}
	root := buildRootCmd(g)
	if len(args) == 0 {
		root.SetOut(errOut)
		_ = root.Usage()
		return 2
	}
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.Execute(); err != nil {
		printError(errOut, err)
		return 1
	}
	return 0
}

func buildRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "vramsply",
		Short:         "vram.supply provider agent",
		Long:          "vramsply turns a local llama-server into a managed vram.supply provider.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.ConfigPath, "config", os.Getenv("VRAM_SUPPLY_CONFIG"), "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().StringVar(&g.LogLevel, "log-level", "", "Log level: trace|debug|info|warn|error (defaults VRAM_SUPPLY_LOG_LEVEL or info)")

	root.AddCommand(
		newServeCmd(g),
		newAuthCmd(g),
		newModelsCmd(g),
		newStatusCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print the agent version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(g.Out, "vramsply %s\n", version.Version)
			},
		},
	)
	return root
}

// load resolves configuration: defaults, then the config file, then
// VRAM_SUPPLY_* variables, then --log-level. Command flags are applied by
// each command afterwards.
func (g *globals) load() (config.Config, zerolog.Logger, error) {
	boot := newLogger(g.Err, firstNonEmpty(g.LogLevel, os.Getenv("VRAM_SUPPLY_LOG_LEVEL"), "info"))
	cfg := config.Default()
	if g.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(g.ConfigPath); err != nil {
			return cfg, boot, fmt.Errorf("load config: %w", err)
		}
	}
	config.ApplyEnv(&cfg, boot)
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if err := cfg.Normalize(); err != nil {
		return cfg, boot, err
	}
	return cfg, newLogger(g.Err, cfg.LogLevel), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func printError(w io.Writer, err error) {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(w, "interrupted")
		return
	}
	errorColor.Fprintf(w, "Error: %v\n", err)
}
