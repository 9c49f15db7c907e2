package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vramsply/internal/auth"
)

func newAuthCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Manage vram.supply credentials"}

	var headless bool
	login := &cobra.Command{
		Use:   "login",
		Short: "Log in to vram.supply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := fnSignalCtx(cmd.Context())
			defer stop()
			spin := newSpinner(g.Err, "Waiting for authorization...")
			spin.Start()
			_, err = auth.Login(ctx, authOptions(g, cfg, auth.NewStore(cfg.HomeDir), headless, log))
			spin.Stop()
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			okColor.Fprintln(g.Out, "Logged in.")
			return nil
		},
	}
	login.Flags().BoolVar(&headless, "headless", false, "Use the device-code flow instead of a browser")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the active credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			fmt.Fprintln(g.Out, auth.Describe(cfg.APIKey, auth.NewStore(cfg.HomeDir), time.Now()))
			return nil
		},
	}

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			removed, err := auth.NewStore(cfg.HomeDir).Clear()
			if err != nil {
				return err
			}
			if removed {
				okColor.Fprintln(g.Out, "Logged out.")
			} else {
				fmt.Fprintln(g.Out, "Not logged in.")
			}
			return nil
		},
	}

	cmd.AddCommand(login, status, logout)
	return cmd
}
