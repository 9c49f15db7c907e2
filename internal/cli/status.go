package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"vramsply/internal/auth"
	"vramsply/internal/models"
	"vramsply/pkg/types"
)

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credentials, local models and the running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			labelColor.Fprintln(g.Out, "Auth")
			fmt.Fprintf(g.Out, "  %s\n", auth.Describe(cfg.APIKey, auth.NewStore(cfg.HomeDir), time.Now()))

			labelColor.Fprintln(g.Out, "Models")
			local, err := models.List(cfg.ModelDir)
			switch {
			case err != nil:
				warnColor.Fprintf(g.Out, "  %v\n", err)
			case len(local) == 0:
				fmt.Fprintf(g.Out, "  none in %s\n", cfg.ModelDir)
			default:
				for _, m := range local {
					fmt.Fprintf(g.Out, "  %s (%s)\n", m.Name, models.FormatSize(m.SizeBytes))
				}
			}

			labelColor.Fprintln(g.Out, "Agent")
			if cfg.StatusAddr == "" {
				fmt.Fprintln(g.Out, "  status server disabled")
				return nil
			}
			st, err := fetchStatus(cmd.Context(), cfg.StatusAddr)
			if err != nil {
				dimColor.Fprintf(g.Out, "  not running (%v)\n", err)
				return nil
			}
			printAgentStatus(g, st)
			return nil
		},
	}
}

func fetchStatus(ctx context.Context, addr string) (types.StatusResponse, error) {
	var st types.StatusResponse
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("status endpoint returned HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func printAgentStatus(g *globals, st types.StatusResponse) {
	p := st.Presence
	c := okColor
	switch p.Status {
	case "degraded", "loading_model", "idle":
		c = warnColor
	case "error", "unavailable":
		c = errorColor
	}
	fmt.Fprintf(g.Out, "  presence:    %s\n", c.Sprint(p.Status))
	if p.CurrentModel != nil {
		fmt.Fprintf(g.Out, "  model:       %s\n", *p.CurrentModel)
	}
	fmt.Fprintf(g.Out, "  active:      %d\n", p.ActiveRequests)
	if p.ErrorCode != nil {
		msg := ""
		if p.ErrorMessage != nil {
			msg = *p.ErrorMessage
		}
		fmt.Fprintf(g.Out, "  error:       %s %s\n", *p.ErrorCode, msg)
	}
	if st.InstanceID != "" {
		fmt.Fprintf(g.Out, "  instance id: %s\n", st.InstanceID)
	}
	fmt.Fprintf(g.Out, "  endpoint:    %s\n", st.EndpointURL)
	fmt.Fprintf(g.Out, "  llama:       running=%v\n", st.LlamaRunning)
	fmt.Fprintf(g.Out, "  uptime:      %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
}
