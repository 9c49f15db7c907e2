package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vramsply/internal/agent"
	"vramsply/internal/auth"
	"vramsply/internal/bus"
	"vramsply/internal/config"
	"vramsply/internal/identity"
	"vramsply/internal/verify"
)

func newServeCmd(g *globals) *cobra.Command {
	var (
		modelArg   string
		modelName  string
		hfRepo     string
		headless   bool
		skipVerify bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a local model as a vram.supply provider",
		Example: "  vramsply serve\n" +
			"  vramsply serve --model llama-3.1-8b-instruct-q4_k_m --hf-repo bartowski/Meta-Llama-3.1-8B-Instruct-GGUF",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			if hfRepo != "" {
				cfg.HFRepo = hfRepo
			}
			if cmd.Flags().Changed("skip-verify") {
				cfg.SkipVerify = skipVerify
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := fnSignalCtx(cmd.Context())
			defer stop()

			var mirror agent.PresenceSink
			if cfg.NATSURL != "" {
				m, err := bus.Connect(cfg.NATSURL, "vramsply", log)
				if err != nil {
					log.Warn().Err(err).Msg("presence mirror disabled")
				} else {
					defer m.Close()
					mirror = m
				}
			}

			store := auth.NewStore(cfg.HomeDir)
			opts := agent.Options{
				Config: cfg,
				Log:    log,
				Authenticate: func(ctx context.Context) (agent.Tokens, error) {
					ts, err := auth.EnsureAuthenticated(ctx, authOptions(g, cfg, store, headless, log))
					if err != nil {
						return nil, err
					}
					return ts, nil
				},
				Identity: func() (identity.Identity, error) { return identity.LoadOrCreate(cfg.HomeDir) },
				ResolveModel: func(ctx context.Context) (agent.Model, error) {
					return resolveModel(ctx, g, cfg, modelArg, modelName, log)
				},
				Mirror:        mirror,
				ProcessOutput: os.Stderr,
				OnReady:       func(r agent.ReadyInfo) { printReady(g, r) },
			}
			return fnRunAgent(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&modelArg, "model", "", "Model file path or name inside the model directory")
	cmd.Flags().StringVar(&modelName, "model-name", "", "Public model name (default derived from the file name)")
	cmd.Flags().StringVar(&hfRepo, "hf-repo", "", "HuggingFace repository to verify the model against")
	cmd.Flags().BoolVar(&headless, "headless", false, "Use the device-code login flow instead of a browser")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Skip model integrity verification")
	return cmd
}

func resolveModel(ctx context.Context, g *globals, cfg config.Config, arg, name string, log zerolog.Logger) (agent.Model, error) {
	spin := newSpinner(g.Err, "Verifying model integrity...")
	verifier := &verify.Verifier{
		HF:          verify.NewHFClient(cfg.HFBaseURL),
		Cache:       verify.NewCache(cfg.HomeDir, log),
		Log:         log,
		OnHashStart: func(string) { spin.Start() },
	}
	defer spin.Stop()
	return agent.ResolveModel(ctx, agent.ModelSpec{
		Dir:        cfg.ModelDir,
		Arg:        arg,
		Name:       name,
		HFRepo:     cfg.HFRepo,
		SkipVerify: cfg.SkipVerify,
		Verifier:   verifier,
	}, log)
}

func authOptions(g *globals, cfg config.Config, store *auth.Store, headless bool, log zerolog.Logger) auth.Options {
	return auth.Options{
		APIKey:     cfg.APIKey,
		Store:      store,
		OAuth:      auth.OAuthConfig(cfg.OAuth),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Headless:   headless,
		Out:        g.Out,
		OpenURL:    fnOpenURL,
		Log:        log,
	}
}

func printReady(g *globals, r agent.ReadyInfo) {
	okColor.Fprintln(g.Out, "vram.supply provider runtime is running. Press Ctrl+C to stop.")
	fmt.Fprintf(g.Out, "  %s %s\n", labelColor.Sprint("Model:      "), r.Model)
	fmt.Fprintf(g.Out, "  %s %s\n", labelColor.Sprint("Endpoint:   "), r.Endpoint)
	fmt.Fprintf(g.Out, "  %s %s\n", labelColor.Sprint("Instance ID:"), r.InstanceID)
	if r.StatusAddr != "" {
		fmt.Fprintf(g.Out, "  %s http://%s/status\n", labelColor.Sprint("Status:     "), r.StatusAddr)
	}
}
