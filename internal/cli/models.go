package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vramsply/internal/models"
	"vramsply/internal/verify"
)

func newModelsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "models", Short: "Manage local GGUF models"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List local models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			local, err := models.List(cfg.ModelDir)
			if err != nil {
				return err
			}
			if len(local) == 0 {
				fmt.Fprintf(g.Out, "No models in %s\n", cfg.ModelDir)
				dimColor.Fprintln(g.Out, "Download models with: vramsply models pull <hf_repo_id>")
				return nil
			}
			tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tPATH")
			for _, m := range local {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, models.FormatSize(m.SizeBytes), m.Path)
			}
			return tw.Flush()
		},
	}

	var file string
	pull := &cobra.Command{
		Use:     "pull <hf_repo_id>",
		Short:   "Download a GGUF model from HuggingFace",
		Example: "  vramsply models pull bartowski/Meta-Llama-3.1-8B-Instruct-GGUF --file Meta-Llama-3.1-8B-Instruct-Q4_K_M.gguf",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := fnSignalCtx(cmd.Context())
			defer stop()

			spin := newSpinner(g.Err, "Fetching file list...")
			p := &models.Puller{
				Dir: cfg.ModelDir,
				HF:  verify.NewHFClient(cfg.HFBaseURL),
				Log: log,
				OnProgress: func(done, total int64) {
					if total > 0 {
						setSuffix(spin, fmt.Sprintf("Downloading %s / %s (%d%%)", models.FormatSize(done), models.FormatSize(total), done*100/total))
						return
					}
					setSuffix(spin, "Downloading "+models.FormatSize(done))
				},
				OnVerify: func() { setSuffix(spin, "Verifying SHA-256...") },
			}
			spin.Start()
			dest, err := p.Pull(ctx, args[0], file)
			spin.Stop()
			var amb *models.AmbiguousFileError
			if errors.As(err, &amb) {
				warnColor.Fprintf(g.Out, "Multiple .gguf files in %s; choose one with --file:\n", amb.Repo)
				for _, f := range amb.Files {
					fmt.Fprintf(g.Out, "  %s (%s)\n", f.Path, models.FormatSize(f.Size))
				}
			}
			if err != nil {
				return err
			}
			okColor.Fprintf(g.Out, "Saved %s\n", dest)
			return nil
		},
	}
	pull.Flags().StringVar(&file, "file", "", "GGUF file to download when the repository has several")

	cmd.AddCommand(list, pull)
	return cmd
}
