package cmd

import (
	"fmt"

	"github.com/petervdpas/voyage/internal/app"
	"github.com/petervdpas/voyage/internal/config"

	"github.com/spf13/cobra"
)

func newInitCmd(g *globalFlags) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file if none exists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfgPath, err := g.paths()
			if err != nil {
				return err
			}
			cfg, created, err := config.Ensure(cfgPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if interactive {
				cfg = app.PromptInteractive(cmd.InOrStdin(), out, cfgPath, cfg)
				if err := config.Save(cfgPath, cfg); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Saved %s\n", cfgPath)
				return nil
			}

			if created {
				_, _ = fmt.Fprintf(out, "Created %s\n", cfgPath)
			} else {
				_, _ = fmt.Fprintf(out, "Config already present: %s\n", cfgPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "ask for the common settings")
	return cmd
}
