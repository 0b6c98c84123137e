package cmd

import (
	"fmt"
	"sort"

	"github.com/petervdpas/voyage/internal/client"

	"github.com/spf13/cobra"
)

func newRolesCmd(g *globalFlags) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "roles [session]",
		Short: "Show which roles of a session are taken",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.clientConfig()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.Client.ServerURL = serverURL
			}
			key := cfg.Session.DefaultKey
			if len(args) == 1 {
				key = args[0]
			}

			roles, err := client.NewAPI(cfg.Client.ServerURL, nil).Roles(cmd.Context(), key)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(roles))
			for r := range roles {
				names = append(names, r)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "session %s\n", key)
			for _, r := range names {
				state := "open"
				if roles[r] {
					state = "occupied"
				}
				_, _ = fmt.Fprintf(out, "  %-12s %s\n", r, state)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (overrides client.server_url)")
	return cmd
}
