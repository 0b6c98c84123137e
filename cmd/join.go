package cmd

import (
	"errors"
	"fmt"

	"github.com/petervdpas/voyage/internal/app"
	"github.com/petervdpas/voyage/internal/client"

	"github.com/spf13/cobra"
)

func newJoinCmd(g *globalFlags) *cobra.Command {
	var (
		serverURL  string
		session    string
		role       string
		voyageType string
		inventory  string
		player     string
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a session from the terminal",
		Long:  "join connects as one role. Each input line is sent to the session; agent replies are narrated in order. Type /quit or end input to leave.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.clientConfig()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.Client.ServerURL = serverURL
			}
			if player != "" {
				cfg.Client.Player = player
			}

			ctx, cancel := signalContext(cmd.Context(), cmd.ErrOrStderr())
			defer cancel()

			err = app.Join(ctx, app.JoinOptions{
				Cfg:        cfg,
				Session:    session,
				Role:       role,
				VoyageType: voyageType,
				Inventory:  inventory,
				In:         cmd.InOrStdin(),
				Out:        cmd.OutOrStdout(),
			})
			var rejected *client.RejectedError
			switch {
			case errors.As(err, &rejected):
				return fmt.Errorf("connection failed: %s", rejected.Reason)
			case errors.Is(err, client.ErrRoleOccupied):
				return fmt.Errorf("%s slot is currently occupied, join as another role", role)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (overrides client.server_url)")
	cmd.Flags().StringVar(&session, "session", "", "session key (default: the server's default session)")
	cmd.Flags().StringVar(&role, "role", "", "role to take, e.g. captain or specialist")
	cmd.Flags().StringVar(&voyageType, "voyage", "", "voyage type sent with each message")
	cmd.Flags().StringVar(&inventory, "inventory", "", "inventory summary sent with each message")
	cmd.Flags().StringVar(&player, "player", "", "audio player: paced, command or none")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
