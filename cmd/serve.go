package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/petervdpas/voyage/internal/app"
	"github.com/petervdpas/voyage/internal/config"

	"github.com/spf13/cobra"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Long:  "serve runs the websocket session server, the agent crew and the speech and inventory endpoints. A default config is written on first run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, cfgPath, err := g.paths()
			if err != nil {
				return err
			}
			cfg, created, err := config.Ensure(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Server.HTTPAddr = addr
			}

			out := cmd.OutOrStdout()
			printServerBanner(out, dir, cfgPath, cfg, created)

			ctx, cancel := signalContext(cmd.Context(), cmd.ErrOrStderr())
			defer cancel()

			return app.Run(ctx, app.Options{
				BaseDir: dir,
				CfgPath: cfgPath,
				Cfg:     cfg,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.http_addr)")
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, w io.Writer) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			_, _ = fmt.Fprintln(w, "\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func printServerBanner(w io.Writer, dir, cfgPath string, cfg config.Config, created bool) {
	fmt.Fprintln(w, "╔════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                     Voyage Server                      ║")
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Base Directory: %s\n", dir)
	fmt.Fprintf(w, "Config File:    %s", cfgPath)
	if created {
		fmt.Fprint(w, " (new)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Roles:          %s\n", strings.Join(cfg.Session.Roles, ", "))
	if cfg.Agents.Enabled {
		fmt.Fprintf(w, "Agent Scripts:  %s\n", cfg.Agents.ScriptDir)
	} else {
		fmt.Fprintln(w, "Agents:         disabled")
	}
	if strings.TrimSpace(cfg.Speech.APIKey) == "" {
		fmt.Fprintln(w, "Speech:         no ELEVENLABS_API_KEY, clients will read text only")
	}
	fmt.Fprintln(w)

	base := cfg.Server.HTTPAddr
	if strings.HasPrefix(base, ":") {
		base = "127.0.0.1" + base
	}
	fmt.Fprintf(w, "🌐 Sessions:  ws://%s/ws/{session}/{client}/{role}\n", base)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Starting server... (Press Ctrl+C to stop)")
	fmt.Fprintln(w, "────────────────────────────────────────────────────────")
	fmt.Fprintln(w)
}
