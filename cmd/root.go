// Package cmd is the voyage command line.
package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/petervdpas/voyage/internal/config"

	"github.com/spf13/cobra"
)

// ConfigName is the config file looked up in the base directory.
const ConfigName = "voyage.json"

func Execute() error {
	return newRootCmd().Execute()
}

type globalFlags struct {
	dir     string
	cfgPath string
}

// paths returns the absolute base directory and config file.
func (g *globalFlags) paths() (string, string, error) {
	dir, err := filepath.Abs(g.dir)
	if err != nil {
		return "", "", err
	}
	cfgPath := g.cfgPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dir, ConfigName)
	}
	return dir, cfgPath, nil
}

// clientConfig loads the config file when there is one. A participant does
// not need a config file, so a missing one means defaults plus env.
func (g *globalFlags) clientConfig() (config.Config, error) {
	_, cfgPath, err := g.paths()
	if err != nil {
		return config.Config{}, err
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		cfg := config.Default()
		if err := config.ApplyEnv(&cfg); err != nil {
			return config.Config{}, err
		}
		return cfg, cfg.Validate()
	}
	return config.Load(cfgPath)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "voyage",
		Short:         "Voyage: shared crew sessions with scripted agents",
		Long:          "voyage runs the session server that pairs a captain and a specialist with a crew of scripted agents, and joins sessions from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&g.dir, "dir", ".", "base directory for relative paths")
	rootCmd.PersistentFlags().StringVar(&g.cfgPath, "config", "", "config file (default <dir>/"+ConfigName+")")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(g),
		newServeCmd(g),
		newRolesCmd(g),
		newJoinCmd(g),
	)

	return rootCmd
}
