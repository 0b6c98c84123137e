package app

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/petervdpas/voyage/internal/config"
)

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// PromptInteractive walks through the settings people usually change and
// returns the edited config. An invalid result falls back to cfg.
func PromptInteractive(in io.Reader, out io.Writer, cfgPath string, cfg config.Config) config.Config {
	p := prompter{in: bufio.NewReader(in), out: out}
	orig := cfg
	cfg.Session.Roles = append([]string(nil), cfg.Session.Roles...)

	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out, "Voyage interactive setup")
	fmt.Fprintf(out, " Config file : %s\n", cfgPath)
	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out)

	cfg.Server.HTTPAddr = p.askString("HTTP listen addr", cfg.Server.HTTPAddr)
	cfg.Session.DefaultKey = p.askString("Default session", cfg.Session.DefaultKey)
	cfg.Session.Announce = p.askBool("Announce joins and leaves", cfg.Session.Announce)

	cfg.Agents.Enabled = p.askBool("Run the agent crew", cfg.Agents.Enabled)
	if cfg.Agents.Enabled {
		cfg.Agents.ScriptDir = p.askString("Agent script folder", cfg.Agents.ScriptDir)
		cfg.Agents.TimeoutSeconds = p.askInt("Agent timeout seconds", cfg.Agents.TimeoutSeconds)
		cfg.Agents.HTTPEnabled = p.askBool("Allow agents to make HTTP requests", cfg.Agents.HTTPEnabled)
	}

	cfg.Storage.Path = p.askString("Catalog database", cfg.Storage.Path)
	cfg.Client.ServerURL = p.askString("Server URL for join", cfg.Client.ServerURL)
	cfg.Client.Player = p.askString("Audio player (paced/command/none)", cfg.Client.Player)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Invalid config: %v\nKeeping previous values.\n", err)
		return orig
	}
	return cfg
}

func (p prompter) askString(label, def string) string {
	fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	s, _ := p.in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func (p prompter) askInt(label string, def int) int {
	for {
		fmt.Fprintf(p.out, "%s [%d]: ", label, def)
		s, err := p.in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, convErr := strconv.Atoi(s); convErr == nil {
			return v
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(p.out, "Please enter a number.")
	}
}

func (p prompter) askBool(label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Fprintf(p.out, "%s [y/n] (default=%s): ", label, defStr)
		s, err := p.in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(p.out, "Please enter y or n.")
	}
}
