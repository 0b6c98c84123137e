package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/petervdpas/voyage/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestPromptInteractive(t *testing.T) {
	answers := strings.Join([]string{
		"0.0.0.0:9000", // addr
		"",             // default session
		"n",            // announce
		"maybe",        // crew: rejected, asked again
		"y",            // crew
		"crew",         // script folder
		"abc",          // timeout: rejected, asked again
		"7",            // timeout
		"",             // http
		"",             // catalog
		"",             // server url
		"none",         // player
	}, "\n") + "\n"

	out := &bytes.Buffer{}
	cfg := PromptInteractive(strings.NewReader(answers), out, "voyage.json", config.Default())

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "space", cfg.Session.DefaultKey)
	assert.False(t, cfg.Session.Announce)
	assert.True(t, cfg.Agents.Enabled)
	assert.Equal(t, "crew", cfg.Agents.ScriptDir)
	assert.Equal(t, 7, cfg.Agents.TimeoutSeconds)
	assert.False(t, cfg.Agents.HTTPEnabled)
	assert.Equal(t, "none", cfg.Client.Player)
	assert.Contains(t, out.String(), "Please enter y or n.")
	assert.Contains(t, out.String(), "Please enter a number.")
}

func TestPromptInteractiveKeepsValidConfig(t *testing.T) {
	in := strings.NewReader("\n\n\nn\n\n\nwhistle\n")
	out := &bytes.Buffer{}
	def := config.Default()

	cfg := PromptInteractive(in, out, "voyage.json", def)

	assert.Equal(t, def.Client.Player, cfg.Client.Player)
	assert.True(t, cfg.Agents.Enabled)
	assert.Contains(t, out.String(), "Invalid config")
}
