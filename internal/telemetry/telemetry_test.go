package telemetry

import (
	"context"
	"testing"

	"github.com/petervdpas/voyage/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Telemetry{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, shutdown(ctx))
}

func TestSetupWithEndpoint(t *testing.T) {
	// Non-routable, so nothing is exported.
	shutdown, err := Setup(context.Background(), config.Telemetry{
		OTLPEndpoint: "http://192.0.2.1:4318",
		ServiceName:  "voyage-test",
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupLogging(t *testing.T) {
	require.NoError(t, SetupLogging(config.Log{Level: "debug"}))
	require.NoError(t, SetupLogging(config.Log{Level: "info", Subsystems: map[string]string{"voyage/telemetry": "warn"}}))
	assert.Error(t, SetupLogging(config.Log{Level: "loud"}))
	assert.Error(t, SetupLogging(config.Log{Level: "info", Subsystems: map[string]string{"voyage/telemetry": "loud"}}))
}
