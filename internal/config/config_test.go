package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	assert.NoError(t, Defaults().Validate())
}

func TestValidateRejectsPortCollision(t *testing.T) {
	c := Defaults()
	c.WebhookPort = c.WebsocketPort
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownLoadBalancing(t *testing.T) {
	c := Defaults()
	c.LoadBalancing = "round_robin"
	assert.Error(t, c.Validate())
}

func TestLoaderEnvOverridesDefaults(t *testing.T) {
	t.Setenv("CASARERPA_TEST__WEBSOCKET_PORT", "9999")
	l := NewLoader("CASARERPA_TEST")
	require.NoError(t, l.LoadWithDefaults(Defaults(), ""))

	var cfg Config
	require.NoError(t, l.UnmarshalAndValidate(&cfg))
	assert.Equal(t, 9999, cfg.WebsocketPort)
	assert.Equal(t, 8766, cfg.WebhookPort, "unrelated defaults survive the env overlay")
}
