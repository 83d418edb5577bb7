package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsProduceValidConfig(t *testing.T) {
	v, err := InitConfig()
	require.NoError(t, err)

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "callbridge", cfg.Name)
	assert.Equal(t, 5062, cfg.SIP.LocalPort)
	assert.Equal(t, 31000, cfg.RTP.PortRangeStart)
	assert.Equal(t, 4, cfg.RTP.PortStep)
	assert.Equal(t, 120, cfg.RTP.UtteranceCapPackets)
	assert.Equal(t, 1000, cfg.WS.EventQueueSize)
	assert.Equal(t, 32*time.Second, cfg.SIP.InviteTimeout())
	assert.True(t, cfg.SIP.AutoAnswer)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RTP__PORT_RANGE_START", "40000")
	t.Setenv("BACKEND__PROVIDER", "local")

	v, err := InitConfig()
	require.NoError(t, err)

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 40000, cfg.RTP.PortRangeStart)
	assert.Equal(t, "local", cfg.Backend.Provider)
}

func TestInvalidProviderRejected(t *testing.T) {
	t.Setenv("BACKEND__PROVIDER", "carrier-pigeon")

	v, err := InitConfig()
	require.NoError(t, err)

	_, err = GetApplicationConfig(v)
	assert.Error(t, err)
}
