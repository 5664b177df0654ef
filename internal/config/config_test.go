package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Relay.Addr)
	assert.Equal(t, []string{"*"}, cfg.Relay.AllowedOrigins)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Signaling.URL)
	assert.Equal(t, 45*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, 30*time.Second, cfg.Call.AnswerTimeout)
	assert.Equal(t, 64, cfg.Call.ICEBufferLimit)
	assert.Equal(t, "silence", cfg.Media.AudioSource)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvAndFlags(t *testing.T) {
	t.Setenv("NEXUS_SIGNALING_USER_ID", "alice")
	t.Setenv("NEXUS_CALL_RING_TIMEOUT", "10s")
	t.Setenv("NEXUS_RELAY_ADDR", ":9000")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("relay.addr", ":8080", "")
	require.NoError(t, fs.Parse([]string{"--relay.addr=:7000"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Signaling.UserID)
	assert.Equal(t, 10*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, ":7000", cfg.Relay.Addr, "flags win over the environment")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("NEXUS_APP_LOG_LEVEL", "loud")
	_, err := Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogLevel")
}

func TestValidate(t *testing.T) {
	base, err := Load(nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"production needs a secret", func(c *Config) { c.App.Env = "production" }, "relay.jwt_secret"},
		{"http signaling url", func(c *Config) { c.Signaling.URL = "http://localhost/ws" }, "scheme must be ws or wss"},
		{"bad stun url", func(c *Config) { c.Media.STUNURLs = []string{"turn:x"} }, "not a stun url"},
		{"turn without credentials", func(c *Config) { c.Media.TURNURL = "turn:relay.example.com" }, "media.turn_user"},
		{"no ice buffer", func(c *Config) { c.Call.ICEBufferLimit = 0 }, "ICEBufferLimit"},
		{"negative ring timeout", func(c *Config) { c.Call.RingTimeout = -time.Second }, "RingTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			cfg.Media.STUNURLs = append([]string(nil), base.Media.STUNURLs...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("errors are joined", func(t *testing.T) {
		cfg := *base
		cfg.App.Env = "production"
		cfg.Media.TURNURL = "turn:relay.example.com"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relay.jwt_secret")
		assert.Contains(t, err.Error(), "media.turn_user")
	})
}
