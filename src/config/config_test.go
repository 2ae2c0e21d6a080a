package config

import (
	"testing"
	"time"

	"tradingmcp/src/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCredentials(t *testing.T) {
	t.Setenv("EXCHANGE_API_KEY", "key")
	t.Setenv("EXCHANGE_API_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setCredentials(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ExchangeBinance, cfg.ExchangeID)
	assert.Equal(t, TypeFuture, cfg.DefaultType)
	assert.True(t, cfg.SandboxMode)
	assert.True(t, cfg.RateLimit)
	assert.True(t, cfg.Futures())
	assert.Equal(t, 15*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 2, cfg.CloseParallel)
	assert.False(t, cfg.HedgeMode)
	assert.Equal(t, "Trading MCP", cfg.ServerName)
	assert.Equal(t, "10", cfg.MinimumUSDT().String())
}

func TestLoadHedgeMode(t *testing.T) {
	setCredentials(t)
	t.Setenv("EXCHANGE_HEDGE_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.HedgeMode)
}

func TestLoadNormalizesExchange(t *testing.T) {
	setCredentials(t)
	t.Setenv("EXCHANGE_ID", " Binance ")
	t.Setenv("EXCHANGE_DEFAULT_TYPE", "SPOT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ExchangeBinance, cfg.ExchangeID)
	assert.False(t, cfg.Futures())
}

func TestLoadConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing key", map[string]string{"EXCHANGE_API_KEY": "", "EXCHANGE_API_SECRET": "s"}},
		{"missing secret", map[string]string{"EXCHANGE_API_KEY": "k", "EXCHANGE_API_SECRET": "  "}},
		{"unknown exchange", map[string]string{"EXCHANGE_ID": "ftx"}},
		{"bad type", map[string]string{"EXCHANGE_DEFAULT_TYPE": "options"}},
		{"phemex spot", map[string]string{"EXCHANGE_ID": "phemex", "EXCHANGE_DEFAULT_TYPE": "spot"}},
		{"zero concurrency", map[string]string{"CLOSE_CONCURRENCY": "0"}},
		{"bad duration", map[string]string{"TOOL_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setCredentials(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.True(t, exception.Is(err, exception.KindConfiguration), "got %v", err)
		})
	}
}

func TestGetConfigPanics(t *testing.T) {
	t.Setenv("EXCHANGE_API_KEY", "")
	t.Setenv("EXCHANGE_API_SECRET", "")
	assert.Panics(t, func() { GetConfig() })
}
