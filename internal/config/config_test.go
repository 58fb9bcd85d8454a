package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("NATIVE_DENOM", "")
	t.Setenv("CACHE_TTL", "")
	t.Setenv("SETTLEMENT_GATEWAY_URL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "uxion", cfg.NativeDenom)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, "marketplace", cfg.MarketplaceAddress)
	assert.Empty(t, cfg.GatewayURL)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=1111\nSETTLEMENT_GATEWAY_URL=http://gateway:9000\nCACHE_TTL=5m\n"), 0o600))
	t.Setenv("PORT", "9000")
	t.Cleanup(func() {
		os.Unsetenv("SETTLEMENT_GATEWAY_URL")
		os.Unsetenv("CACHE_TTL")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "http://gateway:9000", cfg.GatewayURL)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestLoad_RejectsSharedRegistryAddress(t *testing.T) {
	t.Setenv("ITEM_REGISTRY_ADDRESS", "registry")
	t.Setenv("TOKEN_REGISTRY_ADDRESS", "registry")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		c := &Config{LogLevel: in}
		assert.Equal(t, want, c.Level(), in)
	}
}
