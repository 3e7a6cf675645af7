package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	yml := `
network: mainnet
rpc_url: "https://rpc.example.com"
store_dsn: "user:pass@tcp(127.0.0.1:3306)/chainindex"
kv_url: "redis://127.0.0.1:6379/0"
factory:
  address: "0xFactory"
dex_factory:
  address: "0xDex"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(3), cfg.Confirmations)
	require.Equal(t, uint64(100), cfg.BatchSize)
	require.Equal(t, 3, cfg.RetryAttempts)
	require.Equal(t, "0xFactory", cfg.Factory.Address)
}

func TestLoad_RejectsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("network: mainnet\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_RetryDelay(t *testing.T) {
	cfg := Default()
	cfg.RetryDelayMS = 250
	require.Equal(t, 250_000_000, int(cfg.RetryDelay()))
}
