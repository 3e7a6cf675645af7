// Package config loads the enumerated configuration surface for the
// indexer: network/RPC endpoints, per-contract addresses, and the tunables
// that drive the monitor state machine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ContractConfig is a single watched contract with its fee tier and
// init-code hash. Address is used by FactoryMonitor to filter factory
// logs and by DexMonitor for the DEX factory; InitCodeHash and FeeTier are
// loaded but not read by any package (pair addresses come from PairCreated
// logs).
type ContractConfig struct {
	Address      string `yaml:"address"`
	InitCodeHash string `yaml:"init_code_hash,omitempty"`
	FeeTier      int    `yaml:"fee_tier,omitempty"`
}

// Config is the entire configuration structure loaded from config.yml,
// mirroring the enumerated options in the specification's External
// Interfaces section.
type Config struct {
	Network       string  `yaml:"network"` // mainnet|testnet
	RPCURL        string  `yaml:"rpc_url"`
	WSURL         string  `yaml:"ws_url,omitempty"`
	StartBlock    *uint64 `yaml:"start_block,omitempty"`
	Confirmations uint64  `yaml:"confirmations"`
	BatchSize     uint64  `yaml:"batch_size"`
	RetryAttempts int     `yaml:"retry_attempts"`
	RetryDelayMS  int     `yaml:"retry_delay_ms"`
	LogLevel      string  `yaml:"log_level"`
	StoreDSN      string  `yaml:"store_dsn"`
	KVURL         string  `yaml:"kv_url"`

	Factory  ContractConfig `yaml:"factory"`
	DEX      ContractConfig `yaml:"dex_factory"`
	Staking  ContractConfig `yaml:"staking"`
	Treasury ContractConfig `yaml:"treasury"`

	BaseToken     string   `yaml:"base_token"`
	WatchedTokens []string `yaml:"watched_tokens_bootstrap"`

	PriceOracleURL      string  `yaml:"price_oracle_url,omitempty"`
	PriceOracleFallback float64 `yaml:"price_oracle_fallback"`

	HolderSetTTL time.Duration `yaml:"holder_set_ttl"`
}

// Default returns a Config pre-populated with the spec's documented
// defaults (confirmations=3, batch_size=100, retry_attempts=3,
// retry_delay=1000ms).
func Default() Config {
	return Config{
		Network:       "mainnet",
		Confirmations: 3,
		BatchSize:     100,
		RetryAttempts: 3,
		RetryDelayMS:  1000,
		LogLevel:      "info",
		HolderSetTTL:  6 * time.Hour,
	}
}

// RetryDelay returns RetryDelayMS as a time.Duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// Load reads and parses path into a Config, filling in documented
// defaults for any zero-valued field the YAML doesn't set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the minimal set of fields required to start the engine.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("config: rpc_url is required")
	}
	if c.StoreDSN == "" {
		return fmt.Errorf("config: store_dsn is required")
	}
	if c.KVURL == "" {
		return fmt.Errorf("config: kv_url is required")
	}
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("config: network must be mainnet or testnet, got %q", c.Network)
	}
	return nil
}
