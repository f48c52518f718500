// Package config loads the bridge service configuration from an optional
// config file and SOLTOK_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds everything the bridge service needs to start.
type Config struct {
	// RPCURL is the Solana JSON-RPC endpoint.
	RPCURL string `mapstructure:"rpc_url"`
	// ProgramID is the escrow program address.
	ProgramID string `mapstructure:"program_id"`
	// USDCMint is the mint of the stablecoin being escrowed.
	USDCMint string `mapstructure:"usdc_mint"`
	// FeeBps is the protocol fee in basis points (500 = 5%).
	FeeBps uint16 `mapstructure:"fee_bps"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// CachePath is where the local fallback cache file lives.
	CachePath string `mapstructure:"cache_path"`

	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`

	// WebhookURL, when set, receives order notifications. Empty means
	// notifications only go to the log.
	WebhookURL string `mapstructure:"webhook_url"`

	// SignerKey is the operator's base58 private key. Buyer-signed flows
	// supply their own signer and leave this empty.
	SignerKey string `mapstructure:"signer_key"`
}

// MaxFeeBps mirrors the on-chain ceiling of 10%.
const MaxFeeBps = 1000

// Load reads configuration from the given file (optional; empty path skips
// it) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("program_id", "3pMM6KnPpxc1mhprcPGb7oLLi5skDmcVAvDb4sq4nS1L")
	v.SetDefault("usdc_mint", "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
	v.SetDefault("fee_bps", 500)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_path", "soltok-orders.json")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("SOLTOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.ProgramID == "" {
		return fmt.Errorf("program_id is required")
	}
	if c.USDCMint == "" {
		return fmt.Errorf("usdc_mint is required")
	}
	if c.FeeBps > MaxFeeBps {
		return fmt.Errorf("fee_bps %d exceeds maximum %d", c.FeeBps, MaxFeeBps)
	}
	return nil
}
