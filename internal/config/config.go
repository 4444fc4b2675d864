// Package config handles application configuration from environment
// variables: a getEnv/getEnvInt64/getEnvDuration loader idiom, a
// Load()/Validate() shape, and godotenv for local-dev convenience.
// Settings are grouped into nested PSP/Chain/Tax/Webhook structs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// PSP configures the payment service provider adapter.
type PSP struct {
	SecretKey           string
	APIVersion          string
	MaxRetries          int
	InitialRetryDelayMS int
	WebhookSecret       string
}

// Chain configures the blockchain settlement adapter.
type Chain struct {
	GRPCEndpoint    string
	RESTEndpoint    string
	RPCURL          string
	ChainID         string
	AddressPrefix   string
	DefaultGasPrice int64
	DefaultGasLimit int64
	FeeDenom        string
	StablecoinDenom string
	TimeoutSeconds  int
	MaxRetries      int
}

// Tax configures the tax/shipping provider (the adapter itself is an
// external collaborator; this only carries its connection facts).
type Tax struct {
	Provider     string
	APIKey       string
	CacheTTLSecs int
	EnableCache  bool
}

// Webhook configures the webhook dispatcher.
type Webhook struct {
	SigningSecret string
}

// Config holds all application configuration.
type Config struct {
	Env      string // "development", "staging", "production"
	LogLevel string

	ReservationTTL time.Duration

	PSP     PSP
	Chain   Chain
	Tax     Tax
	Webhook Webhook
}

const (
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultReservationTTL = 15 * time.Minute

	DefaultPSPMaxRetries   = 3
	DefaultPSPRetryDelayMS = 100
	DefaultPSPAPIVersion   = "2024-06-20"

	DefaultChainAddressPrefix  = "0x"
	DefaultChainMaxRetries     = 3
	DefaultChainTimeoutSeconds = 30

	DefaultTaxCacheTTLSecs = 300
)

// Load reads configuration from environment variables, loading a
// .env file first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		ReservationTTL: getEnvDuration("RESERVATION_TTL", DefaultReservationTTL),

		PSP: PSP{
			SecretKey:           os.Getenv("STRIPE_SECRET_KEY"),
			APIVersion:          getEnv("STRIPE_API_VERSION", DefaultPSPAPIVersion),
			MaxRetries:          int(getEnvInt64("PSP_MAX_RETRIES", DefaultPSPMaxRetries)),
			InitialRetryDelayMS: int(getEnvInt64("PSP_INITIAL_RETRY_DELAY_MS", DefaultPSPRetryDelayMS)),
			WebhookSecret:       os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},

		Chain: Chain{
			GRPCEndpoint:    os.Getenv("CHAIN_GRPC_ENDPOINT"),
			RESTEndpoint:    os.Getenv("CHAIN_REST_ENDPOINT"),
			RPCURL:          os.Getenv("CHAIN_RPC_URL"),
			ChainID:         os.Getenv("CHAIN_ID"),
			AddressPrefix:   getEnv("CHAIN_ADDRESS_PREFIX", DefaultChainAddressPrefix),
			DefaultGasPrice: getEnvInt64("CHAIN_DEFAULT_GAS_PRICE", 0),
			DefaultGasLimit: getEnvInt64("CHAIN_DEFAULT_GAS_LIMIT", 0),
			FeeDenom:        os.Getenv("CHAIN_FEE_DENOM"),
			StablecoinDenom: os.Getenv("CHAIN_STABLECOIN_DENOM"),
			TimeoutSeconds:  int(getEnvInt64("CHAIN_TIMEOUT_SECONDS", DefaultChainTimeoutSeconds)),
			MaxRetries:      int(getEnvInt64("CHAIN_MAX_RETRIES", DefaultChainMaxRetries)),
		},

		Tax: Tax{
			Provider:     getEnv("TAX_PROVIDER", "internal"),
			APIKey:       os.Getenv("TAX_API_KEY"),
			CacheTTLSecs: int(getEnvInt64("TAX_CACHE_TTL_SECS", DefaultTaxCacheTTLSecs)),
			EnableCache:  getEnvBool("TAX_ENABLE_CACHE", true),
		},

		Webhook: Webhook{
			SigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field sanity; missing secrets are allowed in
// development so the module can run fully in-memory without a PSP
// account.
func (c *Config) Validate() error {
	if c.PSP.MaxRetries < 1 {
		return fmt.Errorf("PSP_MAX_RETRIES must be at least 1, got %d", c.PSP.MaxRetries)
	}
	if c.Chain.MaxRetries < 1 {
		return fmt.Errorf("CHAIN_MAX_RETRIES must be at least 1, got %d", c.Chain.MaxRetries)
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL must be positive, got %v", c.ReservationTTL)
	}
	if c.IsProduction() && c.PSP.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}
	return nil
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }
func (c *Config) IsProduction() bool  { return c.Env == "production" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
