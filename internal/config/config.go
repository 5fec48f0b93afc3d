// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Log          LogConfig          `mapstructure:"log"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Tokens       TokensConfig       `mapstructure:"tokens"`
	Aggregators  AggregatorsConfig  `mapstructure:"aggregators"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	API          APIConfig          `mapstructure:"api"`
	Health       HealthConfig       `mapstructure:"health"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ChainConfig holds the RPC endpoint and pool account settings.
type ChainConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	ChainID             uint64        `mapstructure:"chain_id"`
	PrivateKey          string        `mapstructure:"private_key"`
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
	FallbackGasLimit    uint64        `mapstructure:"fallback_gas_limit"`
	MaxFeeGwei          int64         `mapstructure:"max_fee_gwei"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
}

// TokenConfig describes one ERC-20 token. Decimals of 0 are read on-chain.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

// AddressHex returns the token address.
func (t TokenConfig) AddressHex() common.Address {
	return common.HexToAddress(t.Address)
}

// TokensConfig holds the source stablecoin and the distributed target token.
type TokensConfig struct {
	Source TokenConfig `mapstructure:"source"`
	Target TokenConfig `mapstructure:"target"`
}

// AggregatorsConfig configures the quote/build providers.
type AggregatorsConfig struct {
	// Order is the fallback order; the first entry is the preferred provider.
	Order             []string        `mapstructure:"order"`
	SlippageBps       int             `mapstructure:"slippage_bps"`
	RequestTimeout    time.Duration   `mapstructure:"request_timeout"`
	RequestsPerMinute int             `mapstructure:"requests_per_minute"`
	Paraswap          ParaswapConfig  `mapstructure:"paraswap"`
	KyberSwap         KyberSwapConfig `mapstructure:"kyberswap"`
	OneInch           OneInchConfig   `mapstructure:"oneinch"`
	Odos              OdosConfig      `mapstructure:"odos"`
}

type ParaswapConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Partner string `mapstructure:"partner"`
	Version string `mapstructure:"version"`
}

type KyberSwapConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	ChainName string `mapstructure:"chain_name"`
	ClientID  string `mapstructure:"client_id"`
}

type OneInchConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type OdosConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	RouterAddress string `mapstructure:"router_address"`
	ReferralCode  uint32 `mapstructure:"referral_code"`
}

// DistributionConfig holds acquisition tuning. Thresholds are target-token units.
type DistributionConfig struct {
	BufferBps           int           `mapstructure:"buffer_bps"`
	LargeOrderBufferBps int           `mapstructure:"large_order_buffer_bps"`
	TopUpBufferBps      int           `mapstructure:"top_up_buffer_bps"`
	LargeOrderThreshold string        `mapstructure:"large_order_threshold"`
	MaxSingleSwap       string        `mapstructure:"max_single_swap"`
	ChunkCeiling        string        `mapstructure:"chunk_ceiling"`
	MinChunks           int           `mapstructure:"min_chunks"`
	MaxChunks           int           `mapstructure:"max_chunks"`
	SettleDelay         time.Duration `mapstructure:"settle_delay"`
	// ProbeAmount is the stablecoin amount quoted to estimate a price.
	ProbeAmount string `mapstructure:"probe_amount"`
	Workers     int    `mapstructure:"workers"`
	QueueSize   int    `mapstructure:"queue_size"`
}

// LedgerConfig selects the ledger database.
type LedgerConfig struct {
	Driver        string        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceProvider  string `mapstructure:"trace_provider"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("DIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.name", "DIST_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "DIST_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "DIST_LOG_LEVEL", "LOG_LEVEL")

	v.BindEnv("chain.rpc_url", "DIST_RPC_URL", "RPC_URL")
	v.BindEnv("chain.chain_id", "DIST_CHAIN_ID", "CHAIN_ID")
	v.BindEnv("chain.private_key", "DIST_POOL_PRIVATE_KEY", "POOL_PRIVATE_KEY")

	v.BindEnv("tokens.source.address", "DIST_SOURCE_TOKEN")
	v.BindEnv("tokens.target.address", "DIST_TARGET_TOKEN", "TARGET_TOKEN_ADDRESS")

	v.BindEnv("aggregators.oneinch.api_key", "DIST_ONEINCH_API_KEY", "ONEINCH_API_KEY")
	v.BindEnv("aggregators.kyberswap.client_id", "DIST_KYBERSWAP_CLIENT_ID")
	v.BindEnv("aggregators.paraswap.partner", "DIST_PARASWAP_PARTNER")

	v.BindEnv("ledger.driver", "DIST_LEDGER_DRIVER")
	v.BindEnv("ledger.dsn", "DIST_LEDGER_DSN", "LEDGER_DSN", "DATABASE_URL")

	v.BindEnv("telemetry.enabled", "DIST_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "DIST_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "DIST_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "token-distributor")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("chain.chain_id", 8453) // Base
	v.SetDefault("chain.receipt_timeout", "90s")
	v.SetDefault("chain.receipt_poll_interval", "2s")
	v.SetDefault("chain.fallback_gas_limit", 600000)
	v.SetDefault("chain.max_fee_gwei", 50)
	v.SetDefault("chain.call_timeout", "10s")

	v.SetDefault("tokens.source.address", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913") // USDC on Base
	v.SetDefault("tokens.source.symbol", "USDC")
	v.SetDefault("tokens.source.decimals", 6)

	v.SetDefault("aggregators.order", []string{"paraswap", "kyberswap", "oneinch", "odos"})
	v.SetDefault("aggregators.slippage_bps", 100)
	v.SetDefault("aggregators.request_timeout", "10s")
	v.SetDefault("aggregators.requests_per_minute", 60)
	v.SetDefault("aggregators.paraswap.base_url", "https://api.paraswap.io")
	v.SetDefault("aggregators.paraswap.partner", "token-distributor")
	v.SetDefault("aggregators.paraswap.version", "6.2")
	v.SetDefault("aggregators.kyberswap.base_url", "https://aggregator-api.kyberswap.com")
	v.SetDefault("aggregators.kyberswap.chain_name", "base")
	v.SetDefault("aggregators.kyberswap.client_id", "token-distributor")
	v.SetDefault("aggregators.oneinch.base_url", "https://api.1inch.dev")
	v.SetDefault("aggregators.odos.base_url", "https://api.odos.xyz")

	v.SetDefault("distribution.buffer_bps", 500)
	v.SetDefault("distribution.large_order_buffer_bps", 1200)
	v.SetDefault("distribution.top_up_buffer_bps", 2500)
	v.SetDefault("distribution.large_order_threshold", "300")
	v.SetDefault("distribution.max_single_swap", "400")
	v.SetDefault("distribution.chunk_ceiling", "250")
	v.SetDefault("distribution.min_chunks", 2)
	v.SetDefault("distribution.max_chunks", 8)
	v.SetDefault("distribution.settle_delay", "3s")
	v.SetDefault("distribution.probe_amount", "1")
	v.SetDefault("distribution.workers", 1)
	v.SetDefault("distribution.queue_size", 64)

	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.dsn", "file:distributor.db?_pragma=busy_timeout(5000)")
	v.SetDefault("ledger.flush_interval", "30s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8080)
	v.SetDefault("health.port", 8081)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "token-distributor")
	v.SetDefault("telemetry.trace_provider", "zipkin")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.PrivateKey == "" {
		return fmt.Errorf("chain.private_key is required")
	}
	if !common.IsHexAddress(c.Tokens.Source.Address) {
		return fmt.Errorf("invalid tokens.source.address: %q", c.Tokens.Source.Address)
	}
	if !common.IsHexAddress(c.Tokens.Target.Address) {
		return fmt.Errorf("invalid tokens.target.address: %q", c.Tokens.Target.Address)
	}
	if c.Tokens.Source.AddressHex() == c.Tokens.Target.AddressHex() {
		return fmt.Errorf("source and target tokens must differ")
	}
	if len(c.Aggregators.Order) == 0 {
		return fmt.Errorf("aggregators.order cannot be empty")
	}
	if c.Aggregators.SlippageBps <= 0 || c.Aggregators.SlippageBps >= 10_000 {
		return fmt.Errorf("aggregators.slippage_bps must be in (0, 10000)")
	}
	if c.Aggregators.Odos.RouterAddress != "" && !common.IsHexAddress(c.Aggregators.Odos.RouterAddress) {
		return fmt.Errorf("invalid aggregators.odos.router_address: %q", c.Aggregators.Odos.RouterAddress)
	}
	if err := c.Distribution.validate(); err != nil {
		return err
	}
	switch c.Ledger.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("ledger.driver must be postgres or sqlite, got %q", c.Ledger.Driver)
	}
	return nil
}

func (d DistributionConfig) validate() error {
	for name, bps := range map[string]int{
		"buffer_bps":             d.BufferBps,
		"large_order_buffer_bps": d.LargeOrderBufferBps,
		"top_up_buffer_bps":      d.TopUpBufferBps,
	} {
		if bps < 0 {
			return fmt.Errorf("distribution.%s cannot be negative", name)
		}
	}

	amounts := map[string]string{
		"large_order_threshold": d.LargeOrderThreshold,
		"max_single_swap":       d.MaxSingleSwap,
		"chunk_ceiling":         d.ChunkCeiling,
		"probe_amount":          d.ProbeAmount,
	}
	parsed := make(map[string]decimal.Decimal, len(amounts))
	for name, s := range amounts {
		v, err := decimal.NewFromString(s)
		if err != nil || !v.IsPositive() {
			return fmt.Errorf("distribution.%s must be a positive decimal, got %q", name, s)
		}
		parsed[name] = v
	}
	if !parsed["chunk_ceiling"].LessThan(parsed["max_single_swap"]) {
		return fmt.Errorf("distribution.chunk_ceiling must be below max_single_swap")
	}
	if d.MinChunks < 2 || d.MaxChunks < d.MinChunks {
		return fmt.Errorf("distribution chunks must satisfy 2 <= min_chunks <= max_chunks")
	}
	if d.Workers < 1 {
		return fmt.Errorf("distribution.workers must be at least 1")
	}
	return nil
}
