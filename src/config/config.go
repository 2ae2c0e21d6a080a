package config

import (
	"fmt"
	"strings"
	"time"

	"tradingmcp/src/exception"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	ExchangeBinance = "binance"
	ExchangePhemex  = "phemex"

	TypeSpot   = "spot"
	TypeFuture = "future"
	TypeMargin = "margin"
)

type Config struct {
	ExchangeID     string        `envconfig:"EXCHANGE_ID" default:"binance"`
	APIKey         string        `envconfig:"EXCHANGE_API_KEY"`
	APISecret      string        `envconfig:"EXCHANGE_API_SECRET"`
	SandboxMode    bool          `envconfig:"EXCHANGE_SANDBOX_MODE" default:"true"`
	RateLimit      bool          `envconfig:"EXCHANGE_RATE_LIMIT" default:"true"`
	RatePerSecond  float64       `envconfig:"EXCHANGE_RATE_PER_SECOND" default:"10"`
	DefaultType    string        `envconfig:"EXCHANGE_DEFAULT_TYPE" default:"future"`
	BaseURL        string        `envconfig:"EXCHANGE_BASE_URL"`
	RecvWindow     time.Duration `envconfig:"EXCHANGE_RECV_WINDOW" default:"5s"`
	HTTPTimeout    time.Duration `envconfig:"EXCHANGE_HTTP_TIMEOUT" default:"10s"`
	ToolTimeout    time.Duration `envconfig:"TOOL_TIMEOUT" default:"15s"`
	CloseParallel  int           `envconfig:"CLOSE_CONCURRENCY" default:"2"`
	HedgeMode      bool          `envconfig:"EXCHANGE_HEDGE_MODE" default:"false"`
	MinUSDTBalance float64       `envconfig:"MIN_USDT_BALANCE" default:"10"`

	ServerName string `envconfig:"MCP_SERVER_NAME" default:"Trading MCP"`
	HTTPPort   string `envconfig:"HTTP_PORT" default:"9898"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFilePath   string `envconfig:"LOG_FILE_PATH"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"7"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`
	Environment   string `envconfig:"ENVIRONMENT" default:"production"`
}

// Load reads the environment once. Missing credentials and unsupported
// exchange settings are reported as configuration errors.
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, exception.Configuration("error processing env config: %v", err)
	}
	config.ExchangeID = strings.ToLower(strings.TrimSpace(config.ExchangeID))
	config.DefaultType = strings.ToLower(strings.TrimSpace(config.DefaultType))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetConfig is Load for callers that cannot continue without configuration.
func GetConfig() *Config {
	config, err := Load()
	if err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "" {
		return exception.Configuration("EXCHANGE_API_KEY and EXCHANGE_API_SECRET are required")
	}
	switch c.ExchangeID {
	case ExchangeBinance:
		switch c.DefaultType {
		case TypeSpot, TypeFuture, TypeMargin:
		default:
			return exception.Configuration("unsupported EXCHANGE_DEFAULT_TYPE %q for binance", c.DefaultType)
		}
	case ExchangePhemex:
		if c.DefaultType != TypeFuture {
			return exception.Configuration("phemex supports only the future market type, got %q", c.DefaultType)
		}
	default:
		return exception.Configuration("unsupported EXCHANGE_ID %q", c.ExchangeID)
	}
	if c.RateLimit && c.RatePerSecond <= 0 {
		return exception.Configuration("EXCHANGE_RATE_PER_SECOND must be positive")
	}
	if c.ToolTimeout <= 0 {
		return exception.Configuration("TOOL_TIMEOUT must be positive")
	}
	if c.CloseParallel < 1 {
		return exception.Configuration("CLOSE_CONCURRENCY must be at least 1")
	}
	if c.MinUSDTBalance < 0 {
		return exception.Configuration("MIN_USDT_BALANCE must not be negative")
	}
	return nil
}

// Futures reports whether the configured market type trades derivatives.
func (c *Config) Futures() bool {
	return c.DefaultType != TypeSpot
}

func (c *Config) MinimumUSDT() decimal.Decimal {
	return decimal.NewFromFloat(c.MinUSDTBalance)
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
