package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Exchange Exchange `mapstructure:"exchange"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Exchange holds the configuration for the exchange adapter.
type Exchange struct {
	Name           string  `mapstructure:"name"`
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	BaseURL        string  `mapstructure:"base_url"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	RequestTimeout int     `mapstructure:"request_timeout"`
}

// Server holds the configuration for the HTTP ingestion server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Pipeline holds the configuration for the signal execution pipeline.
type Pipeline struct {
	DedupWindowSeconds int  `mapstructure:"dedup_window_seconds"`
	MaxRetries         int  `mapstructure:"max_retries"`
	BackoffBaseMs      int  `mapstructure:"backoff_base_ms"`
	BackoffMaxMs       int  `mapstructure:"backoff_max_ms"`
	MaxWorkers         int  `mapstructure:"max_workers"`
	AllowHedging       bool `mapstructure:"allow_hedging"`

	// DefaultPortfolioValueUsd stands in where no balance service is wired.
	DefaultPortfolioValueUsd float64 `mapstructure:"default_portfolio_value_usd"`
}

// DedupWindow returns the duplicate-detection window as a duration.
func (p Pipeline) DedupWindow() time.Duration {
	return time.Duration(p.DedupWindowSeconds) * time.Second
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("exchange.rate_limit", 20)      // requests per second
	viper.SetDefault("exchange.rate_limit_burst", 5) // burst size
	viper.SetDefault("exchange.request_timeout", 10) // seconds per adapter call
	viper.SetDefault("pipeline.dedup_window_seconds", 60)
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.backoff_base_ms", 1000)
	viper.SetDefault("pipeline.backoff_max_ms", 30000)
	viper.SetDefault("pipeline.max_workers", 16)
	viper.SetDefault("pipeline.default_portfolio_value_usd", 100000)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("server.port", 8080)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
