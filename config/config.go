package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Candleflow CandleflowConfig `yaml:"candleflow"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Source     SourceConfig     `yaml:"source"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	History    HistoryConfig    `yaml:"history"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type CandleflowConfig struct {
	Name    string   `yaml:"name"`
	Version string   `yaml:"version"`
	Symbols []string `yaml:"symbols"`
}

type ChannelsConfig struct {
	TradeBuffer  int `yaml:"trade_buffer"`
	CandleBuffer int `yaml:"candle_buffer"`
	StatusBuffer int `yaml:"status_buffer"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
}

type BinanceSourceConfig struct {
	Trades BinanceTradesConfig `yaml:"trades"`
}

type BinanceTradesConfig struct {
	Enabled           bool        `yaml:"enabled"`
	Connection        string      `yaml:"connection"` // "websocket" or "sdk"
	URL               string      `yaml:"url"`
	ReconnectDelaySec int         `yaml:"reconnect_delay_sec"`
	Dedup             DedupConfig `yaml:"dedup"`
}

type DedupConfig struct {
	TTLSec     int `yaml:"ttl_sec"`
	MaxEntries int `yaml:"max_entries"`
}

type AggregatorConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	TickMs          int `yaml:"tick_ms"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

type ServerConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Address   string          `yaml:"address"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type MetricsConfig struct {
	ChannelSize bool             `yaml:"channel_size"`
	CloudWatch  CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// DefaultConfigPath is the configuration file used when no -config flag is
// provided.
const DefaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

// ResolveConfigPath swaps the default configuration file for an environment
// specific one when APP_ENV selects an environment that ships its own file.
func ResolveConfigPath(path string) string {
	if path == "" {
		path = DefaultConfigPath
	}
	resolved := resolveEnvSpecificPath(path, DefaultConfigPath, envConfigPaths)
	if resolved != path {
		if _, err := os.Stat(resolved); err != nil {
			return path
		}
	}
	return resolved
}

const (
	DefaultIntervalSeconds   = 60
	DefaultTickMs            = 1000
	DefaultHistoryCapacity   = 120
	DefaultDedupTTLSec       = 600
	DefaultDedupMaxEntries   = 121
	DefaultReconnectDelaySec = 20
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{ChannelSize: true},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Region can come from the environment when CloudWatch is enabled.
	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Aggregator.IntervalSeconds == 0 {
		cfg.Aggregator.IntervalSeconds = DefaultIntervalSeconds
	}
	if cfg.Aggregator.TickMs == 0 {
		cfg.Aggregator.TickMs = DefaultTickMs
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = DefaultHistoryCapacity
	}
	if cfg.Source.Binance.Trades.Dedup.TTLSec == 0 {
		cfg.Source.Binance.Trades.Dedup.TTLSec = DefaultDedupTTLSec
	}
	if cfg.Source.Binance.Trades.Dedup.MaxEntries == 0 {
		cfg.Source.Binance.Trades.Dedup.MaxEntries = DefaultDedupMaxEntries
	}
	if cfg.Source.Binance.Trades.ReconnectDelaySec == 0 {
		cfg.Source.Binance.Trades.ReconnectDelaySec = DefaultReconnectDelaySec
	}
	if cfg.Source.Binance.Trades.Connection == "" {
		cfg.Source.Binance.Trades.Connection = "websocket"
	}
	if cfg.Server.RateLimit.RequestsPerSecond == 0 {
		cfg.Server.RateLimit.RequestsPerSecond = 10
	}
	if cfg.Server.RateLimit.BurstSize == 0 {
		cfg.Server.RateLimit.BurstSize = 20
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Candleflow.Name == "" {
		return fmt.Errorf("candleflow.name is required")
	}

	if cfg.Candleflow.Version == "" {
		return fmt.Errorf("candleflow.version is required")
	}

	if len(cfg.Candleflow.Symbols) == 0 {
		return fmt.Errorf("candleflow.symbols must list at least one symbol")
	}
	for _, s := range cfg.Candleflow.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("candleflow.symbols must not contain empty entries")
		}
	}

	if cfg.Channels.TradeBuffer <= 0 {
		return fmt.Errorf("channels.trade_buffer must be greater than 0")
	}
	if cfg.Channels.CandleBuffer <= 0 {
		return fmt.Errorf("channels.candle_buffer must be greater than 0")
	}
	if cfg.Channels.StatusBuffer <= 0 {
		return fmt.Errorf("channels.status_buffer must be greater than 0")
	}

	if cfg.Source.Binance.Trades.Enabled {
		if cfg.Source.Binance.Trades.URL == "" {
			return fmt.Errorf("source.binance.trades.url is required when trades are enabled")
		}
		switch cfg.Source.Binance.Trades.Connection {
		case "websocket", "sdk":
		default:
			return fmt.Errorf("source.binance.trades.connection must be 'websocket' or 'sdk'")
		}
	}

	if cfg.Aggregator.IntervalSeconds <= 0 {
		return fmt.Errorf("aggregator.interval_seconds must be greater than 0")
	}
	if cfg.Aggregator.TickMs <= 0 {
		return fmt.Errorf("aggregator.tick_ms must be greater than 0")
	}

	if cfg.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be greater than 0")
	}

	if cfg.Server.Enabled && cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required when the server is enabled")
	}

	return nil
}
