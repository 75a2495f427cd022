package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Candleflow CandleflowConfig `yaml:"candleflow"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Sources    SourcesConfig    `yaml:"sources"`
	Market     MarketConfig     `yaml:"market"`
	Cache      CacheConfig      `yaml:"cache"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Stream     StreamConfig     `yaml:"stream"`
	Storage    StorageConfig    `yaml:"storage"`
}

type CandleflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Namespace      string        `yaml:"namespace"`
	Dashboard      string        `yaml:"dashboard"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type SourcesConfig struct {
	Hyperliquid HyperliquidSourceConfig `yaml:"hyperliquid"`
	Coinbase    CoinbaseSourceConfig    `yaml:"coinbase"`
}

type HyperliquidSourceConfig struct {
	Enabled      bool        `yaml:"enabled"`
	URL          string      `yaml:"url"`
	WSURL        string      `yaml:"ws_url"`
	MaxBatchSize int         `yaml:"max_batch_size"`
	Retry        RetryConfig `yaml:"retry"`
}

type CoinbaseSourceConfig struct {
	Enabled      bool            `yaml:"enabled"`
	URL          string          `yaml:"url"`
	MaxBatchSize int             `yaml:"max_batch_size"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type MarketConfig struct {
	Symbols       []string         `yaml:"symbols"`
	QuoteCurrency string           `yaml:"quote_currency"`
	StatsTTL      time.Duration    `yaml:"stats_ttl"`
	Validation    ValidationConfig `yaml:"validation"`
}

type ValidationConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MaxDiffPercent float64 `yaml:"max_diff_percent"`
}

type CacheConfig struct {
	Dir string `yaml:"dir"`
}

type ArchiveConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Dir         string        `yaml:"dir"`
	Format      string        `yaml:"format"`
	Compression string        `yaml:"compression"`
	Interval    time.Duration `yaml:"interval"`
	Lookback    time.Duration `yaml:"lookback"`
	Timeframe   string        `yaml:"timeframe"`
}

type StreamConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Buffer         int           `yaml:"buffer"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled           bool   `yaml:"enabled"`
	Bucket            string `yaml:"bucket"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	PathStyle         bool   `yaml:"path_style"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
	AccessKeyID       string `yaml:"access_key_id"`
	SecretAccessKey   string `yaml:"secret_access_key"`
}

// DefaultConfigPath is where the daemon looks when no -config flag is given.
const DefaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultConfigPath, envConfigPaths)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// defaultConfig returns the configuration the YAML file is unmarshalled over,
// so omitted keys keep their documented defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Namespace:      "CandleFlow",
			Dashboard:      "CandleFlow",
			ReportInterval: 30 * time.Second,
		},
		Sources: SourcesConfig{
			Hyperliquid: HyperliquidSourceConfig{
				Enabled:      true,
				URL:          "https://api.hyperliquid.xyz",
				WSURL:        "wss://api.hyperliquid.xyz/ws",
				MaxBatchSize: 5000,
				Retry: RetryConfig{
					MaxAttempts: 3,
					BaseDelay:   time.Second,
				},
			},
			Coinbase: CoinbaseSourceConfig{
				Enabled:      true,
				URL:          "https://api.exchange.coinbase.com",
				MaxBatchSize: 200,
				RateLimit: RateLimitConfig{
					RequestsPerSecond: 5,
					BurstSize:         1,
				},
			},
		},
		Market: MarketConfig{
			Symbols:       []string{"BTC", "ETH", "SOL"},
			QuoteCurrency: "USD",
			StatsTTL:      30 * time.Second,
			Validation: ValidationConfig{
				MaxDiffPercent: 5.0,
			},
		},
		Cache: CacheConfig{
			Dir: "data",
		},
		Archive: ArchiveConfig{
			Dir:         "archive",
			Format:      "csv",
			Compression: "snappy",
			Interval:    time.Hour,
			Lookback:    24 * time.Hour,
			Timeframe:   "1h",
		},
		Stream: StreamConfig{
			Buffer:         1024,
			ReconnectDelay: 5 * time.Second,
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Candleflow.Name == "" {
		return fmt.Errorf("candleflow.name is required")
	}

	if cfg.Candleflow.Version == "" {
		return fmt.Errorf("candleflow.version is required")
	}

	if !cfg.Sources.Hyperliquid.Enabled && !cfg.Sources.Coinbase.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}

	if cfg.Sources.Hyperliquid.Enabled {
		if cfg.Sources.Hyperliquid.URL == "" {
			return fmt.Errorf("sources.hyperliquid.url is required")
		}
		if cfg.Sources.Hyperliquid.MaxBatchSize <= 0 || cfg.Sources.Hyperliquid.MaxBatchSize > 5000 {
			return fmt.Errorf("sources.hyperliquid.max_batch_size must be in (0, 5000]")
		}
		if cfg.Sources.Hyperliquid.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("sources.hyperliquid.retry.max_attempts must be greater than 0")
		}
		if cfg.Sources.Hyperliquid.Retry.BaseDelay <= 0 {
			return fmt.Errorf("sources.hyperliquid.retry.base_delay must be greater than 0")
		}
	}

	if cfg.Sources.Coinbase.Enabled {
		if cfg.Sources.Coinbase.URL == "" {
			return fmt.Errorf("sources.coinbase.url is required")
		}
		if cfg.Sources.Coinbase.MaxBatchSize <= 0 || cfg.Sources.Coinbase.MaxBatchSize > 300 {
			return fmt.Errorf("sources.coinbase.max_batch_size must be in (0, 300]")
		}
		if cfg.Sources.Coinbase.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("sources.coinbase.rate_limit.requests_per_second must be greater than 0")
		}
	}

	if len(cfg.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols must not be empty")
	}
	if cfg.Market.StatsTTL < 0 {
		return fmt.Errorf("market.stats_ttl must not be negative")
	}
	if cfg.Market.Validation.Enabled && cfg.Market.Validation.MaxDiffPercent <= 0 {
		return fmt.Errorf("market.validation.max_diff_percent must be greater than 0")
	}

	if cfg.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}

	if cfg.Archive.Enabled {
		switch cfg.Archive.Format {
		case "csv", "json", "parquet":
		default:
			return fmt.Errorf("archive.format '%s' is invalid (csv, json or parquet)", cfg.Archive.Format)
		}
		if cfg.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required when archiving is enabled")
		}
		if cfg.Archive.Interval <= 0 {
			return fmt.Errorf("archive.interval must be greater than 0")
		}
		if cfg.Archive.Lookback <= 0 {
			return fmt.Errorf("archive.lookback must be greater than 0")
		}
	}

	if cfg.Stream.Enabled {
		if cfg.Stream.Buffer <= 0 {
			return fmt.Errorf("stream.buffer must be greater than 0")
		}
		if cfg.Stream.ReconnectDelay <= 0 {
			return fmt.Errorf("stream.reconnect_delay must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
