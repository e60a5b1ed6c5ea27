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
	Marketpulse MarketpulseConfig `yaml:"marketpulse"`
	Logging     LoggingConfig     `yaml:"logging"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Feeds       FeedsConfig       `yaml:"feeds"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Collector   CollectorConfig   `yaml:"collector"`
	Archiver    ArchiverConfig    `yaml:"archiver"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

type MarketpulseConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	Output         string `yaml:"output"`
	MaxAge         int    `yaml:"max_age"`
	ReportInterval string `yaml:"report_interval"`
	CloudWatch     bool   `yaml:"cloudwatch"`
	Namespace      string `yaml:"namespace"`
}

type ChannelsConfig struct {
	EventBuffer int `yaml:"event_buffer"`
	BatchBuffer int `yaml:"batch_buffer"`
	ErrorBuffer int `yaml:"error_buffer"`
}

type FeedsConfig struct {
	Polygon  PolygonFeedConfig  `yaml:"polygon"`
	Coinbase CoinbaseFeedConfig `yaml:"coinbase"`
	Binance  BinanceFeedConfig  `yaml:"binance"`
}

type PolygonFeedConfig struct {
	Enabled  bool     `yaml:"enabled"`
	URL      string   `yaml:"url"`
	APIKey   string   `yaml:"api_key"`
	Symbols  []string `yaml:"symbols"`
	Channels []string `yaml:"channels"`
}

type CoinbaseFeedConfig struct {
	Enabled  bool     `yaml:"enabled"`
	URL      string   `yaml:"url"`
	Products []string `yaml:"products"`
	Channels []string `yaml:"channels"`
}

type BinanceFeedConfig struct {
	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type CollectorConfig struct {
	Enabled           bool             `yaml:"enabled"`
	BaseURL           string           `yaml:"base_url"`
	APIKey            string           `yaml:"api_key"`
	Tickers           []string         `yaml:"tickers"`
	RequestsPerSecond float64          `yaml:"requests_per_second"`
	BurstSize         int              `yaml:"burst_size"`
	Timeout           time.Duration    `yaml:"timeout"`
	FetchInterval     time.Duration    `yaml:"fetch_interval"`
	Aggregates        AggregatesConfig `yaml:"aggregates"`
	Indicators        []string         `yaml:"indicators"`
	NewsLimit         int              `yaml:"news_limit"`
}

type AggregatesConfig struct {
	Timespan     string `yaml:"timespan"`
	Multiplier   int    `yaml:"multiplier"`
	LookbackDays int    `yaml:"lookback_days"`
}

type ArchiverConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Second,
			MaxAttempts: 5,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Secrets come from the environment when present, never from the file.
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		config.Feeds.Polygon.APIKey = strings.TrimSpace(v)
		config.Collector.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("COLLECTOR_API_KEY"); v != "" {
		config.Collector.APIKey = strings.TrimSpace(v)
	}

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

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Marketpulse.Name == "" {
		return fmt.Errorf("marketpulse.name is required")
	}

	if cfg.Marketpulse.Version == "" {
		return fmt.Errorf("marketpulse.version is required")
	}

	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}

	if cfg.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be greater than 0")
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be greater than 0")
	}
	if cfg.Reconnect.MaxDelay > 0 && cfg.Reconnect.MaxDelay < cfg.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay must be at least reconnect.base_delay")
	}

	if cfg.Feeds.Polygon.Enabled {
		if cfg.Feeds.Polygon.URL == "" {
			return fmt.Errorf("feeds.polygon.url is required when the polygon feed is enabled")
		}
		if cfg.Feeds.Polygon.APIKey == "" {
			return fmt.Errorf("feeds.polygon.api_key is required when the polygon feed is enabled")
		}
	}

	if cfg.Feeds.Coinbase.Enabled && cfg.Feeds.Coinbase.URL == "" {
		return fmt.Errorf("feeds.coinbase.url is required when the coinbase feed is enabled")
	}

	if cfg.Collector.Enabled {
		if cfg.Collector.BaseURL == "" {
			return fmt.Errorf("collector.base_url is required when the collector is enabled")
		}
		if cfg.Collector.APIKey == "" {
			return fmt.Errorf("collector.api_key is required when the collector is enabled")
		}
		if cfg.Collector.RequestsPerSecond <= 0 {
			return fmt.Errorf("collector.requests_per_second must be greater than 0")
		}
	}

	if cfg.Archiver.Enabled {
		if cfg.Archiver.BatchSize <= 0 {
			return fmt.Errorf("archiver.batch_size must be greater than 0")
		}
		if cfg.Archiver.FlushInterval <= 0 {
			return fmt.Errorf("archiver.flush_interval must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.Address == "" {
		return fmt.Errorf("dashboard.address is required when the dashboard is enabled")
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
