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
	Gascap   GascapConfig   `yaml:"gascap"`
	Chain    ChainConfig    `yaml:"chain"`
	Market   MarketConfig   `yaml:"market"`
	Events   EventsConfig   `yaml:"events"`
	Poller   PollerConfig   `yaml:"poller"`
	Terminal TerminalConfig `yaml:"terminal"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type GascapConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ChainConfig describes the JSON-RPC endpoint and the deployed contract the
// pipeline reads from.
type ChainConfig struct {
	RPCURL          string          `yaml:"rpc_url"`
	ContractAddress string          `yaml:"contract_address"`
	RequestTimeout  time.Duration   `yaml:"request_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Retry           RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// MarketConfig bounds the tick history and the durable slot it is flushed to.
type MarketConfig struct {
	TickCapacity     int           `yaml:"tick_capacity"`
	QuiescenceWindow time.Duration `yaml:"quiescence_window"`
	Slot             SlotConfig    `yaml:"slot"`
	Seed             SeedConfig    `yaml:"seed"`
}

type SlotConfig struct {
	Backend string      `yaml:"backend"` // "file" or "redis"
	Key     string      `yaml:"key"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EventsConfig bounds the trade-event synchronizer.
type EventsConfig struct {
	LookbackBlocks uint64 `yaml:"lookback_blocks"`
	PageLimit      int    `yaml:"page_limit"`
	FeedLimit      int    `yaml:"feed_limit"`
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Account  string        `yaml:"account"`
}

type TerminalConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Prefix          string        `yaml:"prefix"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level          string           `yaml:"level"`
	Format         string           `yaml:"format"`
	Output         string           `yaml:"output"`
	MaxAge         int              `yaml:"max_age"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

// LoadConfig reads, overlays and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Market: MarketConfig{
			TickCapacity:     2000,
			QuiescenceWindow: 10 * time.Second,
			Seed:             SeedConfig{Enabled: true},
		},
		Events: EventsConfig{
			LookbackBlocks: 5000,
			PageLimit:      20,
			FeedLimit:      50,
		},
		Poller: PollerConfig{
			Interval: 5 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides for secrets and deployment-specific endpoints.
	if v := os.Getenv("GASCAP_RPC_URL"); v != "" {
		config.Chain.RPCURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("GASCAP_CONTRACT_ADDRESS"); v != "" {
		config.Chain.ContractAddress = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Market.Slot.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Market.Slot.Redis.Password = strings.TrimSpace(v)
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
	if cfg.Gascap.Name == "" {
		return fmt.Errorf("gascap.name is required")
	}

	if cfg.Gascap.Version == "" {
		return fmt.Errorf("gascap.version is required")
	}

	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}

	if cfg.Chain.ContractAddress == "" {
		return fmt.Errorf("chain.contract_address is required")
	}

	if cfg.Market.TickCapacity <= 0 {
		return fmt.Errorf("market.tick_capacity must be greater than 0")
	}

	if cfg.Market.QuiescenceWindow <= 0 {
		return fmt.Errorf("market.quiescence_window must be greater than 0")
	}

	if cfg.Events.PageLimit <= 0 {
		return fmt.Errorf("events.page_limit must be greater than 0")
	}

	if cfg.Events.FeedLimit <= 0 {
		return fmt.Errorf("events.feed_limit must be greater than 0")
	}

	if cfg.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than 0")
	}

	switch cfg.Market.Slot.Backend {
	case "", "file", "redis":
	default:
		return fmt.Errorf("market.slot.backend '%s' is invalid", cfg.Market.Slot.Backend)
	}

	if cfg.Market.Slot.Backend == "redis" && cfg.Market.Slot.Redis.Addr == "" {
		return fmt.Errorf("market.slot.redis.addr is required when the redis backend is selected")
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
