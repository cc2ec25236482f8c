package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/recipeapp/recipecache/pkg/utils"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Storage  StorageConfig  `yaml:"storage"`
	Upstream UpstreamConfig `yaml:"upstream"`
	API      APIConfig      `yaml:"api"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogFile     string `yaml:"log_file"`
}

// StorageConfig selects and configures the persistent key-value store
type StorageConfig struct {
	Backend    string      `yaml:"backend"`
	QuotaBytes int64       `yaml:"quota_bytes"`
	KeyPrefix  string      `yaml:"key_prefix"`
	File       FileConfig  `yaml:"file"`
	Redis      RedisConfig `yaml:"redis"`
	S3         S3Config    `yaml:"s3"`
	NATS       NATSConfig  `yaml:"nats"`
}

// FileConfig represents the on-disk store settings
type FileConfig struct {
	Directory   string `yaml:"directory"`
	Compression bool   `yaml:"compression"`
}

// RedisConfig represents Redis store settings
type RedisConfig struct {
	Addrs        []string      `yaml:"addrs"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// S3Config represents S3 store settings
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	MaxRetries      int    `yaml:"max_retries"`

	// EnableCargoShip routes uploads through the cargoship transporter
	EnableCargoShip bool `yaml:"enable_cargoship"`
}

// NATSConfig represents JetStream KV store settings
type NATSConfig struct {
	URL      string        `yaml:"url"`
	Bucket   string        `yaml:"bucket"`
	MaxBytes int64         `yaml:"max_bytes"`
	Timeout  time.Duration `yaml:"timeout"`
}

// UpstreamConfig represents the remote recipe API client settings
type UpstreamConfig struct {
	BaseURL        string               `yaml:"base_url"`
	AppID          string               `yaml:"app_id"`
	AppKey         string               `yaml:"app_key"`
	TokenURL       string               `yaml:"token_url"`
	ClientID       string               `yaml:"client_id"`
	ClientSecret   string               `yaml:"client_secret"`
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// APIConfig represents the admin HTTP API settings
type APIConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	EnableMetrics bool          `yaml:"enable_metrics"`
}

// Supported storage backends
var validBackends = []string{"memory", "file", "redis", "s3", "nats"}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			Environment: EnvProduction,
			LogLevel:    "INFO",
			LogFormat:   "text",
		},
		Storage: StorageConfig{
			Backend:    "file",
			QuotaBytes: 6 * 1024 * 1024,
			KeyPrefix:  "recipecache/",
			File: FileConfig{
				Directory:   filepath.Join(os.TempDir(), "recipecache"),
				Compression: true,
			},
			Redis: RedisConfig{
				Addrs:        []string{"localhost:6379"},
				DialTimeout:  2 * time.Second,
				ReadTimeout:  2 * time.Second,
				WriteTimeout: 2 * time.Second,
			},
			S3: S3Config{
				Region:     "us-east-1",
				MaxRetries: 3,
			},
			NATS: NATSConfig{
				URL:     "nats://localhost:4222",
				Bucket:  "recipecache",
				Timeout: 5 * time.Second,
			},
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://api.edamam.com",
			Timeout: 15 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		API: APIConfig{
			Enabled:       true,
			Address:       "localhost:8090",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			EnableMetrics: true,
		},
	}
}

// Profile resolves the cache profile for the configured environment.
func (c *Configuration) Profile() Profile {
	p := Resolve(c.Global.Environment)
	if c.Storage.QuotaBytes > 0 {
		p.StorageQuotaBytes = c.Storage.QuotaBytes
	}
	return p
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("RECIPECACHE_ENV"); val != "" {
		c.Global.Environment = val
	}
	if val := os.Getenv("RECIPECACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("RECIPECACHE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("RECIPECACHE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	// Storage settings
	if val := os.Getenv("RECIPECACHE_STORAGE_BACKEND"); val != "" {
		c.Storage.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("RECIPECACHE_STORAGE_QUOTA"); val != "" {
		quota, err := utils.ParseBytes(val)
		if err != nil {
			return fmt.Errorf("invalid RECIPECACHE_STORAGE_QUOTA: %w", err)
		}
		c.Storage.QuotaBytes = quota
	}
	if val := os.Getenv("RECIPECACHE_FILE_DIR"); val != "" {
		c.Storage.File.Directory = val
	}
	if val := os.Getenv("RECIPECACHE_REDIS_ADDRS"); val != "" {
		c.Storage.Redis.Addrs = strings.Split(val, ",")
	}
	if val := os.Getenv("RECIPECACHE_S3_BUCKET"); val != "" {
		c.Storage.S3.Bucket = val
	}
	if val := os.Getenv("RECIPECACHE_NATS_URL"); val != "" {
		c.Storage.NATS.URL = val
	}

	// Upstream credentials
	if val := os.Getenv("RECIPECACHE_API_BASE_URL"); val != "" {
		c.Upstream.BaseURL = val
	}
	if val := os.Getenv("RECIPECACHE_APP_ID"); val != "" {
		c.Upstream.AppID = val
	}
	if val := os.Getenv("RECIPECACHE_APP_KEY"); val != "" {
		c.Upstream.AppKey = val
	}
	if val := os.Getenv("RECIPECACHE_CLIENT_ID"); val != "" {
		c.Upstream.ClientID = val
	}
	if val := os.Getenv("RECIPECACHE_CLIENT_SECRET"); val != "" {
		c.Upstream.ClientSecret = val
	}

	// Admin API
	if val := os.Getenv("RECIPECACHE_API_ADDR"); val != "" {
		c.API.Address = val
	}
	if val := os.Getenv("RECIPECACHE_API_ENABLED"); val != "" {
		c.API.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Global.LogFormat != "" && c.Global.LogFormat != "text" && c.Global.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if !contains(validBackends, c.Storage.Backend) {
		return fmt.Errorf("invalid storage backend: %s (must be one of: %s)",
			c.Storage.Backend, strings.Join(validBackends, ", "))
	}

	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("quota_bytes cannot be negative")
	}

	switch c.Storage.Backend {
	case "file":
		if c.Storage.File.Directory == "" {
			return fmt.Errorf("file backend requires storage.file.directory")
		}
	case "redis":
		if len(c.Storage.Redis.Addrs) == 0 {
			return fmt.Errorf("redis backend requires at least one address")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 backend requires storage.s3.bucket")
		}
	case "nats":
		if c.Storage.NATS.URL == "" || c.Storage.NATS.Bucket == "" {
			return fmt.Errorf("nats backend requires storage.nats.url and storage.nats.bucket")
		}
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}

	if c.Upstream.Retry.MaxAttempts < 0 {
		return fmt.Errorf("upstream.retry.max_attempts cannot be negative")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
