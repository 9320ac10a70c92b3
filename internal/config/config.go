package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Device identity
	DeviceID        string `mapstructure:"device-id"`
	FirmwareVersion string `mapstructure:"firmware-version"`

	// Storage paths
	SQLitePath string `mapstructure:"sqlite-path"`
	WorkDir    string `mapstructure:"work-dir"`
	CertDir    string `mapstructure:"cert-dir"`

	// S3 data plane
	S3Region    string `mapstructure:"s3-region"`
	S3Anonymous bool   `mapstructure:"s3-anonymous"`

	// Download policy
	MaxMomentum      uint32        `mapstructure:"max-momentum"`
	RequestWidth     uint32        `mapstructure:"request-width"`
	RequestTimeout   time.Duration `mapstructure:"request-timeout"`
	SelfTestTimeout  time.Duration `mapstructure:"self-test-timeout"`
	DefaultBlockSize int64         `mapstructure:"default-block-size"`
	MaxJobDocLen     int           `mapstructure:"max-job-doc-len"`
	DataProtocol     string        `mapstructure:"data-protocol"`
	AllowDowngrade   bool          `mapstructure:"allow-downgrade"`
	AllowSameVersion bool          `mapstructure:"allow-same-version"`

	// Buffer capacities
	FilePathBufLen   int    `mapstructure:"file-path-buf-len"`
	CertPathBufLen   int    `mapstructure:"cert-path-buf-len"`
	StreamNameBufLen int    `mapstructure:"stream-name-buf-len"`
	URLBufLen        int    `mapstructure:"url-buf-len"`
	AuthSchemeBufLen int    `mapstructure:"auth-scheme-buf-len"`
	SignatureBufLen  int    `mapstructure:"signature-buf-len"`
	DecodeBufLen     int    `mapstructure:"decode-buf-len"`
	MaxBlocks        uint32 `mapstructure:"max-blocks"`

	// Event queue
	QueueDepth int `mapstructure:"queue-depth"`

	// Metrics endpoint ("" disables)
	MetricsAddr string `mapstructure:"metrics-addr"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("firmware-version", "0.0.0")
	viper.SetDefault("sqlite-path", ".artifacts/otaagent.db")
	viper.SetDefault("work-dir", "/var/lib/otaagent")
	viper.SetDefault("cert-dir", "/etc/otaagent/certs")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-anonymous", false)
	viper.SetDefault("max-momentum", 32)
	viper.SetDefault("request-width", 8)
	viper.SetDefault("request-timeout", 10*time.Second)
	viper.SetDefault("self-test-timeout", 16*time.Minute)
	viper.SetDefault("default-block-size", 1024)
	viper.SetDefault("max-job-doc-len", 8192)
	viper.SetDefault("data-protocol", "stream")
	viper.SetDefault("allow-downgrade", false)
	viper.SetDefault("allow-same-version", false)
	viper.SetDefault("file-path-buf-len", 256)
	viper.SetDefault("cert-path-buf-len", 256)
	viper.SetDefault("stream-name-buf-len", 128)
	viper.SetDefault("url-buf-len", 1536)
	viper.SetDefault("auth-scheme-buf-len", 64)
	viper.SetDefault("signature-buf-len", 512)
	viper.SetDefault("decode-buf-len", 4096)
	viper.SetDefault("max-blocks", 65536)
	viper.SetDefault("queue-depth", 20)
	viper.SetDefault("metrics-addr", "")

	// Environment variables (will be OTA_DEVICE_ID, etc.)
	viper.SetEnvPrefix("OTA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.otaagent")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device-id cannot be empty")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	switch c.DataProtocol {
	case "stream", "http", "s3":
	default:
		return fmt.Errorf("data-protocol must be stream, http, or s3, got %q", c.DataProtocol)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive")
	}
	if c.SelfTestTimeout <= 0 {
		return fmt.Errorf("self-test-timeout must be positive")
	}
	if c.DefaultBlockSize <= 0 {
		return fmt.Errorf("default-block-size must be positive")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queue-depth must be positive")
	}
	if c.MaxBlocks == 0 {
		return fmt.Errorf("max-blocks must be positive")
	}
	return nil
}
