package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Catalog   CatalogConfig
	Matcher   MatcherConfig
	Download  DownloadConfig
	Upload    UploadConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// IsDevelopment reports whether error details may be sent to clients
func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == "development"
}

// CatalogConfig holds the product catalog store connection
type CatalogConfig struct {
	URI          string        `mapstructure:"uri"`
	Database     string        `mapstructure:"database"`
	Collection   string        `mapstructure:"collection"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// MatcherConfig holds the image matching service configuration
type MatcherConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxResponseBytes  int64         `mapstructure:"max_response_bytes"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the matching service
type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

// DownloadConfig holds remote image download configuration
type DownloadConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// UploadConfig holds uploaded image configuration
type UploadConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP int `mapstructure:"per_ip"` // requests per minute, 0 disables
	Burst int `mapstructure:"burst"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv maps config keys to the variable names used by earlier deployments
var legacyEnv = map[string]string{
	"catalog.uri":        "ATLAS_URL",
	"catalog.database":   "DATABASE",
	"catalog.collection": "COLLECTION",
	"server.port":        "PORT",
	"server.environment": "NODE_ENV",
	"matcher.base_url":   "PYTHON_SERVICE_URL",
}

// Load loads configuration from a .env file, environment variables and config files
func Load() (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/productmatcher/")

	v.SetEnvPrefix("MATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := "MATCHER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	setDefaults(v)

	// Config file is optional; environment variables and defaults are enough
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "30s")

	// Catalog defaults
	v.SetDefault("catalog.query_timeout", "10s")

	// Matcher defaults: inference is slow, responses can be large
	v.SetDefault("matcher.timeout", "180s")
	v.SetDefault("matcher.max_response_bytes", 50*1024*1024)
	v.SetDefault("matcher.requests_per_minute", 60)
	v.SetDefault("matcher.breaker.max_requests", 3)
	v.SetDefault("matcher.breaker.interval", "1m")
	v.SetDefault("matcher.breaker.timeout", "30s")
	v.SetDefault("matcher.breaker.failure_ratio", 0.6)
	v.SetDefault("matcher.breaker.min_requests", 5)

	// Download defaults
	v.SetDefault("download.timeout", "15s")

	// Upload defaults
	v.SetDefault("upload.dir", filepath.Join(os.TempDir(), "productmatcher-uploads"))
	v.SetDefault("upload.max_bytes", 5*1024*1024)

	// Rate limit defaults
	v.SetDefault("ratelimit.per_ip", 60)
	v.SetDefault("ratelimit.burst", 10)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Catalog.URI == "" {
		return fmt.Errorf("catalog URI is required (set MATCHER_CATALOG_URI or ATLAS_URL)")
	}
	if !hasScheme(config.Catalog.URI, "mongodb://", "mongodb+srv://", "postgres://", "postgresql://") {
		return fmt.Errorf("catalog URI must be a mongodb:// or postgres:// URI")
	}

	if config.Catalog.Database == "" {
		return fmt.Errorf("catalog database is required (set MATCHER_CATALOG_DATABASE or DATABASE)")
	}

	if config.Catalog.Collection == "" {
		return fmt.Errorf("catalog collection is required (set MATCHER_CATALOG_COLLECTION or COLLECTION)")
	}

	if config.Matcher.BaseURL == "" {
		return fmt.Errorf("matcher base URL is required (set MATCHER_MATCHER_BASE_URL or PYTHON_SERVICE_URL)")
	}
	if !hasScheme(config.Matcher.BaseURL, "http://", "https://") {
		return fmt.Errorf("matcher base URL must be an http(s) URL, got: %s", config.Matcher.BaseURL)
	}

	if config.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max bytes must be positive, got: %d", config.Upload.MaxBytes)
	}

	if config.Matcher.MaxResponseBytes <= 0 {
		return fmt.Errorf("matcher max response bytes must be positive, got: %d", config.Matcher.MaxResponseBytes)
	}

	if config.Log.Format != "json" && config.Log.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got: %s", config.Log.Format)
	}

	return nil
}

func hasScheme(uri string, schemes ...string) bool {
	lower := strings.ToLower(uri)
	for _, s := range schemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}
