// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. TERESTRIA_SERVER_PORT.
const EnvPrefix = "TERESTRIA"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Download DownloadConfig `mapstructure:"download"`
	PDF      PDFConfig      `mapstructure:"pdf"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	FrontendEnabled bool          `mapstructure:"frontend_enabled"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig holds the Azure DNS zone used for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// CacheConfig holds tile store and memory cache configuration.
type CacheConfig struct {
	Dir            string        `mapstructure:"dir"`
	MaxOpenStores  int           `mapstructure:"max_open_stores"`
	MemoryTiles    int64         `mapstructure:"memory_tiles"`
	MemoryTileTTL  time.Duration `mapstructure:"memory_tile_ttl"`
	EvictAfter     time.Duration `mapstructure:"evict_after"` // 0 disables periodic eviction
	EvictionPeriod time.Duration `mapstructure:"eviction_period"`
}

// DownloadConfig holds remote tile download configuration.
type DownloadConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	RateLimitDelay   time.Duration `mapstructure:"rate_limit_delay"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	OfflineBatchSize int           `mapstructure:"offline_batch_size"`
	EstimateSamples  int           `mapstructure:"estimate_samples"`
	DefaultTileBytes int64         `mapstructure:"default_tile_bytes"`
}

// PDFConfig holds PDF import configuration.
type PDFConfig struct {
	DPI             int    `mapstructure:"dpi"`
	WriteBatchSize  int    `mapstructure:"write_batch_size"`
	PdftoppmPath    string `mapstructure:"pdftoppm_path"`
	ZoomLevelsBelow int    `mapstructure:"zoom_levels_below"`
	ZoomLevelsAbove int    `mapstructure:"zoom_levels_above"`
	MaxScaledPixels int64  `mapstructure:"max_scaled_pixels"`
	MaxTiles        int64  `mapstructure:"max_tiles"`
	ResampleWorkers int    `mapstructure:"resample_workers"`
	ImportDir       string `mapstructure:"import_dir"`
	Watch           bool   `mapstructure:"watch"`
}

// StorageConfig holds PDF source storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local; empty disables
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// CatalogConfig holds the basemap catalog location.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// SyncConfig holds object storage sync configuration.
type SyncConfig struct {
	Interval        time.Duration `mapstructure:"interval"` // 0 disables the scheduler
	TriggerCooldown time.Duration `mapstructure:"trigger_cooldown"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.idle_timeout", 120*time.Second)
	viper.SetDefault("server.shutdown_timeout", 15*time.Second)
	viper.SetDefault("server.frontend_enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Cache defaults
	viper.SetDefault("cache.dir", "./data/tiles")
	viper.SetDefault("cache.max_open_stores", 5)
	viper.SetDefault("cache.memory_tiles", 2048)
	viper.SetDefault("cache.memory_tile_ttl", 10*time.Minute)
	viper.SetDefault("cache.evict_after", 0)
	viper.SetDefault("cache.eviction_period", time.Hour)

	// Download defaults
	viper.SetDefault("download.max_concurrent", 6)
	viper.SetDefault("download.max_retries", 2)
	viper.SetDefault("download.retry_delay", time.Second)
	viper.SetDefault("download.rate_limit_delay", 5*time.Second)
	viper.SetDefault("download.http_timeout", 15*time.Second)
	viper.SetDefault("download.user_agent", "terestria-tilecache/1.0")
	viper.SetDefault("download.offline_batch_size", 10)
	viper.SetDefault("download.estimate_samples", 5)
	viper.SetDefault("download.default_tile_bytes", 15000)

	// PDF defaults
	viper.SetDefault("pdf.dpi", 300)
	viper.SetDefault("pdf.write_batch_size", 100)
	viper.SetDefault("pdf.pdftoppm_path", "pdftoppm")
	viper.SetDefault("pdf.zoom_levels_below", 4)
	viper.SetDefault("pdf.zoom_levels_above", 1)
	viper.SetDefault("pdf.max_scaled_pixels", int64(400_000_000))
	viper.SetDefault("pdf.max_tiles", int64(0))
	viper.SetDefault("pdf.resample_workers", 0)
	viper.SetDefault("pdf.import_dir", "./data/import")
	viper.SetDefault("pdf.watch", false)

	// Storage defaults
	viper.SetDefault("storage.type", "")
	viper.SetDefault("storage.local_path", "./data/pdf")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Catalog and sync defaults
	viper.SetDefault("catalog.path", "./data/basemaps.yaml")
	viper.SetDefault("sync.interval", 0)
	viper.SetDefault("sync.trigger_cooldown", 30*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/terestria")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return invalid("tls.domains", "TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return invalid("tls.email", "TLS enabled but no email specified")
		}
	}

	if c.Cache.Dir == "" {
		return invalid("cache.dir", "tile store directory is required")
	}
	if c.Cache.MaxOpenStores < 1 {
		return invalid("cache.max_open_stores", "must be at least 1, got %d", c.Cache.MaxOpenStores)
	}
	if c.Cache.EvictAfter < 0 {
		return invalid("cache.evict_after", "must not be negative")
	}

	if c.Download.MaxConcurrent < 1 {
		return invalid("download.max_concurrent", "must be at least 1, got %d", c.Download.MaxConcurrent)
	}
	if c.Download.MaxRetries < 0 {
		return invalid("download.max_retries", "must not be negative")
	}
	if c.Download.OfflineBatchSize < 1 {
		return invalid("download.offline_batch_size", "must be at least 1, got %d", c.Download.OfflineBatchSize)
	}

	if c.PDF.DPI < 36 || c.PDF.DPI > 1200 {
		return invalid("pdf.dpi", "must be between 36 and 1200, got %d", c.PDF.DPI)
	}
	if c.PDF.ZoomLevelsBelow < 0 || c.PDF.ZoomLevelsAbove < 0 {
		return invalid("pdf.zoom_levels", "zoom level brackets must not be negative")
	}
	if c.PDF.Watch && c.PDF.ImportDir == "" {
		return invalid("pdf.import_dir", "required when pdf.watch is enabled")
	}

	if c.Catalog.Path == "" {
		return invalid("catalog.path", "catalog path is required")
	}
	if c.Sync.Interval < 0 {
		return invalid("sync.interval", "must not be negative")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path", "must start with /")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return invalid("logging.format", "must be json or console, got %q", c.Logging.Format)
	}

	return c.Storage.validate()
}

func (s *StorageConfig) validate() error {
	switch s.Type {
	case "":
	case "local":
		if s.LocalPath == "" {
			return invalid("storage.local_path", "local storage path is required")
		}
	case "s3":
		if s.S3.Bucket == "" {
			return invalid("storage.s3.bucket", "S3 bucket is required")
		}
		if s.S3.Region == "" {
			return invalid("storage.s3.region", "S3 region is required")
		}
	case "azure":
		if s.Azure.Container == "" {
			return invalid("storage.azure.container", "azure container is required")
		}
		if s.Azure.AccountName == "" && s.Azure.ConnectionString == "" {
			return invalid("storage.azure", "azure account name or connection string is required")
		}
	case "http":
		if s.HTTP.BaseURL == "" {
			return invalid("storage.http.base_url", "HTTP base URL is required")
		}
	default:
		return invalid("storage.type", "unknown storage type: %s", s.Type)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorePath returns the sqlite file directory as an absolute path when
// possible.
func (c *CacheConfig) StorePath() string {
	if abs, err := filepath.Abs(c.Dir); err == nil {
		return abs
	}
	return c.Dir
}
