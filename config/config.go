package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Ranking   RankingConfig   `mapstructure:"ranking"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Images    ImagesConfig    `mapstructure:"images"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	PageSize       int      `mapstructure:"page_size"`
}

// CatalogConfig holds remote catalog and snapshot configuration
type CatalogConfig struct {
	SourceURL    string        `mapstructure:"source_url"`
	SnapshotPath string        `mapstructure:"snapshot_path"`
	TTL          time.Duration `mapstructure:"ttl"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second
	Debug        bool          `mapstructure:"debug"`
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	Type     string        `mapstructure:"type"` // "memory" or "redis"
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RankingConfig holds the default ranking policy
type RankingConfig struct {
	Mode               string  `mapstructure:"mode"` // "top_k" or "threshold"
	K                  int     `mapstructure:"k"`
	Threshold          float64 `mapstructure:"threshold"`
	TextWeight         float64 `mapstructure:"text_weight"`
	ImageWeight        float64 `mapstructure:"image_weight"`
	IncludeDescription bool    `mapstructure:"include_description"`
	CandidateFilter    string  `mapstructure:"candidate_filter"`
	Concurrency        int     `mapstructure:"concurrency"`
}

// JobsConfig holds background job runner configuration
type JobsConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	Retention   time.Duration `mapstructure:"retention"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	PartialWait time.Duration `mapstructure:"partial_wait"`
}

// ImagesConfig holds image download configuration
type ImagesConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxBytes  int64         `mapstructure:"max_bytes"`
	MaxPixels int64         `mapstructure:"max_pixels"` // decoded width*height ceiling
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	RateLimit float64       `mapstructure:"rate_limit"` // downloads per second
}

// EmbeddingConfig holds text embedding configuration
type EmbeddingConfig struct {
	VectorsPath string `mapstructure:"vectors_path"` // GloVe/word2vec text file; empty uses hashing
	Dimension   int    `mapstructure:"dimension"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/lookalike/")

	// Environment variable settings
	v.SetEnvPrefix("LOOKALIKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
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

// loadEnvFile loads a .env file from the working directory when present.
// Variables already set in the environment win.
func loadEnvFile() error {
	if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(".env")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*"})
	v.SetDefault("server.page_size", 10)

	// Catalog defaults
	v.SetDefault("catalog.source_url", "https://www.boysnextdoor-apparel.co/collections/all/products.json")
	v.SetDefault("catalog.snapshot_path", "products.json")
	v.SetDefault("catalog.ttl", "24h")
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("catalog.rate_limit", 1.0)
	v.SetDefault("catalog.debug", false)

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "1h")

	// Ranking defaults
	v.SetDefault("ranking.mode", "top_k")
	v.SetDefault("ranking.k", 5)
	v.SetDefault("ranking.threshold", 0.5)
	v.SetDefault("ranking.text_weight", 0.6)
	v.SetDefault("ranking.image_weight", 0.4)
	v.SetDefault("ranking.include_description", false)
	v.SetDefault("ranking.candidate_filter", "")
	v.SetDefault("ranking.concurrency", 8)

	// Job runner defaults
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 64)
	v.SetDefault("jobs.retention", "15m")
	v.SetDefault("jobs.idle_timeout", "10m")
	v.SetDefault("jobs.partial_wait", "1500ms")

	// Image defaults
	v.SetDefault("images.timeout", "15s")
	v.SetDefault("images.max_bytes", 10<<20)
	v.SetDefault("images.max_pixels", 40_000_000)
	v.SetDefault("images.cache_ttl", "1h")
	v.SetDefault("images.rate_limit", 20.0)

	// Embedding defaults
	v.SetDefault("embedding.vectors_path", "")
	v.SetDefault("embedding.dimension", 4096)

	v.SetDefault("log.level", "info")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Catalog.SourceURL == "" {
		return fmt.Errorf("catalog source URL is required (set LOOKALIKE_CATALOG_SOURCE_URL)")
	}

	if config.Catalog.SnapshotPath == "" {
		return fmt.Errorf("catalog snapshot path is required")
	}

	if config.Cache.Type != "memory" && config.Cache.Type != "redis" {
		return fmt.Errorf("cache type must be 'memory' or 'redis', got: %s", config.Cache.Type)
	}

	if config.Cache.Type == "redis" && config.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required when cache type is 'redis'")
	}

	if config.Ranking.Mode != "top_k" && config.Ranking.Mode != "threshold" {
		return fmt.Errorf("ranking mode must be 'top_k' or 'threshold', got: %s", config.Ranking.Mode)
	}

	if config.Ranking.K <= 0 {
		return fmt.Errorf("ranking k must be positive, got: %d", config.Ranking.K)
	}

	if config.Ranking.TextWeight < 0 || config.Ranking.ImageWeight < 0 {
		return fmt.Errorf("ranking weights must not be negative")
	}

	if config.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs workers must be positive, got: %d", config.Jobs.Workers)
	}

	if config.Server.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got: %d", config.Server.PageSize)
	}

	return nil
}
