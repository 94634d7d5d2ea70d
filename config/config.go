// Package config loads engine configuration from YAML files and environment
// variables. Every setting has a default so the engine starts with no config
// file at all.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// StorageBackend selects the persistence implementation.
type StorageBackend string

const (
	BackendMemory  StorageBackend = "memory"
	BackendSQLite  StorageBackend = "sqlite"
	BackendMongoDB StorageBackend = "mongodb"
)

// Config holds all configuration for the engine.
type Config struct {
	Storage struct {
		Backend    StorageBackend `mapstructure:"backend" validate:"oneof=memory sqlite mongodb"`
		SQLitePath string         `mapstructure:"sqlite_path"`
		MongoDB    struct {
			URI         string `mapstructure:"uri"`
			Database    string `mapstructure:"database"`
			MaxPoolSize uint64 `mapstructure:"max_pool_size" validate:"min=1"`
		} `mapstructure:"mongodb"`
	} `mapstructure:"storage"`

	Ingest struct {
		Workers          int `mapstructure:"workers" validate:"min=1"`
		QueueSize        int `mapstructure:"queue_size" validate:"min=1"`
		RateLimit        int `mapstructure:"rate_limit" validate:"min=1"`        // events per second
		RateBurst        int `mapstructure:"rate_burst" validate:"min=1"`        // token bucket burst
		RegexCacheSize   int `mapstructure:"regex_cache_size" validate:"min=1"`  // compiled pattern cache
		ShutdownTimeoutS int `mapstructure:"shutdown_timeout_s" validate:"min=1"`
	} `mapstructure:"ingest"`

	Alerting struct {
		DedupWindowS int `mapstructure:"dedup_window_s" validate:"min=1"` // seconds
		Redis        struct {
			Enabled  bool   `mapstructure:"enabled"`
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"alerting"`

	Rules struct {
		File string `mapstructure:"file"` // optional YAML seed rules
	} `mapstructure:"rules"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	} `mapstructure:"api"`

	Logging struct {
		Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"logging"`
}

// DedupWindow returns the alert dedup window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Alerting.DedupWindowS) * time.Second
}

// ShutdownTimeout returns the pipeline shutdown grace period.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Ingest.ShutdownTimeoutS) * time.Second
}

func setDefaults() {
	viper.SetDefault("storage.backend", string(BackendMemory))
	viper.SetDefault("storage.sqlite_path", "./data/argus.db")
	viper.SetDefault("storage.mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("storage.mongodb.database", "argus")
	viper.SetDefault("storage.mongodb.max_pool_size", 10)

	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.queue_size", 1000)
	viper.SetDefault("ingest.rate_limit", 5000)
	viper.SetDefault("ingest.rate_burst", 10000)
	viper.SetDefault("ingest.regex_cache_size", 512)
	viper.SetDefault("ingest.shutdown_timeout_s", 30)

	viper.SetDefault("alerting.dedup_window_s", 3600)
	viper.SetDefault("alerting.redis.enabled", false)
	viper.SetDefault("alerting.redis.addr", "localhost:6379")
	viper.SetDefault("alerting.redis.password", "")
	viper.SetDefault("alerting.redis.db", 0)

	viper.SetDefault("rules.file", "")

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)
}

func loadFromEnv() {
	viper.SetEnvPrefix("ARGUS")
	viper.AutomaticEnv()

	_ = viper.BindEnv("storage.backend", "ARGUS_STORAGE_BACKEND")
	_ = viper.BindEnv("storage.sqlite_path", "ARGUS_SQLITE_PATH")
	_ = viper.BindEnv("storage.mongodb.uri", "ARGUS_MONGODB_URI")
	_ = viper.BindEnv("alerting.redis.addr", "ARGUS_REDIS_ADDR")
	_ = viper.BindEnv("alerting.redis.password", "ARGUS_REDIS_PASSWORD")
	_ = viper.BindEnv("api.port", "ARGUS_API_PORT")
	_ = viper.BindEnv("logging.level", "ARGUS_LOG_LEVEL")
}

// Load reads configuration from config.yaml (current directory or ./config),
// environment variables, and defaults, then validates the result.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	// No config file is fine; defaults and env vars apply.
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
