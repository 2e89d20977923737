package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vjranagit/wattcache/pkg/aggregate"
	"github.com/vjranagit/wattcache/pkg/storage"
	"github.com/vjranagit/wattcache/pkg/tariff"
)

// Cache backends
const (
	CacheBadger = "badger"
	CacheMemory = "memory"
	CacheNone   = "none"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Cache    CacheConfig    `json:"cache"`
	Engine   EngineConfig   `json:"engine"`
	Log      LogConfig      `json:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr      string        `json:"listen_addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig locates the sample store
type DatabaseConfig struct {
	Path string `json:"path"`
}

// CacheConfig selects and sizes the cache store
type CacheConfig struct {
	Backend          string `json:"backend"`
	Path             string `json:"path"`
	Capacity         int    `json:"capacity"`
	CompressionLevel int    `json:"compression_level"`
}

// EngineConfig tunes aggregation
type EngineConfig struct {
	DefaultTimestep   int64  `json:"default_timestep"`
	MaxReturnedValues int64  `json:"max_returned_values"`
	NightRateStart    string `json:"night_rate_start"`
	NightRateEnd      string `json:"night_rate_end"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads an optional .env file, then the environment
func Load(envFiles ...string) *Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
	return DefaultConfig()
}

// DefaultConfig returns configuration from environment variables with defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/wattcache.db"),
		},
		Cache: CacheConfig{
			Backend:          getEnv("CACHE_BACKEND", CacheBadger),
			Path:             getEnv("CACHE_PATH", "./data/cache"),
			Capacity:         getEnvInt("CACHE_CAPACITY", 10000),
			CompressionLevel: getEnvInt("COMPRESSION_LEVEL", 2),
		},
		Engine: EngineConfig{
			DefaultTimestep:   int64(getEnvInt("DEFAULT_TIMESTEP", 8)),
			MaxReturnedValues: int64(getEnvInt("MAX_RETURNED_VALUES", 500)),
			NightRateStart:    getEnv("NIGHT_RATE_START", "22:00"),
			NightRateEnd:      getEnv("NIGHT_RATE_END", "06:00"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	cfg := storage.DefaultConfig()
	cfg.Path = c.Cache.Path
	cfg.CompressionLevel = c.Cache.CompressionLevel
	return cfg
}

// ToAggregateConfig converts to aggregate.Config
func (c *Config) ToAggregateConfig() aggregate.Config {
	cfg := aggregate.DefaultConfig()
	cfg.DefaultTimestep = c.Engine.DefaultTimestep
	cfg.MaxReturnedValues = c.Engine.MaxReturnedValues
	return cfg
}

// NightWindow parses the night tariff hours
func (c *Config) NightWindow() (tariff.NightWindow, error) {
	start, err := tariff.ParseClock(c.Engine.NightRateStart)
	if err != nil {
		return tariff.NightWindow{}, fmt.Errorf("night rate start: %w", err)
	}
	end, err := tariff.ParseClock(c.Engine.NightRateEnd)
	if err != nil {
		return tariff.NightWindow{}, fmt.Errorf("night rate end: %w", err)
	}
	return tariff.NightWindow{Start: start, End: end}, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	switch c.Cache.Backend {
	case CacheBadger:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache path is required for the badger backend")
		}
	case CacheMemory:
		if c.Cache.Capacity < 1 {
			return fmt.Errorf("cache capacity must be at least 1")
		}
	case CacheNone:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if c.Cache.CompressionLevel < 1 || c.Cache.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Engine.DefaultTimestep < 1 {
		return fmt.Errorf("default timestep must be at least 1 second")
	}

	if c.Engine.MaxReturnedValues < 1 {
		return fmt.Errorf("max returned values must be at least 1")
	}

	if _, err := c.NightWindow(); err != nil {
		return err
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or bare seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
