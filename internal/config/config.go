// Package config loads service configuration from defaults, an optional YAML
// file and VENDORIQ_* environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Security      SecurityConfig      `mapstructure:"security"`
	Lifecycle     LifecycleConfig     `mapstructure:"lifecycle"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Log           LogConfig           `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// AdminKey protects the administrator endpoints. Empty disables the check.
	AdminKey        string        `mapstructure:"admin_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the attempt limiter. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Attempts int64         `mapstructure:"attempts"`
	Window   time.Duration `mapstructure:"window"`
}

type SecurityConfig struct {
	AESKey string `mapstructure:"aes_key"` // 32-byte hex-encoded key for AES-256
}

type LifecycleConfig struct {
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	DetailsURL string        `mapstructure:"details_url"`
}

type NotificationsConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	MaxWorkers  int `mapstructure:"max_workers"`
}

type TelemetryConfig struct {
	Exporter    string `mapstructure:"exporter"`    // stdout, otlp or none
	Environment string `mapstructure:"environment"` // development enables plain-HTTP OTLP
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or text
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: VENDORIQ_.
// Nested keys use underscore: VENDORIQ_DATABASE_PATH, VENDORIQ_SECURITY_AES_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("database.path", "vendoriq.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.attempts", 10)
	v.SetDefault("redis.window", "15m")
	v.SetDefault("security.aes_key", "")
	v.SetDefault("lifecycle.token_ttl", "72h")
	v.SetDefault("lifecycle.details_url", "")
	v.SetDefault("notifications.max_attempts", 10)
	v.SetDefault("notifications.max_workers", 2)
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("vendoriq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("VENDORIQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The file is optional when searching; an explicit path must exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	key, err := hex.DecodeString(c.Security.AESKey)
	if err != nil || len(key) != 32 {
		errs = append(errs, errors.New("security.aes_key must be 64 hex characters (32 bytes)"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Lifecycle.TokenTTL <= 0 {
		errs = append(errs, errors.New("lifecycle.token_ttl must be positive"))
	}
	if c.Redis.Addr != "" && (c.Redis.Attempts <= 0 || c.Redis.Window <= 0) {
		errs = append(errs, errors.New("redis.attempts and redis.window must be positive"))
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp", "none":
	default:
		errs = append(errs, fmt.Errorf("telemetry.exporter %q must be stdout, otlp or none", c.Telemetry.Exporter))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
