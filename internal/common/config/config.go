// Package config provides configuration management for kanrun.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kandev/kanrun/internal/common/logger"
)

// Config holds all configuration sections.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Profiles  ProfilesConfig  `mapstructure:"profiles"`
	Scratch   ScratchConfig   `mapstructure:"scratch"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"` // postgres open connections
	MinConns int    `mapstructure:"minConns"` // postgres idle connections

	ReaderConns   int `mapstructure:"readerConns"`   // sqlite read-only pool size
	BusyTimeoutMs int `mapstructure:"busyTimeoutMs"` // sqlite lock wait
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// SchedulerConfig controls the scheduled execution poller.
type SchedulerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	PollInterval  int  `mapstructure:"pollInterval"`  // in seconds
	BatchSize     int  `mapstructure:"batchSize"`     // max due rows per poll
	InvokeTimeout int  `mapstructure:"invokeTimeout"` // in seconds, 0 = no timeout
	MaxConcurrent int  `mapstructure:"maxConcurrent"` // invocations in flight
}

// ProfilesConfig locates the executor profile document.
type ProfilesConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// ScratchConfig controls draft selection persistence.
type ScratchConfig struct {
	DebounceMs int `mapstructure:"debounceMs"`
}

// DiscoveryConfig controls the discovered-options cache.
type DiscoveryConfig struct {
	CacheTTL      int `mapstructure:"cacheTtl"` // in seconds
	CacheCapacity int `mapstructure:"cacheCapacity"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PollIntervalDuration returns the poll interval as a time.Duration.
func (s *SchedulerConfig) PollIntervalDuration() time.Duration {
	return time.Duration(s.PollInterval) * time.Second
}

// InvokeTimeoutDuration returns the invocation timeout; zero disables it.
func (s *SchedulerConfig) InvokeTimeoutDuration() time.Duration {
	return time.Duration(s.InvokeTimeout) * time.Second
}

// Debounce returns the scratch write debounce window.
func (s *ScratchConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// TTL returns the discovered-options cache TTL.
func (d *DiscoveryConfig) TTL() time.Duration {
	return time.Duration(d.CacheTTL) * time.Second
}

// BusyTimeout returns the sqlite lock wait as a time.Duration.
func (d *DatabaseConfig) BusyTimeout() time.Duration {
	return time.Duration(d.BusyTimeoutMs) * time.Millisecond
}

// DSN returns the PostgreSQL keyword/value connection string. An empty
// password is left out so the next keyword is not read as its value.
func (d *DatabaseConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", d.Host),
		fmt.Sprintf("port=%d", d.Port),
		fmt.Sprintf("user=%s", d.User),
	}
	if d.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", d.Password))
	}
	parts = append(parts,
		fmt.Sprintf("dbname=%s", d.DBName),
		fmt.Sprintf("sslmode=%s", d.SSLMode),
	)
	return strings.Join(parts, " ")
}

func defaultProfilesPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./profiles.json"
	}
	return filepath.Join(home, ".kanrun", "profiles.json")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./kanrun.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "kanrun")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "kanrun")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)
	v.SetDefault("database.readerConns", 4)
	v.SetDefault("database.busyTimeoutMs", 5000)

	// Empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "kanrun")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logger.DetectFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.pollInterval", 15)
	v.SetDefault("scheduler.batchSize", 100)
	v.SetDefault("scheduler.invokeTimeout", 0)
	v.SetDefault("scheduler.maxConcurrent", 8)

	v.SetDefault("profiles.path", defaultProfilesPath())
	v.SetDefault("profiles.watch", true)

	v.SetDefault("scratch.debounceMs", 500)

	v.SetDefault("discovery.cacheTtl", 300)
	v.SetDefault("discovery.cacheCapacity", 64)

	v.SetDefault("tracing.endpoint", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix KANRUN_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("KANRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE env vars.
	_ = v.BindEnv("database.path", "KANRUN_DB_PATH", "KANRUN_DATABASE_PATH")
	_ = v.BindEnv("database.driver", "KANRUN_DB_DRIVER", "KANRUN_DATABASE_DRIVER")
	_ = v.BindEnv("scheduler.pollInterval", "KANRUN_SCHEDULER_POLL_INTERVAL")
	_ = v.BindEnv("scheduler.batchSize", "KANRUN_SCHEDULER_BATCH_SIZE")
	_ = v.BindEnv("scheduler.invokeTimeout", "KANRUN_SCHEDULER_INVOKE_TIMEOUT")
	_ = v.BindEnv("scheduler.maxConcurrent", "KANRUN_SCHEDULER_MAX_CONCURRENT")
	_ = v.BindEnv("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "KANRUN_TRACING_ENDPOINT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/kanrun/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
		if cfg.Database.ReaderConns <= 0 {
			errs = append(errs, "database.readerConns must be positive")
		}
		if cfg.Database.BusyTimeoutMs < 0 {
			errs = append(errs, "database.busyTimeoutMs must not be negative")
		}
	case "postgres":
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Scheduler.PollInterval <= 0 {
		errs = append(errs, "scheduler.pollInterval must be positive")
	}
	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, "scheduler.batchSize must be positive")
	}
	if cfg.Scheduler.InvokeTimeout < 0 {
		errs = append(errs, "scheduler.invokeTimeout must not be negative")
	}
	if cfg.Scheduler.MaxConcurrent <= 0 {
		errs = append(errs, "scheduler.maxConcurrent must be positive")
	}

	if cfg.Profiles.Path == "" {
		errs = append(errs, "profiles.path is required")
	}
	if cfg.Scratch.DebounceMs < 0 {
		errs = append(errs, "scratch.debounceMs must not be negative")
	}
	if cfg.Discovery.CacheTTL <= 0 {
		errs = append(errs, "discovery.cacheTtl must be positive")
	}
	if cfg.Discovery.CacheCapacity <= 0 {
		errs = append(errs, "discovery.cacheCapacity must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
