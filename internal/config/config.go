// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Points    PointsConfig    `mapstructure:"points"`
	Retention RetentionConfig `mapstructure:"retention"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// AuthConfig holds bearer token verification settings.
// Tokens are issued by the account service; this process only verifies them.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// PointsConfig holds quiz ledger configuration.
type PointsConfig struct {
	QuizCooldown time.Duration `mapstructure:"quiz_cooldown"`
	HistoryLimit int           `mapstructure:"history_limit"`
	// SerializeSubmissions serializes quiz completions per user inside this
	// process. Off by default; see DESIGN.md for the cooldown race.
	SerializeSubmissions bool `mapstructure:"serialize_submissions"`
}

// RetentionConfig holds chat message retention configuration.
type RetentionConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxAge             time.Duration `mapstructure:"max_age"`
	MaxPerConversation int           `mapstructure:"max_per_conversation"`
	Schedule           string        `mapstructure:"schedule"`
	Timezone           string        `mapstructure:"timezone"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location resolves the configured timezone for the cleanup schedule.
func (r *RetentionConfig) Location() (*time.Location, error) {
	switch r.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(r.Timezone)
	}
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, AUTH_JWT_SECRET, RETENTION_SCHEDULE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise break the ledger or the retention job.
func (c *Config) Validate() error {
	var errs []error
	if c.Points.QuizCooldown <= 0 {
		errs = append(errs, errors.New("points.quiz_cooldown must be positive"))
	}
	if c.Points.HistoryLimit <= 0 {
		errs = append(errs, errors.New("points.history_limit must be positive"))
	}
	if c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("retention.max_age must be positive"))
	}
	if c.Retention.MaxPerConversation <= 0 {
		errs = append(errs, errors.New("retention.max_per_conversation must be positive"))
	}
	if c.Retention.Enabled && strings.TrimSpace(c.Retention.Schedule) == "" {
		errs = append(errs, errors.New("retention.schedule is required when retention is enabled"))
	}
	if _, err := c.Retention.Location(); err != nil {
		errs = append(errs, fmt.Errorf("retention.timezone: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "epicstoria")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("auth.jwt_secret", "default_secret")

	// One week between attempts of the same quiz
	v.SetDefault("points.quiz_cooldown", "168h")
	v.SetDefault("points.history_limit", 50)
	v.SetDefault("points.serialize_submissions", false)

	// Daily at 03:00, keep one week and 100 messages per conversation
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.max_age", "168h")
	v.SetDefault("retention.max_per_conversation", 100)
	v.SetDefault("retention.schedule", "0 3 * * *")
	v.SetDefault("retention.timezone", "Local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
