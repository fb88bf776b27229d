package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	Port        string `mapstructure:"PORT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	// Database configuration
	DBDriver       string `mapstructure:"DB_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`

	// Change feed configuration
	FeedBackend   string `mapstructure:"FEED_BACKEND"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Roster rules
	RosterOverflowMargin int           `mapstructure:"ROSTER_OVERFLOW_MARGIN"`
	NoPenaltyCutoff      time.Duration `mapstructure:"NO_PENALTY_CUTOFF"`

	// Membership reconciliation budget
	ReconcileInterval    time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	ReconcileMaxAttempts int           `mapstructure:"RECONCILE_MAX_ATTEMPTS"`

	SessionLifetime time.Duration `mapstructure:"SESSION_LIFETIME"`

	// OAuth providers
	DiscordKey         string `mapstructure:"DISCORD_KEY"`
	DiscordSecret      string `mapstructure:"DISCORD_SECRET"`
	DiscordCallbackURL string `mapstructure:"DISCORD_CALLBACK_URL"`
	GoogleKey          string `mapstructure:"GOOGLE_KEY"`
	GoogleSecret       string `mapstructure:"GOOGLE_SECRET"`
	GoogleCallbackURL  string `mapstructure:"GOOGLE_CALLBACK_URL"`
}

// Load reads configuration from an optional config file and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", "sqlite3")
	v.SetDefault("DATABASE_URL", "matchday.db?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	v.SetDefault("MIGRATIONS_PATH", "file://migrations")

	v.SetDefault("FEED_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ROSTER_OVERFLOW_MARGIN", 2)
	v.SetDefault("NO_PENALTY_CUTOFF", 24*time.Hour)

	v.SetDefault("RECONCILE_INTERVAL", 2*time.Second)
	v.SetDefault("RECONCILE_MAX_ATTEMPTS", 5)

	v.SetDefault("SESSION_LIFETIME", 24*time.Hour)

	v.SetDefault("DISCORD_KEY", "")
	v.SetDefault("DISCORD_SECRET", "")
	v.SetDefault("DISCORD_CALLBACK_URL", "")
	v.SetDefault("GOOGLE_KEY", "")
	v.SetDefault("GOOGLE_SECRET", "")
	v.SetDefault("GOOGLE_CALLBACK_URL", "")
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.FeedBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis feed")
		}
	default:
		return fmt.Errorf("unsupported FEED_BACKEND %q", c.FeedBackend)
	}

	if c.RosterOverflowMargin < 0 {
		return fmt.Errorf("ROSTER_OVERFLOW_MARGIN cannot be negative")
	}
	if c.ReconcileInterval <= 0 || c.ReconcileMaxAttempts <= 0 {
		return fmt.Errorf("reconcile interval and attempts must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
