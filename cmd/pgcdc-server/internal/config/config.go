// Package config provides configuration management for the pgcdc standalone
// server. Settings come from a YAML file and PGCDC_-prefixed environment
// variables, environment winning.
package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// Config holds all configuration for the pgcdc server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	CDC       CDCConfig       `mapstructure:"cdc"`
	Expansion ExpansionConfig `mapstructure:"expansion"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds the database connection configuration. TLS options
// ride inside the DSN (sslmode, sslrootcert, ...) and are forwarded to the
// driver verbatim.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CDCConfig holds engine configuration.
type CDCConfig struct {
	TriggerSchema     string        `mapstructure:"trigger_schema"`
	TriggerPrefix     string        `mapstructure:"trigger_prefix"`
	QueueSchema       string        `mapstructure:"queue_schema"`
	QueueTable        string        `mapstructure:"queue_table"`
	MaxRetries        int           `mapstructure:"max_retries"`
	MessageTTL        time.Duration `mapstructure:"message_ttl"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	ReconcileStrategy string        `mapstructure:"reconcile_strategy"`

	// Tables lists database tables to watch with the built-in logging
	// handler. Useful for smoke-testing a deployment before wiring real
	// handlers.
	Tables []string `mapstructure:"tables"`
}

// ExpansionConfig holds the expansion engine defaults.
type ExpansionConfig struct {
	// ErrorPolicy is the module-wide default: ignore, include or throw.
	ErrorPolicy string `mapstructure:"error_policy"`
}

// Load reads configuration from the optional file path and the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	// Keys without a default are invisible to Unmarshal's environment
	// lookup, so the env-only settings get empty defaults.
	v.SetDefault("database.dsn", "")
	v.SetDefault("cdc.tables", []string{})
	v.SetDefault("cdc.trigger_schema", "public")
	v.SetDefault("cdc.trigger_prefix", "pubsub_trigger")
	v.SetDefault("cdc.queue_schema", "public")
	v.SetDefault("cdc.queue_table", "pg_pubsub_queue")
	v.SetDefault("cdc.max_retries", 5)
	v.SetDefault("cdc.message_ttl", 24*time.Hour)
	v.SetDefault("cdc.cleanup_interval", time.Hour)
	v.SetDefault("cdc.reconcile_strategy", "differential")
	v.SetDefault("expansion.error_policy", "ignore")

	v.SetEnvPrefix("PGCDC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.DSN, validation.Required),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.CDC,
		validation.Field(&c.CDC.MaxRetries, validation.Required, validation.Min(1)),
		validation.Field(&c.CDC.ReconcileStrategy, validation.In("atomic", "differential")),
	); err != nil {
		return err
	}
	return validation.ValidateStruct(&c.Expansion,
		validation.Field(&c.Expansion.ErrorPolicy, validation.In("ignore", "include", "throw")),
	)
}
