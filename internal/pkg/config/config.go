// Package config loads application configuration for every worker in the
// ingestion pipeline (Importer, Poller, Publisher, Detector, Writer) from a
// YAML file and environment variables, with a Load/Validate split on top
// of viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Agencies  []AgencyConfig  `mapstructure:"agencies"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Poll      PollConfig      `mapstructure:"poll"`
	Importer  ImporterConfig  `mapstructure:"importer"`
	Writer    WriterConfig    `mapstructure:"writer"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Readiness ReadinessConfig `mapstructure:"readiness"`
}

// AgencyConfig describes one transit operator's feeds.
type AgencyConfig struct {
	Slug                string `mapstructure:"slug"`
	Name                string `mapstructure:"name"`
	StaticURL           string `mapstructure:"static_url"`
	VehiclePositionsURL string `mapstructure:"vehicle_positions_url"`
	TripUpdatesURL      string `mapstructure:"trip_updates_url"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password_file"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password_file"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// PollConfig configures the Realtime Poller.
type PollConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	MinPayloadBytes int           `mapstructure:"min_payload_bytes"`
}

// ImporterConfig configures the Static Importer.
type ImporterConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	DataDir     string        `mapstructure:"data_dir"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// WriterConfig configures the Batch Writer.
type WriterConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// DetectorConfig configures the Detector.
type DetectorConfig struct {
	Timezone                  string `mapstructure:"timezone"`
	NegativeDelayFloorSeconds int    `mapstructure:"negative_delay_floor_seconds"`
	StaticCacheSize           int    `mapstructure:"static_cache_size"`
}

// ReadinessConfig configures startup blocking on the Ready flag.
type ReadinessConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from file and environment variables, then
// resolves any `*_FILE` secret indirection and validates the result.
func Load(service string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "transit")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "bilbopass")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("poll.interval", 3*time.Second)
	v.SetDefault("poll.http_timeout", 30*time.Second)
	v.SetDefault("poll.min_payload_bytes", 10)
	v.SetDefault("importer.interval", time.Hour)
	v.SetDefault("importer.data_dir", "./data")
	v.SetDefault("importer.http_timeout", 2*time.Minute)
	v.SetDefault("writer.batch_size", 100)
	v.SetDefault("writer.flush_interval", 10*time.Second)
	v.SetDefault("detector.timezone", "Europe/Warsaw")
	v.SetDefault("detector.negative_delay_floor_seconds", -90)
	v.SetDefault("detector.static_cache_size", 4096)
	v.SetDefault("readiness.poll_interval", 5*time.Second)
	v.SetDefault("readiness.timeout", 5*time.Minute)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	v.SetEnvPrefix("BILBOPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.resolveSecretFiles(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveSecretFiles applies the `*_FILE` indirection convention: when the
// file variant is set, its contents override the inline value.
func (c *Config) resolveSecretFiles() error {
	if c.Database.PasswordFile != "" {
		pw, err := readSecretFile(c.Database.PasswordFile)
		if err != nil {
			return fmt.Errorf("database.password_file: %w", err)
		}
		c.Database.Password = pw
	}
	if c.Valkey.PasswordFile != "" {
		pw, err := readSecretFile(c.Valkey.PasswordFile)
		if err != nil {
			return fmt.Errorf("valkey.password_file: %w", err)
		}
		c.Valkey.Password = pw
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Agencies) == 0 {
		errs = append(errs, "at least one agency must be configured")
	}
	for i, a := range c.Agencies {
		if a.Slug == "" {
			errs = append(errs, fmt.Sprintf("agencies[%d].slug is required", i))
		}
		if a.StaticURL == "" {
			errs = append(errs, fmt.Sprintf("agencies[%d].static_url is required", i))
		}
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, "poll.interval must be positive")
	}
	if c.Poll.HTTPTimeout <= 0 {
		errs = append(errs, "poll.http_timeout must be positive")
	}
	if c.Importer.Interval <= 0 {
		errs = append(errs, "importer.interval must be positive")
	}
	if c.Writer.BatchSize <= 0 {
		errs = append(errs, "writer.batch_size must be positive")
	}
	if c.Writer.FlushInterval <= 0 {
		errs = append(errs, "writer.flush_interval must be positive")
	}
	if c.Detector.Timezone == "" {
		errs = append(errs, "detector.timezone is required")
	} else if _, err := time.LoadLocation(c.Detector.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("detector.timezone %q is invalid: %v", c.Detector.Timezone, err))
	}
	if c.Readiness.Timeout <= 0 {
		errs = append(errs, "readiness.timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
