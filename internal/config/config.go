// Package config provides configuration management for the reconciliation service.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
//
// Import Path: dpsrecon.io/reconciliation/internal/config
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // zone database for hosts without one

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Log            LogConfig            `mapstructure:"log"`
	River          RiverConfig          `mapstructure:"river"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	NATS           NATSConfig           `mapstructure:"nats"`
	PrisonAPI      PrisonAPIConfig      `mapstructure:"prison_api"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Security       SecurityConfig       `mapstructure:"security"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// The ledger and River share one pgxpool.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	MaxAttempts                 int           `mapstructure:"max_attempts"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize   int `mapstructure:"general_pool_size"`
	ReconcilePoolSize int `mapstructure:"reconcile_pool_size"`
}

// NATSConfig contains the inbound event subscription settings.
type NATSConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Embedded starts an in-process JetStream server and subscribes to it.
	Embedded     bool   `mapstructure:"embedded"`
	EmbeddedPort int    `mapstructure:"embedded_port"`
	StoreDir     string `mapstructure:"store_dir"`

	URL              string        `mapstructure:"url"`
	Subject          string        `mapstructure:"subject"`
	QueueGroup       string        `mapstructure:"queue_group"`
	DurableName      string        `mapstructure:"durable_name"`
	StreamName       string        `mapstructure:"stream_name"`
	SubscribersCount int           `mapstructure:"subscribers_count"`
	AckWaitTimeout   time.Duration `mapstructure:"ack_wait_timeout"`
	MaxDeliver       int           `mapstructure:"max_deliver"`
	MaxAckPending    int           `mapstructure:"max_ack_pending"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	ReconnectWait    time.Duration `mapstructure:"reconnect_wait"`
}

// PrisonAPIConfig configures the movement history client.
type PrisonAPIConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Token            string        `mapstructure:"token"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// ReconciliationConfig contains matching and housekeeping settings.
type ReconciliationConfig struct {
	TimeZone         string        `mapstructure:"time_zone"`
	MatchWindow      time.Duration `mapstructure:"match_window"`
	Retention        time.Duration `mapstructure:"retention"`
	PurgeInterval    time.Duration `mapstructure:"purge_interval"`
	DetectFromOffset time.Duration `mapstructure:"detect_from_offset"`
	DetectToOffset   time.Duration `mapstructure:"detect_to_offset"`
	ReportSampleSize int           `mapstructure:"report_sample_size"`
}

// Location loads the canonical time zone.
func (c ReconciliationConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// SecurityConfig contains HTTP authentication settings.
type SecurityConfig struct {
	AuthEnabled   bool   `mapstructure:"auth_enabled"`
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	RequiredRole  string `mapstructure:"required_role"`
}

// Load reads configuration from file and environment variables.
// Environment names carry no prefix (DATABASE_URL, PRISON_API_BASE_URL, etc.).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/dps-reconciliation")

	// Maps nested config: reconciliation.match_window → RECONCILIATION_MATCH_WINDOW
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	r := c.Reconciliation
	if r.MatchWindow <= 0 {
		return fmt.Errorf("reconciliation.match_window must be positive")
	}
	if r.Retention <= 0 {
		return fmt.Errorf("reconciliation.retention must be positive")
	}
	if r.PurgeInterval <= 0 {
		return fmt.Errorf("reconciliation.purge_interval must be positive")
	}
	if r.DetectToOffset <= 0 || r.DetectFromOffset <= r.DetectToOffset {
		return fmt.Errorf("reconciliation.detect_from_offset must exceed a positive detect_to_offset")
	}
	if _, err := r.Location(); err != nil {
		return err
	}
	if c.PrisonAPI.BaseURL == "" {
		return fmt.Errorf("prison_api.base_url must not be empty")
	}
	if c.Security.AuthEnabled && len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters when auth is enabled")
	}
	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url must not be empty when nats is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "reconciliation")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "reconciliation")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.max_attempts", 5)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 50)
	v.SetDefault("worker.reconcile_pool_size", 8)

	// NATS
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.embedded_port", 4222)
	v.SetDefault("nats.store_dir", "")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "reconciliation.events")
	v.SetDefault("nats.queue_group", "dps-reconciliation")
	v.SetDefault("nats.durable_name", "dps-reconciliation")
	v.SetDefault("nats.stream_name", "")
	v.SetDefault("nats.subscribers_count", 2)
	v.SetDefault("nats.ack_wait_timeout", "30s")
	v.SetDefault("nats.max_deliver", 5)
	v.SetDefault("nats.max_ack_pending", 1000)
	v.SetDefault("nats.close_timeout", "30s")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	// Prison API
	v.SetDefault("prison_api.base_url", "")
	v.SetDefault("prison_api.token", "")
	v.SetDefault("prison_api.timeout", "10s")
	v.SetDefault("prison_api.failure_threshold", 5)
	v.SetDefault("prison_api.open_timeout", "30s")

	// Reconciliation
	v.SetDefault("reconciliation.time_zone", "Europe/London")
	v.SetDefault("reconciliation.match_window", "2h")
	v.SetDefault("reconciliation.retention", "336h")
	v.SetDefault("reconciliation.purge_interval", "24h")
	v.SetDefault("reconciliation.detect_from_offset", "4h")
	v.SetDefault("reconciliation.detect_to_offset", "2h")
	v.SetDefault("reconciliation.report_sample_size", 10)

	// Security
	v.SetDefault("security.auth_enabled", true)
	v.SetDefault("security.jwt_signing_key", "")
	v.SetDefault("security.required_role", "ROLE_DPS_RECONCILIATION__RW")
}
