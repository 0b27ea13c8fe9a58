// Package config loads synapse settings from an optional YAML file and
// SYNAPSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/petrijr/synapse/internal/logging"
	"github.com/petrijr/synapse/internal/persistence"
	"github.com/petrijr/synapse/pkg/api"
)

// EnvPrefix is prepended to environment variable names, e.g.
// SYNAPSE_STORE_BACKEND overrides store.backend.
const EnvPrefix = "SYNAPSE"

// Config is the full synapse configuration.
type Config struct {
	Store   persistence.Config `mapstructure:"store"`
	Engine  EngineConfig       `mapstructure:"engine"`
	Server  ServerConfig       `mapstructure:"server"`
	Log     logging.Config     `mapstructure:"log"`
	Tracing TracingConfig      `mapstructure:"tracing"`
	Metrics MetricsConfig      `mapstructure:"metrics"`
	Workers WorkersConfig      `mapstructure:"workers"`
}

// EngineConfig tunes run execution.
type EngineConfig struct {
	Retry    RetryConfig `mapstructure:"retry"`
	MaxSteps int         `mapstructure:"max_steps"`
}

// RetryConfig sets the linear backoff between step attempts.
type RetryConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

// Policy converts the settings into an api.RetryPolicy.
func (r RetryConfig) Policy() api.RetryPolicy {
	return api.RetryPolicy{BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}
}

// ServerConfig is the listen address of the reporting service.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	// Endpoint is an OTLP/HTTP collector address; empty disables export.
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// MetricsConfig toggles the Prometheus observer and /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WorkersConfig sizes the pool used for concurrent runs.
type WorkersConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", string(persistence.BackendSQLite))
	v.SetDefault("store.path", persistence.DefaultSQLitePath)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.connect_timeout", 10*time.Second)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "synapse:")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "synapse")

	v.SetDefault("engine.retry.base_delay", api.DefaultBaseDelay)
	v.SetDefault("engine.retry.max_delay", api.DefaultMaxDelay)
	v.SetDefault("engine.max_steps", 1000)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.service_name", "synapse")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_size", 64)
}

// New returns a viper instance with defaults and environment binding but
// no config file. Callers may bind command-line flags onto it before
// calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configPath (if non-empty) into v and decodes the result.
// Precedence is flags, then environment, then file, then defaults.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile is Load with a fresh viper instance.
func LoadFile(configPath string) (*Config, error) {
	return Load(New(), configPath)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case persistence.BackendMemory, persistence.BackendSQLite, persistence.BackendPostgres,
		persistence.BackendRedis, persistence.BackendMongo:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Store.Backend == persistence.BackendPostgres && c.Store.DSN == "" {
		return errors.New("store.dsn: required for the postgres backend")
	}
	if c.Engine.Retry.BaseDelay < 0 || c.Engine.Retry.MaxDelay < 0 {
		return errors.New("engine.retry: delays must not be negative")
	}
	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps: must be positive, got %d", c.Engine.MaxSteps)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: out of range: %d", c.Server.Port)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count: must be positive, got %d", c.Workers.Count)
	}
	return nil
}
