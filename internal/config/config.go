// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Venues      VenuesConfig      `mapstructure:"venues"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// RedisConfig holds the key/value store address.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the host:port address for the redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig holds the metrics/health HTTP server configuration.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// VenuesConfig selects which venues are active and the ingest mode.
type VenuesConfig struct {
	Enabled     []string `mapstructure:"enabled"`
	UseTwoPhase bool     `mapstructure:"use_two_phase"`
}

// CredentialsConfig holds the external credentials feed location.
type CredentialsConfig struct {
	BackendAPIURL string `mapstructure:"backend_api_url"`
	ServiceSecret string `mapstructure:"service_secret"`
}

// DiscoveryConfig holds spread discovery thresholds and timing.
type DiscoveryConfig struct {
	MinSpreadBps      float64       `mapstructure:"min_spread_bps"`
	MinDepthUSD       float64       `mapstructure:"min_depth_usd"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	PublishInterval   time.Duration `mapstructure:"publish_interval"`
	StalenessInterval time.Duration `mapstructure:"staleness_interval"`
	TopN              int           `mapstructure:"top_n"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("INGEST")
	v.AutomaticEnv()

	// Bind env vars to config keys
	bindEnvVars(v)

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars binds the environment variable names named in the external
// interface surface directly, in addition to the INGEST_-prefixed form viper
// derives automatically from the mapstructure path.
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.log_level", "INGEST_LOG_LEVEL", "LOG_LEVEL")

	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")

	v.BindEnv("metrics.port", "METRICS_PORT")

	v.BindEnv("venues.enabled", "ENABLED_EXCHANGES")
	v.BindEnv("venues.use_two_phase", "USE_TWO_PHASE")

	v.BindEnv("credentials.backend_api_url", "BACKEND_API_URL")
	v.BindEnv("credentials.service_secret", "SERVICE_SECRET")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "md-ingest")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	// Metrics defaults
	v.SetDefault("metrics.port", 9090)

	// Venue defaults
	v.SetDefault("venues.enabled", []string{
		"binance", "bybit", "okx", "kucoin", "mexc",
		"bitget", "gateio", "bingx", "coinex", "lbank", "htx",
	})
	v.SetDefault("venues.use_two_phase", true)

	// Discovery defaults
	v.SetDefault("discovery.min_spread_bps", 1.0)
	v.SetDefault("discovery.min_depth_usd", 0.0)
	v.SetDefault("discovery.refresh_interval", "30s")
	v.SetDefault("discovery.publish_interval", "500ms")
	v.SetDefault("discovery.staleness_interval", "30s")
	v.SetDefault("discovery.top_n", 100)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "md-ingest")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis.host is required")
	}
	if c.Redis.Port == 0 {
		return fmt.Errorf("redis.port is required")
	}
	if c.Metrics.Port == 0 {
		return fmt.Errorf("metrics.port is required")
	}
	if len(c.Venues.Enabled) == 0 {
		return fmt.Errorf("venues.enabled cannot be empty")
	}
	if c.Discovery.MinSpreadBps < 0 {
		return fmt.Errorf("discovery.min_spread_bps cannot be negative")
	}
	return nil
}

// EnabledVenues returns the configured venue names, trimmed and lower-cased.
func (c *Config) EnabledVenues() []string {
	out := make([]string, 0, len(c.Venues.Enabled))
	for _, v := range c.Venues.Enabled {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
