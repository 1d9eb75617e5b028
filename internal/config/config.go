package config

import (
	"time"
)

type Config struct {
	Engine       EngineConfig       `mapstructure:"engine"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	SessionStore SessionStoreConfig `mapstructure:"session_store"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	HTTPClient   HTTPClientConfig   `mapstructure:"http_client"`
}

// EngineConfig configures the Multi-Server Manager and the facade built
// on top of it.
type EngineConfig struct {
	Servers                  []string      `mapstructure:"servers"`
	Token                    string        `mapstructure:"token"`
	PollingInterval          time.Duration `mapstructure:"polling_interval"`
	CorrelationIDLength      int           `mapstructure:"correlation_id_length"`
	CorrelationIDNonceLength int           `mapstructure:"correlation_id_nonce_length"`
	KeepAliveInterval        time.Duration `mapstructure:"keep_alive_interval"`
	// StatePath is where the non-confidential EngineState (interaction
	// log, active URLs, filter) is persisted as a single JSON document,
	// separate from the encrypted-at-rest sessionstore.
	StatePath string `mapstructure:"state_path"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	Environment string   `mapstructure:"environment"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// SessionStoreConfig configures where RSA keypairs and client sessions
// persist across process restarts.
type SessionStoreConfig struct {
	Backend      string        `mapstructure:"backend"` // "bbolt" or "redis"
	BoltPath     string        `mapstructure:"bolt_path"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisPassword string       `mapstructure:"redis_password"`
	RedisDB      int           `mapstructure:"redis_db"`
	RedisTimeout time.Duration `mapstructure:"redis_timeout"`
	Passphrase   string        `mapstructure:"passphrase"`
}

// ArchiveConfig configures the optional Postgres interaction archive.
type ArchiveConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RateLimitConfig struct {
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
}

// HTTPClientConfig configures the transport used for register/poll/
// deregister calls.
type HTTPClientConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	FollowRedirects bool          `mapstructure:"follow_redirects"`
	VerifySSL       bool          `mapstructure:"verify_ssl"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// Validate checks the configuration for internally inconsistent values
// that viper's defaulting cannot catch.
func (c *Config) Validate() error {
	if len(c.Engine.Servers) == 0 {
		return errConfigNoServers
	}
	if c.SessionStore.Backend != "bbolt" && c.SessionStore.Backend != "redis" {
		return errConfigUnknownBackend
	}
	return nil
}

// DefaultConfig returns the engine's baseline configuration. Callers
// layer viper-sourced overrides (flags, env, config file) on top of
// this via cmd/oastengine.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Servers:                  []string{"oast.fun", "oast.pro", "oast.live", "oast.site", "oast.online", "oast.me"},
			PollingInterval:          5 * time.Second,
			CorrelationIDLength:      20,
			CorrelationIDNonceLength: 13,
			KeepAliveInterval:        60 * time.Second,
			StatePath:                "oastengine-state.json",
		},
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			Environment: "production",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      true,
			ServiceName:  "oastengine",
			ExporterType: "otlp",
			Endpoint:     "localhost:4317",
			SampleRate:   1.0,
		},
		SessionStore: SessionStoreConfig{
			Backend:      "bbolt",
			BoltPath:     "oastengine.db",
			RedisDB:      0,
			RedisTimeout: 5 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:         false,
			MaxConnections:  10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 1 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			BurstSize:         10,
			MinDelay:          100 * time.Millisecond,
		},
		HTTPClient: HTTPClientConfig{
			Timeout:         10 * time.Second,
			MaxRetries:      2,
			FollowRedirects: true,
			VerifySSL:       true,
			UserAgent:       "oastengine/1.0",
		},
	}
}
