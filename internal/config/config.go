// Package config provides hierarchical configuration loading for chathub.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the chathub service.
type Config struct {
	Server   Server   `yaml:"server"`
	Auth     Auth     `yaml:"auth"`
	Dispatch Dispatch `yaml:"dispatch"`
	NATS     NATS     `yaml:"nats"`
	Logging  Logging  `yaml:"logging"`
	Breaker  Breaker  `yaml:"breaker"`
	Rate     Rate     `yaml:"rate"`
	OTEL     OTEL     `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Auth holds access token verification configuration.
type Auth struct {
	Enabled     bool          `yaml:"enabled"`
	JWTSecret   string        `yaml:"jwt_secret"`
	Issuer      string        `yaml:"issuer"`
	TokenTTL    time.Duration `yaml:"token_ttl"`     // lifetime of tokens issued by `chathub token`
	CacheTTL    time.Duration `yaml:"cache_ttl"`     // upper bound for caching a verified token
	CacheSizeMB int64         `yaml:"cache_size_mb"` // 0 disables the verified-token cache
}

// Dispatch holds broadcast fan-out configuration.
type Dispatch struct {
	SendTimeout  time.Duration `yaml:"send_timeout"`   // per-connection delivery bound
	MaxParallel  int           `yaml:"max_parallel"`   // concurrent sends per broadcast; 0 = unbounded
	MaxBodyBytes int           `yaml:"max_body_bytes"` // chat message body limit
}

// NATS holds cross-node relay configuration. An empty URL disables the relay.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	// TokenCacheBucket names a JetStream KV bucket shared by all nodes as
	// the L2 verified-token cache. Empty keeps the cache node-local.
	TokenCacheBucket string `yaml:"token_cache_bucket"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for relay publishing.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds per-identity send rate limiting configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// OTEL holds OpenTelemetry exporter configuration.
// An empty Endpoint keeps the global no-op providers.
type OTEL struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Auth: Auth{
			Enabled:     true,
			Issuer:      "chathub",
			TokenTTL:    time.Hour,
			CacheTTL:    5 * time.Minute,
			CacheSizeMB: 8,
		},
		Dispatch: Dispatch{
			SendTimeout:  5 * time.Second,
			MaxParallel:  0,
			MaxBodyBytes: 4096,
		},
		NATS: NATS{
			Subject: "chat.messages",
		},
		Logging: Logging{
			Level:   "info",
			Service: "chathub",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 5,
			Burst:             20,
			MaxIdleTime:       10 * time.Minute,
		},
		OTEL: OTEL{
			Insecure:    true,
			ServiceName: "chathub",
		},
	}
}
