package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "chathub.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML path may be overridden with CHATHUB_CONFIG; a missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("CHATHUB_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty, parseable env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CHATHUB_PORT")
	setString(&cfg.Server.CORSOrigin, "CHATHUB_CORS_ORIGIN")

	setBool(&cfg.Auth.Enabled, "CHATHUB_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "CHATHUB_JWT_SECRET")
	setString(&cfg.Auth.Issuer, "CHATHUB_JWT_ISSUER")
	setDuration(&cfg.Auth.TokenTTL, "CHATHUB_TOKEN_TTL")
	setDuration(&cfg.Auth.CacheTTL, "CHATHUB_AUTH_CACHE_TTL")
	setInt64(&cfg.Auth.CacheSizeMB, "CHATHUB_AUTH_CACHE_SIZE_MB")

	setDuration(&cfg.Dispatch.SendTimeout, "CHATHUB_SEND_TIMEOUT")
	setInt(&cfg.Dispatch.MaxParallel, "CHATHUB_MAX_PARALLEL")
	setInt(&cfg.Dispatch.MaxBodyBytes, "CHATHUB_MAX_BODY_BYTES")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Subject, "CHATHUB_NATS_SUBJECT")
	setString(&cfg.NATS.TokenCacheBucket, "CHATHUB_NATS_TOKEN_CACHE_BUCKET")

	setString(&cfg.Logging.Level, "CHATHUB_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CHATHUB_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CHATHUB_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "CHATHUB_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CHATHUB_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "CHATHUB_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CHATHUB_RATE_BURST")
	setDuration(&cfg.Rate.MaxIdleTime, "CHATHUB_RATE_MAX_IDLE_TIME")

	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "CHATHUB_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
}

// validate checks that required fields are set and values are in range.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	if cfg.Auth.CacheSizeMB < 0 {
		return errors.New("auth.cache_size_mb must be >= 0")
	}
	if cfg.Dispatch.SendTimeout <= 0 {
		return errors.New("dispatch.send_timeout must be > 0")
	}
	if cfg.Dispatch.MaxParallel < 0 {
		return errors.New("dispatch.max_parallel must be >= 0")
	}
	if cfg.Dispatch.MaxBodyBytes < 1 {
		return errors.New("dispatch.max_body_bytes must be >= 1")
	}
	if cfg.NATS.URL != "" && cfg.NATS.Subject == "" {
		return errors.New("nats.subject is required when nats.url is set")
	}
	if cfg.NATS.TokenCacheBucket != "" && cfg.NATS.URL == "" {
		return errors.New("nats.token_cache_bucket requires nats.url")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.RequestsPerSecond <= 0 {
		return errors.New("rate.requests_per_second must be > 0")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
