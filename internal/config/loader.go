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
const DefaultConfigFile = "guardian.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "GUARDIAN_PORT")
	setString(&cfg.Server.CORSOrigin, "GUARDIAN_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "GUARDIAN_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "GUARDIAN_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "GUARDIAN_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "GUARDIAN_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "GUARDIAN_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Room.URL, "GUARDIAN_ROOM_URL")
	setString(&cfg.Room.APIKey, "GUARDIAN_ROOM_API_KEY")
	setString(&cfg.Room.APISecret, "GUARDIAN_ROOM_API_SECRET")
	setBool(&cfg.Auth.Enabled, "GUARDIAN_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "GUARDIAN_JWT_SECRET")
	setDuration(&cfg.Auth.AccessTokenExpiry, "GUARDIAN_ACCESS_TOKEN_EXPIRY")
	setInt(&cfg.Auth.BcryptCost, "GUARDIAN_BCRYPT_COST")
	setString(&cfg.Auth.DefaultAdminEmail, "GUARDIAN_ADMIN_EMAIL")
	setString(&cfg.Auth.DefaultAdminPass, "GUARDIAN_ADMIN_PASS")
	setString(&cfg.Logging.Level, "GUARDIAN_LOG_LEVEL")
	setString(&cfg.Logging.Service, "GUARDIAN_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "GUARDIAN_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "GUARDIAN_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "GUARDIAN_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "GUARDIAN_RATE_RPS")
	setInt(&cfg.Rate.Burst, "GUARDIAN_RATE_BURST")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "GUARDIAN_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "GUARDIAN_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "GUARDIAN_CACHE_L2_TTL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "GUARDIAN_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "GUARDIAN_IDEMPOTENCY_TTL")

	// Otel
	setBool(&cfg.Otel.Enabled, "GUARDIAN_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "GUARDIAN_OTEL_ENDPOINT")
	setBool(&cfg.Otel.Insecure, "GUARDIAN_OTEL_INSECURE")

	// Guardian relay
	setInt(&cfg.Guardian.SnapshotSessions, "GUARDIAN_SNAPSHOT_SESSIONS")
	setInt(&cfg.Guardian.SnapshotEvents, "GUARDIAN_SNAPSHOT_EVENTS")
	setDuration(&cfg.Guardian.EventWindow, "GUARDIAN_EVENT_WINDOW")
	setDuration(&cfg.Guardian.StatsInterval, "GUARDIAN_STATS_INTERVAL")
	setDuration(&cfg.Guardian.StaleAfter, "GUARDIAN_STALE_AFTER")
	setDuration(&cfg.Guardian.JoinTokenTTL, "GUARDIAN_JOIN_TOKEN_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Guardian.SnapshotSessions < 1 {
		return errors.New("guardian.snapshot_sessions must be >= 1")
	}
	if cfg.Guardian.StatsInterval < time.Second {
		return errors.New("guardian.stats_interval must be >= 1s")
	}
	if cfg.Guardian.StaleAfter < time.Minute {
		return errors.New("guardian.stale_after must be >= 1m")
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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
