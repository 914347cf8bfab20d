package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration, resolved once at startup and
// injected explicitly; nothing reads the environment after Load returns.
type Config struct {
	Addr        string
	Environment string

	PGDSN     string
	RedisAddr string

	JWTSecret            string
	JWTExpiry            time.Duration
	RefreshTokenLifetime int
	Issuer               string

	BaseURL  string
	SMTPAddr string
	SMTPFrom string

	AuditBuffer   int
	SweepInterval time.Duration
}

// Load reads configuration from the environment, with an optional .env
// file for local development. It fails fast on missing required values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:                 envStr("ATHENAEUM_ADDR", ":8080"),
		Environment:          envStr("ATHENAEUM_ENV", "development"),
		PGDSN:                envStr("ATHENAEUM_PG_DSN", ""),
		RedisAddr:            envStr("ATHENAEUM_REDIS_ADDR", ""),
		JWTSecret:            envStr("ATHENAEUM_JWT_SECRET", ""),
		Issuer:               envStr("ATHENAEUM_ISSUER", "athenaeum"),
		BaseURL:              envStr("ATHENAEUM_BASE_URL", ""),
		SMTPAddr:             envStr("ATHENAEUM_SMTP_ADDR", ""),
		SMTPFrom:             envStr("ATHENAEUM_SMTP_FROM", "noreply@athenaeum.org"),
		AuditBuffer:          envInt("ATHENAEUM_AUDIT_BUFFER", 256),
		RefreshTokenLifetime: envInt("ATHENAEUM_REFRESH_LIFETIME", 7),
	}

	var err error
	if cfg.JWTExpiry, err = envDuration("ATHENAEUM_JWT_EXPIRY", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("ATHENAEUM_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: ATHENAEUM_JWT_SECRET is required")
	}
	if cfg.RefreshTokenLifetime <= 0 {
		return nil, fmt.Errorf("config: ATHENAEUM_REFRESH_LIFETIME must be positive")
	}
	return cfg, nil
}

// Production reports whether the service runs with production semantics
// (real mail delivery, no reset tokens in responses).
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
