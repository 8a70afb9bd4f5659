package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the gateway reads from the environment.
type Config struct {
	Port     string
	LogLevel string
	Env      string // "production" or anything else for development

	ServiceName       string
	ServicePrivateKey string

	CoordinatorURL         string
	CoordinatorServiceName string
	CoordinatorPublicKey   string
	CoordinatorTimeout     time.Duration

	SignatureVerification bool
	Canonicalization      string

	StagingBackend    string // postgres, sqlite, redis, memory
	DatabaseURL       string
	SQLitePath        string
	RedisURL          string
	StagingPendingTTL time.Duration // 0 keeps pending batches forever

	GeminiAPIKey string
	GeminiModel  string

	RateLimitRPS   float64 // 0 disables
	RateLimitBurst int
	MaxBodyBytes   int64
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// .env is a development convenience; its absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      strings.ToLower(getEnv("APP_ENV", "development")),

		ServiceName:       getEnv("SERVICE_NAME", "devlab-service"),
		ServicePrivateKey: os.Getenv("SERVICE_PRIVATE_KEY"),

		CoordinatorURL:         strings.TrimRight(os.Getenv("COORDINATOR_URL"), "/"),
		CoordinatorServiceName: getEnv("COORDINATOR_SERVICE_NAME", "coordinator"),
		CoordinatorPublicKey:   os.Getenv("COORDINATOR_PUBLIC_KEY"),

		Canonicalization: getEnv("SIGNATURE_CANONICALIZATION", "compact"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "staging.db"),
		RedisURL:    os.Getenv("REDIS_URL"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
	}

	var err error
	if cfg.CoordinatorTimeout, err = getDuration("COORDINATOR_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StagingPendingTTL, err = getDuration("STAGING_PENDING_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.SignatureVerification, err = getBool("SIGNATURE_VERIFICATION_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = getFloat("RATE_LIMIT_RPS", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}
	maxBody, err := getInt("MAX_BODY_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxBodyBytes = int64(maxBody)

	cfg.StagingBackend = strings.ToLower(os.Getenv("STAGING_BACKEND"))
	if cfg.StagingBackend == "" {
		if cfg.DatabaseURL != "" {
			cfg.StagingBackend = "postgres"
		} else {
			cfg.StagingBackend = "memory"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.StagingBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("STAGING_BACKEND=postgres requires DATABASE_URL")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("STAGING_BACKEND=redis requires REDIS_URL")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STAGING_BACKEND %q", c.StagingBackend)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME must not be empty")
	}
	if c.CoordinatorTimeout <= 0 {
		return fmt.Errorf("COORDINATOR_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Permissive is the local development posture: no signature checks at all.
func (c *Config) Permissive() bool {
	return !c.IsProduction() && !c.SignatureVerification
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	// Bare numbers are milliseconds.
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
