package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"chatrelay-backend/internal/auth"
)

const defaultJWTSecret = "default-super-secret-key"

// Config holds application configuration values loaded from environment variables.
type Config struct {
	HTTPPort string
	Env      string

	DBDriver    string // "sqlite" or "postgres"
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	Upstream            UpstreamConfig
	ExtractionPathsFile string
	SystemPrompt        string
	TitleGeneration     bool

	CORSOrigins         []string
	AuthEnabled         bool
	AuthToken           string
	AuthBypassLocalhost bool
	JWTSecret           string
	TokenExpiration     time.Duration
}

// UpstreamConfig describes the OpenAI-compatible model server.
type UpstreamConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Timeout     time.Duration
	Temperature float64
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded, using environment only")
	}

	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8081"),
		Env:         getEnv("APP_ENV", "development"),
		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "./data.sqlite"),
		RedisURL:    getEnv("REDIS_URL", ""),
		Upstream: UpstreamConfig{
			BaseURL: getEnv("UPSTREAM_BASE_URL", "http://localhost:1234/v1"),
			Model:   getEnv("UPSTREAM_MODEL", "openai/gpt-oss-20b"),
			APIKey:  getEnv("UPSTREAM_API_KEY", ""),
		},
		ExtractionPathsFile: getEnv("EXTRACTION_PATHS_FILE", ""),
		SystemPrompt:        getEnv("SYSTEM_PROMPT", ""),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "http://localhost:4200")),
		AuthToken:           getEnv("AUTH_TOKEN", ""),
		JWTSecret:           getEnv("JWT_SECRET", defaultJWTSecret),
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultJWTSecret
	}

	var errs []error

	timeoutMS, err := strconv.Atoi(getEnv("UPSTREAM_TIMEOUT_MS", "60000"))
	if err != nil || timeoutMS < 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT_MS: invalid value"))
	}
	cfg.Upstream.Timeout = time.Duration(timeoutMS) * time.Millisecond

	if cfg.Upstream.Temperature, err = strconv.ParseFloat(getEnv("DEFAULT_TEMPERATURE", "0.7"), 64); err != nil ||
		cfg.Upstream.Temperature < 0 || cfg.Upstream.Temperature > 2 {
		errs = append(errs, fmt.Errorf("DEFAULT_TEMPERATURE: must be a number between 0 and 2"))
	}

	hours, err := strconv.Atoi(getEnv("JWT_EXPIRATION_HOURS", "24"))
	if err != nil || hours <= 0 {
		log.Warn().Msg("invalid JWT_EXPIRATION_HOURS, using default 24h")
		hours = 24
	}
	cfg.TokenExpiration = time.Hour * time.Duration(hours)

	for key, dst := range map[string]*bool{
		"TITLE_GENERATION":      &cfg.TitleGeneration,
		"AUTH_ENABLED":          &cfg.AuthEnabled,
		"AUTH_BYPASS_LOCALHOST": &cfg.AuthBypassLocalhost,
	} {
		v, err := parseBool(getEnv(key, "true"))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		*dst = v
	}

	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when DB_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unsupported driver %q", cfg.DBDriver))
	}

	if cfg.AuthEnabled && cfg.AuthToken == "" {
		errs = append(errs, errors.New("AUTH_TOKEN is required when AUTH_ENABLED is true"))
	}
	if len(cfg.AuthToken) > auth.MaxTokenLength {
		errs = append(errs, fmt.Errorf("AUTH_TOKEN must be at most %d bytes, got %d", auth.MaxTokenLength, len(cfg.AuthToken)))
	}
	if cfg.IsProduction() && cfg.JWTSecret == defaultJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	log.Info().
		Str("port", cfg.HTTPPort).
		Str("env", cfg.Env).
		Str("db_driver", cfg.DBDriver).
		Str("upstream", cfg.Upstream.BaseURL).
		Str("model", cfg.Upstream.Model).
		Bool("auth", cfg.AuthEnabled).
		Bool("redis", cfg.RedisURL != "").
		Msg("configuration loaded")
	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
