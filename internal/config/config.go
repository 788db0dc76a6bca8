// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	LogLevel       slog.Level
	Platform       PlatformConfig
	Completion     CompletionConfig
	Store          StoreConfig
	CooldownWindow time.Duration
	ResetThreshold int
}

// PlatformConfig holds chat platform credentials. Only the ingress glue reads
// them; the relay core never does.
type PlatformConfig struct {
	BotToken string
	APIID    int
	APIHash  string
}

// CompletionConfig controls the outbound completion client.
type CompletionConfig struct {
	BaseURL string
	Timeout time.Duration
}

// StoreConfig selects and locates the session and cooldown stores.
type StoreConfig struct {
	Backend string // sqlite, file or memory
	DBPath  string
	DataDir string
}

// Load reads configuration from environment variables. A value that is set
// but cannot be parsed is an error, not a silent fallback to the default.
func Load() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	logLevel, err := getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	collect(err)
	apiID, err := getEnvInt("API_ID", 0)
	collect(err)
	timeout, err := getEnvDuration("COMPLETION_TIMEOUT", 60*time.Second)
	collect(err)
	window, err := getEnvDuration("COOLDOWN_WINDOW", 30*time.Second)
	collect(err)
	threshold, err := getEnvInt("RESET_THRESHOLD", 10)
	collect(err)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: logLevel,
		Platform: PlatformConfig{
			BotToken: getEnv("BOT_TOKEN", ""),
			APIID:    apiID,
			APIHash:  getEnv("API_HASH", ""),
		},
		Completion: CompletionConfig{
			BaseURL: getEnv("API_BASE_URL", ""),
			Timeout: timeout,
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
			DBPath:  getEnv("DB_PATH", "./data/relay.db"),
			DataDir: getEnv("DATA_DIR", "./data"),
		},
		CooldownWindow: window,
		ResetThreshold: threshold,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Completion.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if u, err := url.Parse(c.Completion.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL")
	}
	if c.Completion.Timeout < 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT cannot be negative")
	}
	if c.CooldownWindow <= 0 {
		return fmt.Errorf("COOLDOWN_WINDOW must be > 0")
	}
	if c.ResetThreshold <= 0 {
		return fmt.Errorf("RESET_THRESHOLD must be > 0")
	}
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "file":
		if c.Store.DataDir == "" {
			return fmt.Errorf("DATA_DIR cannot be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be one of sqlite, file, memory")
	}
	return nil
}

// AuthEnabled reports whether ingress requests must carry the bot token.
func (c *Config) AuthEnabled() bool {
	return c.Platform.BotToken != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return n, nil
}

// getEnvDuration accepts Go durations ("24s") or a bare number of
// minutes, fractional allowed ("0.4").
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	if minutes, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(minutes * float64(time.Minute)), nil
	}
	return fallback, fmt.Errorf("%s must be a duration or a number of minutes, got %q", key, value)
}

func getEnvLevel(key string, fallback slog.Level) (slog.Level, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback, fmt.Errorf("%s must be debug, info, warn or error, got %q", key, value)
	}
	return level, nil
}
