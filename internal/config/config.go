package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Config holds all client settings, populated from environment variables.
type Config struct {
	APIBaseURL string
	WSURL      string

	HTTPTimeout time.Duration

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	DebugAddr       string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	WatchlistPath string

	DispatchBuffer   int
	StationCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	httpTimeout, err := parsePositiveDuration("HTTP_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	initialDelay, err := parsePositiveDuration("RECONNECT_INITIAL_DELAY", "1s")
	if err != nil {
		return nil, err
	}

	maxDelay, err := parsePositiveDuration("RECONNECT_MAX_DELAY", "30s")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIBaseURL: sharedcfg.EnvOrDefault("API_BASE_URL", "http://localhost:8080"),
		WSURL:      sharedcfg.EnvOrDefault("WS_URL", "ws://localhost:8080/ws"),

		HTTPTimeout: httpTimeout,

		ReconnectInitialDelay: initialDelay,
		ReconnectMaxDelay:     maxDelay,

		DebugAddr:       sharedcfg.EnvOrDefault("DEBUG_ADDR", ""),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		WatchlistPath: sharedcfg.EnvOrDefault("WATCHLIST_PATH", ""),

		DispatchBuffer:   parsePositiveInt("DISPATCH_BUFFER", 256),
		StationCacheSize: parsePositiveInt("STATION_CACHE_SIZE", 1000),
	}

	if cfg.APIBaseURL == "" {
		return nil, errors.New("API_BASE_URL is required")
	}
	if cfg.WSURL == "" {
		return nil, errors.New("WS_URL is required")
	}
	if cfg.ReconnectInitialDelay > cfg.ReconnectMaxDelay {
		return nil, errors.New("RECONNECT_INITIAL_DELAY must not exceed RECONNECT_MAX_DELAY")
	}

	return cfg, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
