package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	DBPath   string
	PostsCSV string

	// Server settings
	ServerHost   string
	ServerPort   int
	APIToken     string
	LiveFallback bool

	// Actor runner settings
	APIURL         string
	RetryDelay     time.Duration
	RequestTimeout time.Duration

	// Ingestion settings
	BatchSize     int
	BatchInterval time.Duration
	TweetsPerHour int
	ErrorCooldown time.Duration

	// Scraper settings
	ScraperKind  string
	ScraperURL   string
	ScraperToken string
	FeedURLs     []string

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults,
// overridden by whatever is present in the environment.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		DBPath:         DefaultDBPath,
		PostsCSV:       DefaultPostsCSV,
		ServerHost:     DefaultServerHost,
		ServerPort:     DefaultServerPort,
		APIToken:       GetEnvString("RELAY_API_TOKEN", DefaultAPIToken),
		LiveFallback:   GetEnvBool("RELAY_LIVE_FALLBACK", false),
		APIURL:         GetEnvString("RELAY_API_URL", DefaultAPIURL),
		RetryDelay:     GetEnvDuration("RELAY_RETRY_DELAY", DefaultRetryDelay),
		RequestTimeout: GetEnvDuration("RELAY_TIMEOUT", DefaultRequestTimeout),
		BatchSize:      DefaultBatchSize,
		BatchInterval:  DefaultBatchInterval,
		TweetsPerHour:  DefaultTweetsPerHour,
		ErrorCooldown:  GetEnvDuration("RELAY_ERROR_COOLDOWN", DefaultErrorCooldown),
		ScraperKind:    GetEnvString("RELAY_SCRAPER_KIND", DefaultScraperKind),
		ScraperURL:     GetEnvString("RELAY_SCRAPER_URL", ""),
		ScraperToken:   GetEnvString("RELAY_SCRAPER_TOKEN", ""),
		FeedURLs:       GetEnvList("RELAY_FEED_URLS", nil),
		LogLevel:       GetEnvLogLevel("RELAY_LOG_LEVEL", logLevel),
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Validate checks settings that have no sensible fallback.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.BatchInterval < 0 {
		return fmt.Errorf("batch interval must not be negative, got %s", c.BatchInterval)
	}
	switch c.ScraperKind {
	case ScraperKindAPI:
		if c.ScraperURL == "" {
			return fmt.Errorf("scraper kind %q requires RELAY_SCRAPER_URL", c.ScraperKind)
		}
	case ScraperKindFeed:
		if len(c.FeedURLs) == 0 {
			return fmt.Errorf("scraper kind %q requires RELAY_FEED_URLS", c.ScraperKind)
		}
	default:
		return fmt.Errorf("unknown scraper kind %q", c.ScraperKind)
	}
	return nil
}
