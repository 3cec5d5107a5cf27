package config

import "time"

// Constants defining default values for application configuration
const (
	DefaultDBPath   = "./twitter_miner_data.sqlite"
	DefaultEnvFile  = ".env"
	DefaultPostsCSV = "./posts.csv"

	DefaultServerPort = 8000
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultAPIURL   = "http://localhost:8000"
	DefaultAPIToken = "your-api-token"

	DefaultBatchSize      = 150
	DefaultBatchInterval  = 300 * time.Second
	DefaultTweetsPerHour  = 1800
	DefaultErrorCooldown  = 60 * time.Second
	DefaultScraperKind    = ScraperKindAPI
	DefaultRetryDelay     = 5 * time.Second
	DefaultRequestTimeout = 60 * time.Second

	DefaultLogLevel = "info"
)

// Scraper backends selectable through RELAY_SCRAPER_KIND.
const (
	ScraperKindAPI  = "api"
	ScraperKindFeed = "feed"
)
