// Package scraper provides the sources the ingestion loop pulls posts from.
// The scraping itself happens elsewhere; these types only talk to it.
package scraper

import (
	"context"

	"datauniverse/relay/internal/models"
)

// Scraper returns up to count freshly scraped posts.
type Scraper interface {
	Fetch(ctx context.Context, count int) ([]models.Post, error)
}

// Health describes how well a scraper has been doing since it started.
type Health struct {
	TotalRequests      int64
	SuccessfulRequests int64
	WorkingSources     int
}

// SuccessRate returns the share of successful requests in percent.
func (h Health) SuccessRate() float64 {
	return float64(h.SuccessfulRequests) / float64(max(h.TotalRequests, 1)) * 100
}

// HealthReporter is implemented by scrapers that track their own health.
type HealthReporter interface {
	Health() Health
}
