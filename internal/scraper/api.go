package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"datauniverse/relay/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultAPITimeout = 2 * time.Minute

// APIClient fetches posts from an external scraper service over HTTP.
//
//	POST {BaseURL}/scrape  {"count": N}
//	200 {"tweets": [...]}  or  {"data": [...]}
type APIClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	total   atomic.Int64
	success atomic.Int64
}

// NewAPIClient creates a client for the scraper service at baseURL.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: defaultAPITimeout},
	}
}

type scrapeRequest struct {
	Count int `json:"count"`
}

type scrapeResponse struct {
	Tweets []models.Post `json:"tweets"`
	Data   []models.Post `json:"data"`
}

// Fetch asks the scraper service for count posts.
func (c *APIClient) Fetch(ctx context.Context, count int) ([]models.Post, error) {
	c.total.Add(1)

	body, err := json.Marshal(scrapeRequest{Count: count})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scraper returned HTTP status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode scrape response: %w", err)
	}

	c.success.Add(1)
	posts := out.Tweets
	if posts == nil {
		posts = out.Data
	}
	// posts without an authored-at time are dated at receipt
	now := time.Now().UTC()
	for i := range posts {
		if posts[i].CreatedAt.IsZero() {
			posts[i].CreatedAt = now
		}
	}
	return posts, nil
}

// Health implements HealthReporter.
func (c *APIClient) Health() Health {
	total, success := c.total.Load(), c.success.Load()
	working := 0
	if success > 0 {
		working = 1
	}
	return Health{TotalRequests: total, SuccessfulRequests: success, WorkingSources: working}
}
