package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reddot-watch/feedfetcher"
	"github.com/rs/zerolog/log"

	"datauniverse/relay/internal/models"
)

var (
	statusPath = regexp.MustCompile(`^/([A-Za-z0-9_]{1,15})/status(?:es)?/(\d+)`)
	tagPattern = regexp.MustCompile(`(?:^|[^\w&])([#$][A-Za-z][A-Za-z0-9_]*)`)
)

// FeedScraper reads posts from RSS search feeds, such as those published by
// Nitter instances, through feedfetcher. Feeds are visited round-robin so
// that every batch starts where the previous one stopped.
type FeedScraper struct {
	fetcher *feedfetcher.FeedFetcher
	feeds   []string

	mu      sync.Mutex
	next    int
	healthy map[string]bool

	total   atomic.Int64
	success atomic.Int64
}

// NewFeedScraper creates a scraper over the given feed URLs.
func NewFeedScraper(feedURLs []string) *FeedScraper {
	fetcher := feedfetcher.NewFeedFetcher(feedfetcher.Config{
		UserAgent:            "TweetRelay/1.0",
		RequestTimeout:       15 * time.Second,
		MaxItems:             100,
		MaxHeadingLength:     1000,
		MaxAge:               48 * time.Hour,
		FutureDriftTolerance: 12 * time.Hour,
	})

	return &FeedScraper{
		fetcher: fetcher,
		feeds:   feedURLs,
		healthy: make(map[string]bool, len(feedURLs)),
	}
}

// Fetch collects up to count posts, visiting each feed at most once.
func (s *FeedScraper) Fetch(ctx context.Context, count int) ([]models.Post, error) {
	if len(s.feeds) == 0 {
		return nil, errors.New("no feeds configured")
	}

	s.mu.Lock()
	start := s.next
	s.mu.Unlock()

	seen := make(map[string]bool)
	var posts []models.Post
	var errs []error
	visited := 0

	for visited < len(s.feeds) && len(posts) < count {
		if err := ctx.Err(); err != nil {
			return posts, err
		}
		feedURL := s.feeds[(start+visited)%len(s.feeds)]
		visited++

		s.total.Add(1)
		items, err := s.fetcher.FetchAndProcess(ctx, feedURL)
		s.setHealthy(feedURL, err == nil)
		if err != nil {
			log.Warn().Err(err).Str("feed", feedURL).Msg("Feed fetch failed")
			errs = append(errs, fmt.Errorf("feed %s: %w", feedURL, err))
			continue
		}
		s.success.Add(1)

		for _, item := range items {
			post, ok := PostFromFeedItem(item.URL, item.Headline, item.Content, item.PublishedAt)
			if !ok || seen[post.URL] {
				continue
			}
			seen[post.URL] = true
			posts = append(posts, post)
			if len(posts) == count {
				break
			}
		}
	}

	s.mu.Lock()
	s.next = (start + visited) % len(s.feeds)
	s.mu.Unlock()

	if len(posts) == 0 && len(errs) == visited {
		return nil, fmt.Errorf("all %d feeds failed: %w", visited, errors.Join(errs...))
	}
	return posts, nil
}

func (s *FeedScraper) setHealthy(feedURL string, ok bool) {
	s.mu.Lock()
	s.healthy[feedURL] = ok
	s.mu.Unlock()
}

// Health implements HealthReporter. WorkingSources counts feeds whose last
// fetch succeeded.
func (s *FeedScraper) Health() Health {
	s.mu.Lock()
	working := 0
	for _, ok := range s.healthy {
		if ok {
			working++
		}
	}
	s.mu.Unlock()

	return Health{
		TotalRequests:      s.total.Load(),
		SuccessfulRequests: s.success.Load(),
		WorkingSources:     working,
	}
}

// PostFromFeedItem converts one feed entry into a post. Only links that
// point at a status page are accepted; the locator is rewritten to the
// canonical x.com form.
func PostFromFeedItem(link, headline, content string, published time.Time) (models.Post, bool) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return models.Post{}, false
	}
	m := statusPath.FindStringSubmatch(u.Path)
	if m == nil {
		return models.Post{}, false
	}
	user, id := m[1], m[2]

	text := strings.TrimSpace(content)
	if text == "" {
		text = strings.TrimSpace(headline)
	}
	if text == "" {
		return models.Post{}, false
	}

	if published.IsZero() {
		published = time.Now()
	}

	return models.Post{
		ID:                id,
		URL:               fmt.Sprintf("https://x.com/%s/status/%s", user, id),
		Text:              text,
		AuthorUsername:    user,
		AuthorDisplayName: user,
		CreatedAt:         published.UTC(),
		Hashtags:          extractTags(text),
		MediaURLs:         []string{},
		IsRetweet:         strings.HasPrefix(text, "RT @") || strings.HasPrefix(text, "RT by @"),
		IsReply:           strings.HasPrefix(text, "R to @"),
		ConversationID:    id,
	}, true
}

// extractTags returns the #hashtags and $cashtags of a text in order of
// appearance, without duplicates.
func extractTags(text string) []string {
	tags := []string{}
	seen := make(map[string]bool)
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, m[1])
	}
	return tags
}
