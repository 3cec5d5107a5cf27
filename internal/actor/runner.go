package actor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"datauniverse/relay/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second
	DefaultTimeout     = 60 * time.Second

	searchEndpoint   = "/api/search"
	validateEndpoint = "/api/validate"

	placeholderToken = "your-api-token"
)

// Kind categorises a RunError.
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindRateLimited
	KindTransient
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// RunError is the terminal error of a run.
type RunError struct {
	Kind       Kind
	Attempts   int
	StatusCode int
	Err        error
}

func (e *RunError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("actor run failed (%s after %d attempts): %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("actor run failed (%s): %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Retryable reports whether the same run may succeed later.
func (e *RunError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// ErrMissingInput is wrapped by the RunError returned when a run input has
// neither search terms nor start URLs.
var ErrMissingInput = errors.New("run input has neither searchTerms nor startUrls")

// RunConfig carries the per-run limits of the actor contract.
type RunConfig struct {
	Timeout         time.Duration
	MaxDataEntities int
}

// RunInput is the actor input. A nil slice means the key was absent; a
// non-nil empty slice means it was present with no entries.
type RunInput struct {
	SearchTerms []string `json:"searchTerms,omitempty"`
	MaxTweets   *int     `json:"maxTweets,omitempty"`
	StartURLs   []string `json:"startUrls,omitempty"`
	MaxItems    *int     `json:"maxItems,omitempty"`
}

// Runner serves actor runs from the relay HTTP API.
type Runner struct {
	BaseURL     string
	Token       string
	HTTPClient  *http.Client
	RetryDelay  time.Duration
	MaxAttempts int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner talking to the relay API at baseURL.
func NewRunner(baseURL, token string, retryDelay time.Duration) *Runner {
	if token == "" || token == placeholderToken {
		log.Warn().Msg("Relay API token not set, using default")
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Runner{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Token:       token,
		HTTPClient:  &http.Client{},
		RetryDelay:  retryDelay,
		MaxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Run executes one actor run. Search terms take precedence over start URLs.
func (r *Runner) Run(ctx context.Context, cfg RunConfig, in RunInput) ([]Tweet, error) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()

	var (
		tweets []Tweet
		err    error
	)
	switch {
	case in.SearchTerms != nil:
		tweets, err = r.search(ctx, cfg, in)
	case in.StartURLs != nil:
		tweets, err = r.validate(ctx, cfg, in)
	default:
		err = &RunError{Kind: KindInvalidInput, Err: ErrMissingInput}
	}
	if err != nil {
		logger.Error().Err(err).Msg("Actor run failed")
		return nil, err
	}

	logger.Info().Int("tweets", len(tweets)).Msg("Actor run completed")
	return tweets, nil
}

func (r *Runner) search(ctx context.Context, cfg RunConfig, in RunInput) ([]Tweet, error) {
	if len(in.SearchTerms) == 0 {
		log.Warn().Msg("No search terms provided")
		return []Tweet{}, nil
	}

	limit := cfg.MaxDataEntities
	if in.MaxTweets != nil {
		limit = *in.MaxTweets
	}

	q := ParseSearchQuery(in.SearchTerms[0], r.now())
	log.Info().
		Str("query", q.Query).
		Time("start", q.Start).
		Time("end", q.End).
		Int("limit", limit).
		Msg("Parsed search query")

	req := models.SearchRequest{
		Action:          "search",
		Query:           q.Query,
		StartDate:       q.Start.Format(requestTimeLayout),
		EndDate:         q.End.Format(requestTimeLayout),
		Limit:           limit,
		IncludeRetweets: false,
	}
	records, err := r.call(ctx, searchEndpoint, req, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return ConvertRecords(records, r.now()), nil
}

func (r *Runner) validate(ctx context.Context, cfg RunConfig, in RunInput) ([]Tweet, error) {
	if len(in.StartURLs) == 0 {
		log.Warn().Msg("No URLs provided for validation")
		return []Tweet{}, nil
	}

	maxItems := cfg.MaxDataEntities
	if in.MaxItems != nil {
		maxItems = *in.MaxItems
	}
	urls := in.StartURLs[:max(0, min(maxItems, len(in.StartURLs)))]
	log.Info().Int("urls", len(urls)).Msg("Validating URLs")

	includeMetadata := true
	req := models.ValidateRequest{
		Action:          "validate_urls",
		URLs:            urls,
		IncludeMetadata: &includeMetadata,
	}
	records, err := r.call(ctx, validateEndpoint, req, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return ConvertRecords(records, r.now()), nil
}

const requestTimeLayout = "2006-01-02T15:04:05"

// call posts body to the relay API, retrying rate limits and transient
// failures. It never waits after the final attempt.
func (r *Runner) call(ctx context.Context, endpoint string, body any, timeout time.Duration) ([]gjson.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &RunError{Kind: KindInvalidInput, Err: fmt.Errorf("encode request: %w", err)}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attempts := max(r.MaxAttempts, 1)
	url := r.BaseURL + endpoint

	for attempt := 1; ; attempt++ {
		records, status, err := r.do(ctx, url, payload, timeout)
		if err == nil {
			return records, nil
		}
		if ctx.Err() != nil {
			return nil, &RunError{Kind: KindTransient, Attempts: attempt, Err: ctx.Err()}
		}

		var wait time.Duration
		switch status {
		case http.StatusTooManyRequests:
			if attempt >= attempts {
				return nil, &RunError{Kind: KindRateLimited, Attempts: attempt, StatusCode: status, Err: err}
			}
			wait = r.RetryDelay * time.Duration(attempt)
			log.Warn().Int("attempt", attempt).Dur("wait", wait).Str("endpoint", endpoint).Msg("Rate limited by relay API")
		case 0:
			if attempt >= attempts {
				return nil, &RunError{Kind: KindTransient, Attempts: attempt, Err: err}
			}
			wait = r.RetryDelay
			log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("endpoint", endpoint).Msg("Relay API call failed, retrying")
		default:
			return nil, &RunError{Kind: KindStatus, Attempts: attempt, StatusCode: status, Err: err}
		}

		if err := r.sleep(ctx, wait); err != nil {
			return nil, &RunError{Kind: KindTransient, Attempts: attempt, Err: err}
		}
	}
}

// do performs one attempt. A non-zero status with an error means the
// server answered with something other than 200, or with a 200 whose body
// is not JSON.
func (r *Runner) do(ctx context.Context, url string, body []byte, timeout time.Duration) ([]gjson.Result, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.Token)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, resp.StatusCode, fmt.Errorf("API call failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, resp.StatusCode, errors.New("response is not valid JSON")
	}

	doc := gjson.ParseBytes(raw)
	list := doc.Get("tweets")
	if !list.Exists() {
		list = doc.Get("data")
	}
	return list.Array(), 0, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
