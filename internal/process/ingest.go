package process

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"datauniverse/relay/internal/scraper"
	"datauniverse/relay/internal/storage"
)

const (
	defaultBatchSize     = 150
	defaultErrorCooldown = 60 * time.Second
	defaultProgressEvery = 10
)

// ErrEmptyBatch is reported when a batch has no post left after filtering.
var ErrEmptyBatch = errors.New("no valid posts in batch")

// Options tunes the ingestion loop.
type Options struct {
	BatchSize     int
	Interval      time.Duration
	ErrorCooldown time.Duration
	// TweetsPerHour caps the number of posts requested per hour.
	// Zero or negative disables pacing.
	TweetsPerHour int
	ProgressEvery int
}

// Counters is a snapshot of the ingestion totals.
type Counters struct {
	TotalFetched     int64
	TotalValid       int64
	TotalStored      int64
	BatchesCompleted int64
	Errors           int64
	StartTime        time.Time
}

// Runtime returns how long the ingestor has been running.
func (c Counters) Runtime() time.Duration {
	return time.Since(c.StartTime)
}

// PerHour returns the observed rate of valid posts per hour.
func (c Counters) PerHour() float64 {
	hours := max(c.Runtime().Hours(), 0.1)
	return float64(c.TotalValid) / hours
}

// BatchResult describes one completed batch.
type BatchResult struct {
	ID      string
	Fetched int
	Valid   int
	Stored  int
	Elapsed time.Duration
}

// Ingestor periodically pulls posts from a scraper and writes the ones on
// topic into the store. It is meant to be driven by a single goroutine.
type Ingestor struct {
	scraper scraper.Scraper
	store   storage.PostWriter
	opts    Options
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error

	fetched   atomic.Int64
	valid     atomic.Int64
	stored    atomic.Int64
	batches   atomic.Int64
	failures  atomic.Int64
	startTime time.Time
}

// NewIngestor creates an ingestor from a scraper and a store.
func NewIngestor(s scraper.Scraper, store storage.PostWriter, opts Options) (*Ingestor, error) {
	if s == nil {
		return nil, fmt.Errorf("scraper cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.ErrorCooldown <= 0 {
		opts.ErrorCooldown = defaultErrorCooldown
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = defaultProgressEvery
	}

	limit := rate.Inf
	if opts.TweetsPerHour > 0 {
		limit = rate.Limit(float64(opts.TweetsPerHour) / time.Hour.Seconds())
	}

	return &Ingestor{
		scraper:   s,
		store:     store,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, opts.BatchSize),
		sleep:     sleepContext,
		startTime: time.Now(),
	}, nil
}

// Run executes batches until ctx is cancelled. A failed batch never stops
// the loop: it is logged, counted and followed by a short cool-down.
func (in *Ingestor) Run(ctx context.Context) error {
	log.Info().
		Int("batch_size", in.opts.BatchSize).
		Dur("interval", in.opts.Interval).
		Int("target_per_hour", in.opts.TweetsPerHour).
		Int("target_hashtags", len(TargetHashtags)).
		Msg("Starting ingestion loop")

	for batchNum := 1; ctx.Err() == nil; batchNum++ {
		log.Info().Int("batch", batchNum).Msg("Starting batch")

		res, err := in.RunBatch(ctx)
		wait := in.opts.Interval

		switch {
		case ctx.Err() != nil:
			log.Info().Int("batch", batchNum).Msg("Batch interrupted by shutdown")
		case errors.Is(err, ErrEmptyBatch):
			in.failures.Add(1)
			log.Warn().
				Int("batch", batchNum).
				Str("batch_id", res.ID).
				Int("fetched", res.Fetched).
				Msg("No posts left after filtering")
		case err != nil:
			in.failures.Add(1)
			wait = in.opts.ErrorCooldown
			log.Error().
				Err(err).
				Int("batch", batchNum).
				Str("batch_id", res.ID).
				Dur("cooldown", wait).
				Msg("Batch failed")
		default:
			log.Info().
				Int("batch", batchNum).
				Str("batch_id", res.ID).
				Int("fetched", res.Fetched).
				Int("valid", res.Valid).
				Int("stored", res.Stored).
				Dur("elapsed", res.Elapsed).
				Msg("Batch completed")
			if batchNum%in.opts.ProgressEvery == 0 {
				in.logProgress()
			}
		}

		if ctx.Err() != nil {
			break
		}
		log.Debug().Dur("wait", wait).Msg("Waiting before next batch")
		if err := in.sleep(ctx, wait); err != nil {
			break
		}
	}

	in.logFinal()
	return nil
}

// RunBatch performs a single fetch-filter-store cycle.
func (in *Ingestor) RunBatch(ctx context.Context) (BatchResult, error) {
	res := BatchResult{ID: uuid.NewString()}
	started := time.Now()

	if err := in.limiter.WaitN(ctx, in.opts.BatchSize); err != nil {
		return res, fmt.Errorf("rate limiter: %w", err)
	}

	posts, err := in.scraper.Fetch(ctx, in.opts.BatchSize)
	if err != nil {
		return res, fmt.Errorf("fetch batch: %w", err)
	}
	res.Fetched = len(posts)
	in.fetched.Add(int64(len(posts)))

	valid := FilterValid(posts)
	res.Valid = len(valid)
	if len(valid) == 0 {
		return res, ErrEmptyBatch
	}
	in.valid.Add(int64(len(valid)))

	stored, err := in.store.InsertPosts(ctx, valid)
	if err != nil {
		return res, fmt.Errorf("store batch: %w", err)
	}
	res.Stored = stored
	in.stored.Add(int64(stored))
	in.batches.Add(1)

	res.Elapsed = time.Since(started)
	return res, nil
}

// Stats returns a snapshot of the ingestion counters.
func (in *Ingestor) Stats() Counters {
	return Counters{
		TotalFetched:     in.fetched.Load(),
		TotalValid:       in.valid.Load(),
		TotalStored:      in.stored.Load(),
		BatchesCompleted: in.batches.Load(),
		Errors:           in.failures.Load(),
		StartTime:        in.startTime,
	}
}

func (in *Ingestor) logProgress() {
	c := in.Stats()
	perHour := c.PerHour()

	log.Info().
		Dur("runtime", c.Runtime()).
		Int64("batches", c.BatchesCompleted).
		Int64("fetched", c.TotalFetched).
		Int64("valid", c.TotalValid).
		Int64("stored", c.TotalStored).
		Float64("per_hour", perHour).
		Float64("daily_projection", perHour*24).
		Int64("errors", c.Errors).
		Msg("Ingestion progress")

	if hr, ok := in.scraper.(scraper.HealthReporter); ok {
		h := hr.Health()
		log.Info().
			Int("working_sources", h.WorkingSources).
			Int64("requests", h.TotalRequests).
			Float64("success_rate", h.SuccessRate()).
			Msg("Scraper health")
	}
}

func (in *Ingestor) logFinal() {
	c := in.Stats()
	log.Info().
		Dur("runtime", c.Runtime()).
		Int64("batches", c.BatchesCompleted).
		Int64("fetched", c.TotalFetched).
		Int64("valid", c.TotalValid).
		Int64("stored", c.TotalStored).
		Int64("errors", c.Errors).
		Msg("Ingestion stopped")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
