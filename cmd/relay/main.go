package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"datauniverse/relay/internal/actor"
	"datauniverse/relay/internal/config"
	"datauniverse/relay/internal/database"
	importposts "datauniverse/relay/internal/import"
	"datauniverse/relay/internal/process"
	"datauniverse/relay/internal/scraper"
	"datauniverse/relay/internal/server"
	"datauniverse/relay/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

const usage = `Usage: relay [command] [options]
Commands: scrape, server, import, run

For command-specific options, use: relay [command] -h`

// runOptions are the flags of the run command that have no place in Config.
type runOptions struct {
	search    string
	urls      string
	inputPath string
	max       int
}

func main() {
	if err := config.LoadEnvFile(config.GetEnvString("RELAY_ENV_FILE", config.DefaultEnvFile)); err != nil {
		log.Warn().Err(err).Msg("Failed to load env file")
	}
	cfg := config.DefaultConfig()

	var logLevelStr string
	commonFlags := func(fs *flag.FlagSet) {
		fs.StringVar(&cfg.DBPath, "db", config.GetEnvString("RELAY_DB_PATH", config.DefaultDBPath),
			"Path to the SQLite database file (env: RELAY_DB_PATH)")
		fs.StringVar(&logLevelStr, "log-level", config.GetEnvString("RELAY_LOG_LEVEL", config.DefaultLogLevel),
			"Log level: debug, info, warn, error (env: RELAY_LOG_LEVEL)")
	}

	scrapeCmd := flag.NewFlagSet("scrape", flag.ExitOnError)
	commonFlags(scrapeCmd)
	scrapeCmd.IntVar(&cfg.BatchSize, "batch-size", config.GetEnvInt("RELAY_BATCH_SIZE", config.DefaultBatchSize),
		"Posts requested per batch (env: RELAY_BATCH_SIZE)")
	scrapeCmd.DurationVar(&cfg.BatchInterval, "interval", config.GetEnvDuration("RELAY_BATCH_INTERVAL", config.DefaultBatchInterval),
		"Pause between batches (env: RELAY_BATCH_INTERVAL)")
	scrapeCmd.IntVar(&cfg.TweetsPerHour, "per-hour", config.GetEnvInt("RELAY_TWEETS_PER_HOUR", config.DefaultTweetsPerHour),
		"Target posts per hour, 0 disables pacing (env: RELAY_TWEETS_PER_HOUR)")
	scrapeCmd.StringVar(&cfg.ScraperKind, "scraper", cfg.ScraperKind,
		"Scraper backend: api or feed (env: RELAY_SCRAPER_KIND)")
	scrapeCmd.StringVar(&cfg.ScraperURL, "scraper-url", cfg.ScraperURL,
		"Base URL of the scraper service (env: RELAY_SCRAPER_URL)")
	var feedsStr string
	scrapeCmd.StringVar(&feedsStr, "feeds", strings.Join(cfg.FeedURLs, ","),
		"Comma-separated RSS feed URLs for the feed scraper (env: RELAY_FEED_URLS)")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	commonFlags(serverCmd)
	serverCmd.StringVar(&cfg.ServerHost, "host", config.GetEnvString("RELAY_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: RELAY_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("RELAY_PORT", config.DefaultServerPort),
		"Port to listen on (env: RELAY_PORT)")
	serverCmd.StringVar(&cfg.APIToken, "token", cfg.APIToken,
		"Bearer token expected by the API (env: RELAY_API_TOKEN)")
	serverCmd.BoolVar(&cfg.LiveFallback, "live-fallback", cfg.LiveFallback,
		"Scrape in real time when a search has no stored match (env: RELAY_LIVE_FALLBACK)")

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	commonFlags(importCmd)
	importCmd.StringVar(&cfg.PostsCSV, "csv", config.GetEnvString("RELAY_POSTS_CSV", config.DefaultPostsCSV),
		"Path or http(s) URL of the posts CSV file (env: RELAY_POSTS_CSV)")
	var importAll bool
	importCmd.BoolVar(&importAll, "all", false, "Import off-topic posts too")

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runCmd.StringVar(&logLevelStr, "log-level", config.GetEnvString("RELAY_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: RELAY_LOG_LEVEL)")
	runCmd.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "Relay API base URL (env: RELAY_API_URL)")
	runCmd.StringVar(&cfg.APIToken, "token", cfg.APIToken, "Relay API bearer token (env: RELAY_API_TOKEN)")
	runCmd.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "Base retry delay (env: RELAY_RETRY_DELAY)")
	runCmd.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Per-attempt timeout (env: RELAY_TIMEOUT)")
	var runOpts runOptions
	runCmd.StringVar(&runOpts.search, "search", "", `Search term, e.g. "since:2024-01-01_00:00:00_UTC #bitcoin"`)
	runCmd.StringVar(&runOpts.urls, "urls", "", "Comma-separated post URLs to validate")
	runCmd.StringVar(&runOpts.inputPath, "input", "", "Path to an actor input JSON file")
	runCmd.IntVar(&runOpts.max, "max", config.DefaultBatchSize, "Maximum number of posts")

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	parse := func(fs *flag.FlagSet) {
		fs.Parse(os.Args[2:])
		// Handle log level parsing separately since it needs conversion
		if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
			cfg.LogLevel = level
		}
		zerolog.SetGlobalLevel(cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "scrape":
		parse(scrapeCmd)
		if feedsStr != "" {
			cfg.FeedURLs = splitList(feedsStr)
		}
		err = runScrape(ctx, cfg)

	case "server":
		parse(serverCmd)
		err = runServer(ctx, cfg)

	case "import":
		parse(importCmd)
		err = runImport(ctx, cfg, importAll)

	case "run":
		parse(runCmd)
		err = runActor(ctx, cfg, runOpts)

	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

// openDB opens the configured database, falling back to memory.
func openDB(cfg *config.Config) (*database.DB, error) {
	db, degraded, err := database.OpenWithFallback(database.NewConfig(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if degraded {
		log.Warn().Str("path", cfg.DBPath).Msg("Running on in-memory storage, data will not survive a restart")
	}
	return db, nil
}

func newScraper(cfg *config.Config) (scraper.Scraper, error) {
	switch cfg.ScraperKind {
	case config.ScraperKindAPI:
		if cfg.ScraperURL == "" {
			return nil, fmt.Errorf("scraper kind %q requires RELAY_SCRAPER_URL", cfg.ScraperKind)
		}
		return scraper.NewAPIClient(cfg.ScraperURL, cfg.ScraperToken), nil
	case config.ScraperKindFeed:
		if len(cfg.FeedURLs) == 0 {
			return nil, fmt.Errorf("scraper kind %q requires RELAY_FEED_URLS", cfg.ScraperKind)
		}
		return scraper.NewFeedScraper(cfg.FeedURLs), nil
	default:
		return nil, fmt.Errorf("unknown scraper kind %q", cfg.ScraperKind)
	}
}

// runScrape runs the ingestion loop until a shutdown signal arrives.
func runScrape(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	src, err := newScraper(cfg)
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ingestor, err := process.NewIngestor(src, storage.NewRepository(db), process.Options{
		BatchSize:     cfg.BatchSize,
		Interval:      cfg.BatchInterval,
		ErrorCooldown: cfg.ErrorCooldown,
		TweetsPerHour: cfg.TweetsPerHour,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ingestor: %w", err)
	}

	log.Info().Str("db", db.Path).Str("scraper", cfg.ScraperKind).Msg("Starting ingestion")
	return ingestor.Run(ctx)
}

// runServer starts the HTTP API server with the provided configuration.
// The server only reads, so the store is opened read-only.
func runServer(ctx context.Context, cfg *config.Config) error {
	db, err := database.OpenReadOnly(database.NewConfig(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("failed to open database read-only: %w", err)
	}
	defer db.Close()

	deps := server.Deps{
		Repo:  storage.NewRepository(db),
		DB:    db,
		Token: cfg.APIToken,
	}
	if cfg.LiveFallback {
		live, err := newScraper(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Real-time fallback disabled")
		} else {
			deps.Live = live
		}
	}
	if cfg.APIToken == config.DefaultAPIToken {
		log.Warn().Msg("RELAY_API_TOKEN not set, using default")
	}

	return server.RunServer(ctx, deps, cfg.ListenAddr(), log.Logger)
}

// runImport backfills posts from a CSV file into the database.
func runImport(ctx context.Context, cfg *config.Config, all bool) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	importer := importposts.NewImporter(storage.NewRepository(db))
	importer.AllowAll = all

	summary, err := importer.ImportPosts(ctx, cfg.PostsCSV)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d posts (%d already stored or unencodable, %d skipped)\n", summary.Imported, summary.NotInserted, summary.Skipped)
	if len(summary.Errors) > 0 {
		fmt.Printf("Encountered %d errors:\n", len(summary.Errors))
		for _, e := range summary.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

// runActor executes one actor run against the relay API and prints the
// translated records as JSON.
func runActor(ctx context.Context, cfg *config.Config, opts runOptions) error {
	var in actor.RunInput
	switch {
	case opts.inputPath != "":
		raw, err := os.ReadFile(opts.inputPath)
		if err != nil {
			return fmt.Errorf("failed to read actor input: %w", err)
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return fmt.Errorf("failed to parse actor input: %w", err)
		}
	case opts.search != "":
		in.SearchTerms = []string{opts.search}
	case opts.urls != "":
		in.StartURLs = splitList(opts.urls)
	default:
		return errors.New("one of -search, -urls or -input is required")
	}

	runner := actor.NewRunner(cfg.APIURL, cfg.APIToken, cfg.RetryDelay)
	tweets, err := runner.Run(ctx, actor.RunConfig{
		Timeout:         cfg.RequestTimeout,
		MaxDataEntities: opts.max,
	}, in)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(tweets, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
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
