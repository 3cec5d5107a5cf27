package importposts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"datauniverse/relay/internal/models"
	"datauniverse/relay/internal/process"
	"datauniverse/relay/internal/storage"
)

const defaultChunkSize = 500

var requiredColumns = []string{"url", "id", "text"}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Summary reports the outcome of an import.
type Summary struct {
	Rows        int
	Imported    int
	// NotInserted counts rows the store left out: duplicates of stored
	// posts and posts that could not be encoded.
	NotInserted int
	Skipped     int
	Errors      []string
}

// Importer backfills posts from a CSV export into the store.
type Importer struct {
	store      storage.PostWriter
	httpClient *http.Client
	// AllowAll keeps off-topic posts. Rows missing url, id or text are
	// always skipped.
	AllowAll  bool
	ChunkSize int
}

// NewImporter creates a new post importer
func NewImporter(store storage.PostWriter) *Importer {
	return &Importer{
		store:      store,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		ChunkSize:  defaultChunkSize,
	}
}

// ImportPosts imports posts from a local CSV file or an http(s) URL.
func (i *Importer) ImportPosts(ctx context.Context, source string) (Summary, error) {
	log.Info().Str("csv", source).Msg("Starting post import")

	csvData, err := i.open(ctx, source)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get CSV data: %w", err)
	}
	defer csvData.Close()

	summary, err := i.parseAndImport(ctx, csvData)
	if err != nil {
		return summary, fmt.Errorf("failed to import posts: %w", err)
	}

	log.Info().
		Int("rows", summary.Rows).
		Int("imported", summary.Imported).
		Int("not_inserted", summary.NotInserted).
		Int("skipped", summary.Skipped).
		Int("errors", len(summary.Errors)).
		Msg("Import summary")
	return summary, nil
}

func (i *Importer) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		log.Info().Str("path", source).Msg("Using local CSV file")
		return os.Open(source)
	}

	log.Info().Str("url", source).Msg("Downloading CSV file")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (i *Importer) parseAndImport(ctx context.Context, csvData io.Reader) (Summary, error) {
	var summary Summary

	reader := csv.NewReader(csvData)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return summary, fmt.Errorf("read CSV header: %w", err)
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	cols := make(map[string]int, len(header))
	for idx, column := range header {
		cols[strings.ToLower(strings.TrimSpace(column))] = idx
	}
	for _, column := range requiredColumns {
		if _, ok := cols[column]; !ok {
			return summary, fmt.Errorf("required column '%s' not found in CSV header", column)
		}
	}

	chunkSize := i.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	batch := make([]models.Post, 0, chunkSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := i.store.InsertPosts(ctx, batch)
		if err != nil {
			return err
		}
		summary.Imported += n
		summary.NotInserted += len(batch) - n
		batch = batch[:0]
		return nil
	}

	lineCount := 1 // Header was already read
	for {
		lineCount++
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}
		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			continue
		}
		summary.Rows++

		post, err := postFromRecord(record, cols)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		keep := process.HasRequiredFields(post)
		if keep && !i.AllowAll {
			keep = process.MatchesTopics(post)
		}
		if !keep {
			log.Debug().Int("line", lineCount).Str("url", post.URL).Msg("Skipping row")
			summary.Skipped++
			continue
		}

		batch = append(batch, post)
		if len(batch) == chunkSize {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}
	if err := flush(); err != nil {
		return summary, err
	}
	return summary, nil
}

func postFromRecord(record []string, cols map[string]int) (models.Post, error) {
	get := func(name string) string {
		if idx, ok := cols[name]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	p := models.Post{
		ID:                get("id"),
		URL:               get("url"),
		Text:              get("text"),
		AuthorUsername:    get("author_username"),
		AuthorDisplayName: get("author_display_name"),
		Hashtags:          strings.Fields(get("hashtags")),
		MediaURLs:         strings.Fields(get("media_urls")),
		ConversationID:    get("conversation_id"),
		CreatedAt:         time.Now().UTC(),
	}
	if s := get("created_at"); s != "" {
		t, err := parseCreatedAt(s)
		if err != nil {
			return p, err
		}
		p.CreatedAt = t
	}

	var err error
	counts := []struct {
		col string
		dst *int
	}{
		{"like_count", &p.LikeCount},
		{"retweet_count", &p.RetweetCount},
		{"reply_count", &p.ReplyCount},
		{"quote_count", &p.QuoteCount},
	}
	for _, c := range counts {
		if s := get(c.col); s != "" {
			if *c.dst, err = strconv.Atoi(s); err != nil {
				return p, fmt.Errorf("invalid %s %q", c.col, s)
			}
		}
	}

	flags := []struct {
		col string
		dst *bool
	}{
		{"is_retweet", &p.IsRetweet},
		{"is_reply", &p.IsReply},
		{"is_quote", &p.IsQuote},
	}
	for _, f := range flags {
		if s := get(f.col); s != "" {
			if *f.dst, err = strconv.ParseBool(s); err != nil {
				return p, fmt.Errorf("invalid %s %q", f.col, s)
			}
		}
	}
	return p, nil
}

func parseCreatedAt(s string) (time.Time, error) {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created_at %q", s)
}
