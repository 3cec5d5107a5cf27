package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"datauniverse/relay/internal/models"
	"datauniverse/relay/internal/scraper"
	"datauniverse/relay/internal/server/pagination"
	"datauniverse/relay/internal/storage"
)

const (
	defaultLimit      = 150
	lookupConcurrency = 5

	SourceDatabase = "database"
	SourceRealTime = "real-time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// TweetsHandler serves the post endpoints of the relay API.
type TweetsHandler struct {
	repo storage.PostReader
	// live is consulted when a search has no match in the store. May be nil.
	live scraper.Scraper
}

// NewTweetsHandler creates a new handler instance.
func NewTweetsHandler(repo storage.PostReader, live scraper.Scraper) *TweetsHandler {
	return &TweetsHandler{
		repo: repo,
		live: live,
	}
}

// Search handles POST /api/search.
func (h *TweetsHandler) Search(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	ctx := r.Context()

	req, err := decodeJSON[models.SearchRequest](r)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid search request")
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	params := storage.SearchParams{
		Query:           req.Query,
		Limit:           req.Limit,
		IncludeRetweets: req.IncludeRetweets,
	}
	if params.Limit == 0 {
		params.Limit = defaultLimit
	}
	if params.Start, err = parseDate(req.StartDate); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid 'start_date': use ISO 8601 (e.g. 2024-01-01T00:00:00Z)")
		return
	}
	if params.End, err = parseDate(req.EndDate); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid 'end_date': use ISO 8601 (e.g. 2024-01-01T23:59:59Z)")
		return
	}
	if req.Cursor != "" {
		ts, uri, err := pagination.DecodeCursor(req.Cursor)
		if err != nil {
			log.Warn().Err(err).Str("cursor", req.Cursor).Msg("Invalid 'cursor' parameter")
			WriteError(w, r, http.StatusBadRequest, "Invalid 'cursor' parameter")
			return
		}
		params.AfterTime = &ts
		params.AfterURI = uri
	}

	log.Info().Str("query", params.Query).Int("limit", params.Limit).Msg("Searching tweets")

	res, err := h.repo.Search(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("query", params.Query).Msg("Error searching tweets in repository")
		WriteError(w, r, http.StatusInternalServerError, "Search failed")
		return
	}

	resp := models.SearchResponse{
		Status: "success",
		Tweets: res.Posts,
		Source: SourceDatabase,
	}
	if res.HasMore && len(res.Posts) > 0 {
		last := res.Posts[len(res.Posts)-1]
		cursor := pagination.EncodeCursor(last.CreatedAt, last.URL)
		resp.NextCursor = &cursor
	}
	if len(res.Posts) == 0 && h.live != nil && req.Cursor == "" {
		log.Info().Msg("No tweets in database, trying real-time scraping")
		resp.Tweets = h.liveSearch(ctx, params)
		resp.Source = SourceRealTime
	}
	resp.Count = len(resp.Tweets)

	log.Info().Int("count", resp.Count).Str("source", resp.Source).Msg("Search completed")
	WriteJSON(w, r, http.StatusOK, resp)
}

func (h *TweetsHandler) liveSearch(ctx context.Context, params storage.SearchParams) []models.Post {
	posts, err := h.live.Fetch(ctx, params.Limit)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Real-time scraping error")
		return []models.Post{}
	}
	out := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if !params.IncludeRetweets && p.IsRetweet {
			continue
		}
		if storage.MatchesQuery(p, params.Query) {
			out = append(out, p)
		}
		if len(out) == params.Limit {
			break
		}
	}
	return out
}

// Validate handles POST /api/validate. Lookups run concurrently, bounded by
// lookupConcurrency; the response keeps the request order and omits URLs
// that are not stored.
func (h *TweetsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	req, err := decodeJSON[models.ValidateRequest](r)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid validate request")
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	log.Info().Int("urls", len(req.URLs)).Msg("Validating URLs")

	found := make([]*models.Post, len(req.URLs))
	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(lookupConcurrency)
	for i, u := range req.URLs {
		g.Go(func() error {
			post, ok, err := h.repo.Lookup(gctx, strings.TrimSpace(u))
			if err != nil {
				return fmt.Errorf("lookup %s: %w", u, err)
			}
			if ok {
				found[i] = &post
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Error validating URLs")
		WriteError(w, r, http.StatusInternalServerError, "Validation failed")
		return
	}

	tweets := make([]models.Post, 0, len(found))
	for _, p := range found {
		if p != nil {
			tweets = append(tweets, *p)
		}
	}

	WriteJSON(w, r, http.StatusOK, models.ValidateResponse{
		Status:    "success",
		Tweets:    tweets,
		Count:     len(tweets),
		Requested: len(req.URLs),
	})
}

// Stats handles GET /api/stats.
func (h *TweetsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error reading database statistics")
		WriteError(w, r, http.StatusInternalServerError, "Failed to read statistics")
		return
	}
	WriteJSON(w, r, http.StatusOK, stats)
}

// parseDate accepts RFC3339 and naive ISO 8601 timestamps. Naive values are
// taken as UTC. An empty string yields the zero time.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
