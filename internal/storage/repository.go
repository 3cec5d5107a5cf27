package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"datauniverse/relay/internal/database"
	"datauniverse/relay/internal/models"
	"datauniverse/relay/internal/payload"
)

// DefaultWindow is the search window used when no start date is given.
const DefaultWindow = 24 * time.Hour

// PostWriter persists posts into the DataEntity table.
type PostWriter interface {
	InsertPosts(ctx context.Context, posts []models.Post) (int, error)
}

// PostReader defines the read operations served by the HTTP API.
type PostReader interface {
	Search(ctx context.Context, params SearchParams) (SearchResult, error)
	Lookup(ctx context.Context, uri string) (models.Post, bool, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Repository combines both sides of the store.
type Repository interface {
	PostWriter
	PostReader
}

// SearchParams selects posts from the store.
// A query starting with '#' matches the label, anything else is a
// case-insensitive substring match on the post text.
type SearchParams struct {
	Query           string
	Start           time.Time
	End             time.Time
	Limit           int
	IncludeRetweets bool

	// Keyset position of the last post of the previous page.
	AfterTime *time.Time
	AfterURI  string
}

// SearchResult holds one page of posts, newest first.
type SearchResult struct {
	Posts   []models.Post
	HasMore bool
}

// sqlxRepository implements Repository using sqlx.
type sqlxRepository struct {
	db *database.DB
}

// NewRepository creates a new repository instance.
func NewRepository(db *database.DB) Repository {
	return &sqlxRepository{db: db}
}

// InsertPosts writes posts with upsert-ignore semantics and returns the
// number of rows actually inserted. Posts that cannot be encoded are skipped.
func (r *sqlxRepository) InsertPosts(ctx context.Context, posts []models.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("DataEntity writer: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO DataEntity (uri, datetime, timeBucketId, source, label, content, contentSizeBytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO NOTHING;`)
	if err != nil {
		return 0, fmt.Errorf("DataEntity writer: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	stored := 0
	for _, post := range posts {
		entity, err := newDataEntity(post)
		if err != nil {
			log.Warn().Err(err).Str("url", post.URL).Msg("Skipping post that could not be encoded")
			continue
		}

		res, err := stmt.ExecContext(ctx,
			entity.URI, database.FormatTime(entity.DateTime), entity.TimeBucketID,
			entity.Source, entity.Label, entity.Content, entity.ContentSizeBytes,
		)
		if err != nil {
			return 0, fmt.Errorf("DataEntity writer: failed to insert %s: %w", post.URL, err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("DataEntity writer: failed to get rows affected for %s: %w", post.URL, err)
		}
		if rowsAffected > 0 {
			stored++
		} else {
			log.Debug().Str("url", post.URL).Msg("Duplicate URL detected")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("DataEntity writer: failed to commit transaction: %w", err)
	}
	return stored, nil
}

// newDataEntity derives the stored row from a post. The time bucket and
// label are always computed here, never taken from the caller.
func newDataEntity(p models.Post) (models.DataEntity, error) {
	content, err := payload.Encode(p)
	if err != nil {
		return models.DataEntity{}, err
	}
	return models.DataEntity{
		URI:              p.URL,
		DateTime:         p.CreatedAt.UTC(),
		TimeBucketID:     models.TimeBucket(p.CreatedAt),
		Source:           models.SourceX,
		Label:            models.LabelFor(p),
		Content:          content,
		ContentSizeBytes: len(content),
	}, nil
}

// Search retrieves posts matching the params, newest first.
func (r *sqlxRepository) Search(ctx context.Context, params SearchParams) (SearchResult, error) {
	if params.Limit <= 0 {
		return SearchResult{Posts: []models.Post{}}, nil
	}

	end := params.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := params.Start
	if start.IsZero() {
		start = end.Add(-DefaultWindow)
	}

	query := `SELECT uri, content FROM DataEntity WHERE source = ? AND datetime BETWEEN ? AND ?`
	args := []any{models.SourceX, database.FormatTime(start), database.FormatTime(end)}

	var textNeedle string
	q := strings.TrimSpace(params.Query)
	if strings.HasPrefix(q, "#") {
		query += ` AND label = ?`
		args = append(args, strings.ToLower(strings.TrimPrefix(q, "#")))
	} else if q != "" {
		textNeedle = strings.ToLower(q)
	}

	if params.AfterTime != nil {
		after := database.FormatTime(*params.AfterTime)
		query += ` AND (datetime < ? OR (datetime = ? AND uri < ?))`
		args = append(args, after, after, params.AfterURI)
	}

	query += ` ORDER BY datetime DESC, uri DESC`

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return SearchResult{}, fmt.Errorf("database query failed: %w", err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0, min(params.Limit, 256))
	hasMore := false
	for rows.Next() {
		var uri string
		var content []byte
		if err := rows.Scan(&uri, &content); err != nil {
			return SearchResult{}, fmt.Errorf("failed to scan DataEntity row: %w", err)
		}

		post, err := payload.Decode(content)
		if err != nil {
			log.Debug().Err(err).Str("uri", uri).Msg("Skipping row with undecodable content")
			continue
		}
		if textNeedle != "" && !strings.Contains(strings.ToLower(post.Text), textNeedle) {
			continue
		}
		if !params.IncludeRetweets && post.IsRetweet {
			continue
		}

		if len(posts) == params.Limit {
			hasMore = true
			break
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, fmt.Errorf("error iterating DataEntity rows: %w", err)
	}

	return SearchResult{Posts: posts, HasMore: hasMore}, nil
}

// Lookup fetches a single post by its URI. Missing rows and rows whose
// content cannot be decoded both report found=false.
func (r *sqlxRepository) Lookup(ctx context.Context, uri string) (models.Post, bool, error) {
	var content []byte
	err := r.db.GetContext(ctx, &content, `SELECT content FROM DataEntity WHERE uri = ?`, uri)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Post{}, false, nil
		}
		return models.Post{}, false, fmt.Errorf("database lookup failed: %w", err)
	}

	post, err := payload.Decode(content)
	if err != nil {
		log.Debug().Err(err).Str("uri", uri).Msg("Stored content could not be decoded")
		return models.Post{}, false, nil
	}
	return post, true, nil
}

// Stats summarises the stored posts.
func (r *sqlxRepository) Stats(ctx context.Context) (models.Stats, error) {
	var row struct {
		Total    int64          `db:"total"`
		Labels   int64          `db:"labels"`
		Latest   sql.NullString `db:"latest"`
		Earliest sql.NullString `db:"earliest"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) AS total,
			COUNT(DISTINCT label) AS labels,
			MAX(datetime) AS latest,
			MIN(datetime) AS earliest
		FROM DataEntity
		WHERE source = ?`, models.SourceX)
	if err != nil {
		return models.Stats{}, fmt.Errorf("stats query failed: %w", err)
	}

	return models.Stats{
		TotalTweets:  row.Total,
		UniqueLabels: row.Labels,
		DateRange: models.DateRange{
			Latest:   formatStored(row.Latest),
			Earliest: formatStored(row.Earliest),
		},
		DatabasePath: r.db.Path,
	}, nil
}

func formatStored(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	if t, err := database.ParseTime(ns.String); err == nil {
		s = t.Format(time.RFC3339)
	}
	return &s
}

// MatchesQuery applies search query semantics to a post that is not in the
// store. A '#' query matches any of the post's hashtags.
func MatchesQuery(p models.Post, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case q == "":
		return true
	case strings.HasPrefix(q, "#"):
		want := strings.TrimPrefix(q, "#")
		for _, tag := range p.Hashtags {
			if strings.ToLower(strings.TrimPrefix(tag, "#")) == want {
				return true
			}
		}
		return false
	default:
		return strings.Contains(strings.ToLower(p.Text), q)
	}
}
