package storage_test

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"datauniverse/relay/internal/database"
	"datauniverse/relay/internal/models"
	"datauniverse/relay/internal/storage"
)

func newTestRepo(t *testing.T) (storage.Repository, *database.DB) {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "relay.sqlite")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewRepository(db), db
}

func post(n int, created time.Time, text string, tags ...string) models.Post {
	return models.Post{
		ID:                fmt.Sprintf("%d", n),
		URL:               fmt.Sprintf("https://x.com/user%d/status/%d", n, n),
		Text:              text,
		AuthorUsername:    fmt.Sprintf("user%d", n),
		AuthorDisplayName: fmt.Sprintf("User %d", n),
		CreatedAt:         created.UTC(),
		LikeCount:         n,
		Hashtags:          tags,
		MediaURLs:         []string{},
		ConversationID:    fmt.Sprintf("%d", n),
	}
}

func TestInsertPostsIsIdempotent(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	p := post(1, time.Now().Add(-time.Hour), "gm #bitcoin", "#bitcoin")

	n, err := repo.InsertPosts(ctx, []models.Post{p})
	if err != nil || n != 1 {
		t.Fatalf("first insert: n=%d err=%v", n, err)
	}

	changed := p
	changed.Text = "overwritten?"
	n, err = repo.InsertPosts(ctx, []models.Post{changed, p})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 new rows, got %d", n)
	}

	var rows int
	if err := db.Get(&rows, "SELECT COUNT(*) FROM DataEntity WHERE uri = ?", p.URL); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Fatalf("expected exactly one row, got %d", rows)
	}

	got, found, err := repo.Lookup(ctx, p.URL)
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if got.Text != p.Text {
		t.Fatalf("row was overwritten: %q", got.Text)
	}
}

func TestInsertPostsDerivesColumns(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	created := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 59, 59, 999, time.UTC),
		time.Date(2024, 6, 30, 23, 15, 0, 0, time.FixedZone("PDT", -7*3600)),
	}
	var posts []models.Post
	for i, c := range created {
		posts = append(posts, post(i+1, c, "text", "#BitCoin", "#crypto"))
	}
	if _, err := repo.InsertPosts(ctx, posts); err != nil {
		t.Fatal(err)
	}

	for _, p := range posts {
		var row models.DataEntity
		if err := db.Get(&row, "SELECT * FROM DataEntity WHERE uri = ?", p.URL); err != nil {
			t.Fatalf("select %s: %v", p.URL, err)
		}
		if want := p.CreatedAt.Unix() / 3600; row.TimeBucketID != want {
			t.Fatalf("bucket for %s: got %d want %d", p.URL, row.TimeBucketID, want)
		}
		if !row.DateTime.Equal(p.CreatedAt) {
			t.Fatalf("datetime for %s: got %v want %v", p.URL, row.DateTime, p.CreatedAt)
		}
		if row.Source != models.SourceX {
			t.Fatalf("source: got %d", row.Source)
		}
		if !row.Label.Valid || row.Label.String != "bitcoin" {
			t.Fatalf("label: got %+v", row.Label)
		}
		if row.ContentSizeBytes != len(row.Content) {
			t.Fatalf("contentSizeBytes %d != compressed length %d", row.ContentSizeBytes, len(row.Content))
		}
	}
}

func TestLookupRoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	want := post(7, time.Date(2024, 3, 9, 12, 0, 0, 123456789, time.UTC), "hello $SOL", "$SOL")
	want.MediaURLs = []string{"https://pbs.twimg.com/media/1.jpg"}
	want.IsQuote = true
	want.RetweetCount, want.ReplyCount, want.QuoteCount = 2, 3, 4

	if _, err := repo.InsertPosts(ctx, []models.Post{want}); err != nil {
		t.Fatal(err)
	}

	got, found, err := repo.Lookup(ctx, want.URL)
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at: got %v want %v", got.CreatedAt, want.CreatedAt)
	}
	got.CreatedAt = want.CreatedAt
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch\n got %+v\nwant %+v", got, want)
	}

	if _, found, err := repo.Lookup(ctx, "https://x.com/nobody/status/0"); err != nil || found {
		t.Fatalf("expected absent, found=%v err=%v", found, err)
	}
}

func TestLookupSkipsCorruptContent(t *testing.T) {
	repo, db := newTestRepo(t)
	_, err := db.Exec(`INSERT INTO DataEntity (uri, datetime, timeBucketId, source, label, content, contentSizeBytes)
		VALUES (?, ?, 0, 2, NULL, ?, 3)`, "https://x.com/bad/status/1", database.FormatTime(time.Now()), []byte{0x1f, 0x8b, 0x01})
	if err != nil {
		t.Fatal(err)
	}

	_, found, err := repo.Lookup(context.Background(), "https://x.com/bad/status/1")
	if err != nil || found {
		t.Fatalf("expected corrupt row to be absent, found=%v err=%v", found, err)
	}
}

func TestSearch(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	retweet := post(4, now.Add(-4*time.Hour), "RT bitcoin to the moon", "#bitcoin")
	retweet.IsRetweet = true
	posts := []models.Post{
		post(1, now.Add(-1*time.Hour), "Bitcoin breaks out", "#bitcoin"),
		post(2, now.Add(-2*time.Hour), "ETH staking update", "#ethereum"),
		post(3, now.Add(-3*time.Hour), "more BITCOIN talk", "#Bitcoin"),
		retweet,
		post(5, now.Add(-48*time.Hour), "old bitcoin news", "#bitcoin"),
	}
	if _, err := repo.InsertPosts(ctx, posts); err != nil {
		t.Fatal(err)
	}
	// a corrupt row inside the window must be skipped silently
	_, err := db.Exec(`INSERT INTO DataEntity (uri, datetime, timeBucketId, source, label, content, contentSizeBytes)
		VALUES (?, ?, 0, 2, 'bitcoin', ?, 4)`, "https://x.com/bad/status/9", database.FormatTime(now.Add(-30*time.Minute)), []byte("nope"))
	if err != nil {
		t.Fatal(err)
	}

	urls := func(ps []models.Post) []string {
		out := []string{}
		for _, p := range ps {
			out = append(out, p.URL)
		}
		return out
	}

	tests := []struct {
		name   string
		params storage.SearchParams
		want   []string
	}{
		{
			name:   "label match is case insensitive and newest first",
			params: storage.SearchParams{Query: "#BITCOIN", Limit: 10},
			want:   []string{posts[0].URL, posts[2].URL},
		},
		{
			name:   "free text matches decompressed text",
			params: storage.SearchParams{Query: "bitcoin", Limit: 10},
			want:   []string{posts[0].URL, posts[2].URL},
		},
		{
			name:   "retweets included on request",
			params: storage.SearchParams{Query: "bitcoin", Limit: 10, IncludeRetweets: true},
			want:   []string{posts[0].URL, posts[2].URL, posts[3].URL},
		},
		{
			name:   "limit caps results",
			params: storage.SearchParams{Query: "", Limit: 2},
			want:   []string{posts[0].URL, posts[1].URL},
		},
		{
			name: "explicit window",
			params: storage.SearchParams{
				Query: "bitcoin",
				Start: now.Add(-72 * time.Hour),
				End:   now.Add(-24 * time.Hour),
				Limit: 10,
			},
			want: []string{posts[4].URL},
		},
		{
			name:   "no match",
			params: storage.SearchParams{Query: "dogecoin", Limit: 10},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.Search(ctx, tt.params)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if got := urls(res.Posts); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestSearchPaginates(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var posts []models.Post
	for i := 1; i <= 5; i++ {
		posts = append(posts, post(i, now.Add(-time.Duration(i)*time.Minute), "crypto", "#crypto"))
	}
	if _, err := repo.InsertPosts(ctx, posts); err != nil {
		t.Fatal(err)
	}

	var seen []string
	params := storage.SearchParams{Query: "#crypto", Limit: 2}
	for page := 0; page < 5; page++ {
		res, err := repo.Search(ctx, params)
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range res.Posts {
			seen = append(seen, p.URL)
		}
		if !res.HasMore {
			break
		}
		last := res.Posts[len(res.Posts)-1]
		params.AfterTime = &last.CreatedAt
		params.AfterURI = last.URL
	}

	if len(seen) != 5 {
		t.Fatalf("expected 5 posts across pages, got %v", seen)
	}
	for i, p := range posts {
		if seen[i] != p.URL {
			t.Fatalf("page order mismatch at %d: %s != %s", i, seen[i], p.URL)
		}
	}
}

func TestStats(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	empty, err := repo.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if empty.TotalTweets != 0 || empty.DateRange.Latest != nil || empty.DateRange.Earliest != nil {
		t.Fatalf("unexpected stats on empty store: %+v", empty)
	}

	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	_, err = repo.InsertPosts(ctx, []models.Post{
		post(1, early, "a", "#bitcoin"),
		post(2, late, "b", "#tao"),
		post(3, late.Add(-time.Hour), "c", "#bitcoin"),
		post(4, late.Add(-2*time.Hour), "d"),
	})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalTweets != 4 || stats.UniqueLabels != 2 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.DateRange.Latest == nil || *stats.DateRange.Latest != "2024-01-02T12:00:00Z" {
		t.Fatalf("latest: %v", stats.DateRange.Latest)
	}
	if stats.DateRange.Earliest == nil || *stats.DateRange.Earliest != "2024-01-01T00:00:00Z" {
		t.Fatalf("earliest: %v", stats.DateRange.Earliest)
	}
}

func TestMatchesQuery(t *testing.T) {
	p := models.Post{Text: "Bitcoin ETF flows", Hashtags: []string{"#BTC", "crypto"}}
	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"#btc", true},
		{"#Crypto", true},
		{"#eth", false},
		{"etf", true},
		{"solana", false},
	}
	for _, tt := range tests {
		if got := storage.MatchesQuery(p, tt.query); got != tt.want {
			t.Errorf("MatchesQuery(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
