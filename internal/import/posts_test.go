package importposts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"datauniverse/relay/internal/models"
)

const postsCSV = `url,id,text,author_username,created_at,like_count,hashtags,media_urls,is_retweet
https://x.com/a/status/1,1,gm #bitcoin,a,2024-01-01T10:00:00Z,5,#bitcoin,https://pbs.twimg.com/media/1.jpg,false
https://x.com/b/status/2,2,lovely weather in Oslo,b,2024-01-01 11:00:00,0,,,false
https://x.com/c/status/3,,missing id #btc,c,2024-01-01T12:00:00Z,0,#btc,,false
https://x.com/d/status/4,4,$SOL to the moon,d,not a date,0,$SOL,,false
https://x.com/e/status/5,5,ETH staking #ethereum,e,2024-01-01T13:00:00Z,2,#ethereum #defi,,true
https://x.com/a/status/1,1,gm again #bitcoin,a,2024-01-01T10:00:00Z,5,#bitcoin,,false
`

type memStore struct {
	posts map[string]models.Post
	calls int
}

func (m *memStore) InsertPosts(ctx context.Context, posts []models.Post) (int, error) {
	m.calls++
	if m.posts == nil {
		m.posts = make(map[string]models.Post)
	}
	n := 0
	for _, p := range posts {
		if _, ok := m.posts[p.URL]; !ok {
			m.posts[p.URL] = p
			n++
		}
	}
	return n, nil
}

// lossyStore accepts only the first post of every batch, like a store that
// drops posts it cannot encode.
type lossyStore struct{}

func (lossyStore) InsertPosts(ctx context.Context, posts []models.Post) (int, error) {
	return min(len(posts), 1), nil
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posts.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportPostsFiltersAndDeduplicates(t *testing.T) {
	store := &memStore{}
	imp := NewImporter(store)
	imp.ChunkSize = 2

	summary, err := imp.ImportPosts(context.Background(), writeCSV(t, postsCSV))
	if err != nil {
		t.Fatal(err)
	}

	if summary.Rows != 6 || summary.Imported != 2 || summary.NotInserted != 1 || summary.Skipped != 2 || len(summary.Errors) != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	p, ok := store.posts["https://x.com/a/status/1"]
	if !ok {
		t.Fatal("post 1 not imported")
	}
	if p.Text != "gm #bitcoin" || p.LikeCount != 5 || len(p.MediaURLs) != 1 {
		t.Fatalf("post 1 = %+v", p)
	}
	if !p.CreatedAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("created_at = %v", p.CreatedAt)
	}
	if e := store.posts["https://x.com/e/status/5"]; !e.IsRetweet || len(e.Hashtags) != 2 {
		t.Fatalf("post 5 = %+v", e)
	}
}

func TestImportPostsAllowAll(t *testing.T) {
	store := &memStore{}
	imp := NewImporter(store)
	imp.AllowAll = true

	summary, err := imp.ImportPosts(context.Background(), writeCSV(t, postsCSV))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Imported != 3 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if _, ok := store.posts["https://x.com/b/status/2"]; !ok {
		t.Fatal("off-topic post should be kept with AllowAll")
	}
}

func TestImportPostsFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/posts.csv" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(postsCSV))
	}))
	defer srv.Close()

	store := &memStore{}
	summary, err := NewImporter(store).ImportPosts(context.Background(), srv.URL+"/posts.csv")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Imported != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	if _, err := NewImporter(store).ImportPosts(context.Background(), srv.URL+"/missing.csv"); err == nil {
		t.Fatal("expected error for HTTP 404")
	}
}

func TestImportPostsRequiresColumns(t *testing.T) {
	_, err := NewImporter(&memStore{}).ImportPosts(context.Background(), writeCSV(t, "url,text\nu,t\n"))
	if err == nil {
		t.Fatal("expected missing column error")
	}
}

func TestImportPostsCountsRowsTheStoreLeftOut(t *testing.T) {
	imp := NewImporter(lossyStore{})
	imp.AllowAll = true

	summary, err := imp.ImportPosts(context.Background(), writeCSV(t, postsCSV))
	if err != nil {
		t.Fatal(err)
	}
	// 4 valid rows in one chunk, the store keeps 1
	if summary.Imported != 1 || summary.NotInserted != 3 {
		t.Fatalf("summary = %+v", summary)
	}
}
