package payload_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"datauniverse/relay/internal/models"
	"datauniverse/relay/internal/payload"
)

func samplePost() models.Post {
	return models.Post{
		ID:                "1790000000000000001",
		URL:               "https://x.com/satoshi/status/1790000000000000001",
		Text:              "Stacking sats #bitcoin $BTC",
		AuthorUsername:    "satoshi",
		AuthorDisplayName: "Satoshi",
		CreatedAt:         time.Date(2024, 5, 13, 10, 30, 0, 0, time.UTC),
		LikeCount:         42,
		RetweetCount:      7,
		ReplyCount:        3,
		QuoteCount:        1,
		Hashtags:          []string{"#bitcoin", "$BTC"},
		MediaURLs:         []string{"https://pbs.twimg.com/media/abc.jpg"},
		IsReply:           true,
		ConversationID:    "1789999999999999999",
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := samplePost()

	blob, err := payload.Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(blob) < 2 || blob[0] != 0x1f || blob[1] != 0x8b {
		t.Fatalf("expected gzip magic, got % x", blob[:2])
	}

	got, err := payload.Decode(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at: got %v want %v", got.CreatedAt, want.CreatedAt)
	}
	got.CreatedAt = want.CreatedAt
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch\n got %+v\nwant %+v", got, want)
	}
}

func TestDecodePlainJSON(t *testing.T) {
	got, err := payload.Decode([]byte(`{"url":"https://x.com/a/status/1","text":"hi"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.URL != "https://x.com/a/status/1" || got.Text != "hi" {
		t.Fatalf("unexpected post %+v", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":       nil,
		"not json":    []byte("definitely not json"),
		"broken gzip": {0x1f, 0x8b, 0x00, 0x01},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := payload.Decode(in); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := payload.Decode(nil); !errors.Is(err, payload.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}
