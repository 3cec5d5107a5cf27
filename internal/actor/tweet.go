package actor

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"datauniverse/relay/internal/payload"
)

var errNotObject = errors.New("stored content is not a JSON object")

// CreatedAtLayout is the timestamp layout of the actor contract.
const CreatedAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

// Tweet is a record in the shape the actor-contract caller expects.
type Tweet struct {
	Text            string   `json:"text"`
	URL             string   `json:"url"`
	CreatedAt       string   `json:"createdAt"`
	Author          Author   `json:"author"`
	ID              string   `json:"id"`
	LikeCount       int64    `json:"likeCount"`
	RetweetCount    int64    `json:"retweetCount"`
	ReplyCount      int64    `json:"replyCount"`
	QuoteCount      int64    `json:"quoteCount"`
	Entities        Entities `json:"entities"`
	Media           []Media  `json:"media"`
	IsRetweet       bool     `json:"isRetweet"`
	IsReply         bool     `json:"isReply"`
	IsQuote         bool     `json:"isQuote"`
	ConversationID  string   `json:"conversationId"`
	InReplyToUserID *string  `json:"inReplyToUserId"`
}

type Author struct {
	UserName   string `json:"userName"`
	Name       string `json:"name"`
	ID         string `json:"id"`
	IsVerified bool   `json:"isVerified"`
	Followers  int64  `json:"followers"`
	Following  int64  `json:"following"`
}

type Entities struct {
	Hashtags []Entity `json:"hashtags"`
	Symbols  []Entity `json:"symbols"`
}

// Entity is a hashtag or cashtag. Indices are a [0, len(tag)] placeholder,
// not offsets into the text.
type Entity struct {
	Text    string `json:"text"`
	Indices [2]int `json:"indices"`
}

type Media struct {
	MediaURLHTTPS string `json:"media_url_https"`
	Type          string `json:"type"`
}

// Record is one raw record returned by the relay API, classified by shape.
// It is one of PostRecord, StoredRecord or UnknownRecord.
type Record interface {
	isRecord()
}

// PostRecord is a record in the relay's post shape.
type PostRecord struct {
	ID                string
	URL               string
	Text              string
	AuthorUsername    string
	AuthorDisplayName string
	CreatedAt         string
	UserID            string
	UserVerified      bool
	Followers         int64
	Following         int64
	LikeCount         int64
	RetweetCount      int64
	ReplyCount        int64
	QuoteCount        int64
	Hashtags          []string
	MediaURLs         []string
	IsRetweet         bool
	IsReply           bool
	IsQuote           bool
	ConversationID    string
	InReplyToUserID   *string
}

// StoredRecord is a DataEntity-shaped record whose content holds the post,
// as a JSON string, a JSON object, or base64 of the compressed blob.
type StoredRecord struct {
	Content gjson.Result
}

// UnknownRecord is anything else. Only the identifying fields are kept.
type UnknownRecord struct {
	ID   string
	URL  string
	Text string
}

func (PostRecord) isRecord()    {}
func (StoredRecord) isRecord()  {}
func (UnknownRecord) isRecord() {}

// Classify decides the shape of a raw record.
func Classify(raw gjson.Result) Record {
	if !raw.IsObject() {
		return UnknownRecord{}
	}
	if raw.Get("text").Exists() && raw.Get("author_username").Exists() {
		return newPostRecord(raw)
	}
	if content := raw.Get("content"); content.Exists() {
		return StoredRecord{Content: content}
	}
	return UnknownRecord{
		ID:   raw.Get("id").String(),
		URL:  raw.Get("url").String(),
		Text: raw.Get("text").String(),
	}
}

func newPostRecord(r gjson.Result) PostRecord {
	rec := PostRecord{
		URL:               r.Get("url").String(),
		Text:              r.Get("text").String(),
		AuthorUsername:    r.Get("author_username").String(),
		AuthorDisplayName: r.Get("author_display_name").String(),
		UserID:            r.Get("user_id").String(),
		UserVerified:      r.Get("user_verified").Bool(),
		Followers:         r.Get("user_followers_count").Int(),
		Following:         r.Get("user_following_count").Int(),
		LikeCount:         r.Get("like_count").Int(),
		RetweetCount:      r.Get("retweet_count").Int(),
		ReplyCount:        r.Get("reply_count").Int(),
		QuoteCount:        r.Get("quote_count").Int(),
		Hashtags:          stringList(r.Get("hashtags")),
		MediaURLs:         stringList(r.Get("media_urls")),
		IsRetweet:         r.Get("is_retweet").Bool(),
		IsReply:           r.Get("is_reply").Bool(),
		IsQuote:           r.Get("is_quote").Bool(),
		ConversationID:    r.Get("conversation_id").String(),
	}
	if id := r.Get("id"); id.Exists() {
		rec.ID = id.String()
	} else {
		rec.ID = r.Get("tweet_id").String()
	}
	if created := r.Get("created_at"); created.Type == gjson.String {
		rec.CreatedAt = created.String()
	}
	if reply := r.Get("in_reply_to_user_id"); reply.Exists() && reply.Type != gjson.Null {
		s := reply.String()
		rec.InReplyToUserID = &s
	}
	return rec
}

func stringList(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		if v.Type == gjson.String {
			out = append(out, v.String())
		}
	}
	return out
}

// Translate converts a classified record into a Tweet. It reports false
// when a stored record's content cannot be decoded.
func Translate(rec Record, now time.Time) (Tweet, bool) {
	switch rec := rec.(type) {
	case PostRecord:
		return fromPost(rec, now), true
	case StoredRecord:
		inner, err := storedContent(rec.Content)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to decode stored record content")
			return Tweet{}, false
		}
		return fromPost(newPostRecord(inner), now), true
	case UnknownRecord:
		return fromUnknown(rec, now), true
	default:
		return fromUnknown(UnknownRecord{}, now), true
	}
}

// ConvertRecords classifies and translates every record of a response.
func ConvertRecords(records []gjson.Result, now time.Time) []Tweet {
	tweets := make([]Tweet, 0, len(records))
	for _, raw := range records {
		if t, ok := Translate(Classify(raw), now); ok {
			tweets = append(tweets, t)
		}
	}
	return tweets
}

func storedContent(c gjson.Result) (gjson.Result, error) {
	if c.IsObject() {
		return c, nil
	}
	s := strings.TrimSpace(c.String())
	if gjson.Valid(s) {
		if r := gjson.Parse(s); r.IsObject() {
			return r, nil
		}
	}
	blob, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return gjson.Result{}, err
	}
	body, err := payload.Decompress(blob)
	if err != nil {
		return gjson.Result{}, err
	}
	r := gjson.ParseBytes(body)
	if !r.IsObject() {
		return gjson.Result{}, errNotObject
	}
	return r, nil
}

func fromPost(p PostRecord, now time.Time) Tweet {
	hashtags := []Entity{}
	symbols := []Entity{}
	for _, tag := range p.Hashtags {
		switch {
		case strings.HasPrefix(tag, "#"):
			hashtags = append(hashtags, Entity{Text: tag[1:], Indices: [2]int{0, len(tag)}})
		case strings.HasPrefix(tag, "$"):
			symbols = append(symbols, Entity{Text: tag[1:], Indices: [2]int{0, len(tag)}})
		}
	}

	media := make([]Media, 0, len(p.MediaURLs))
	for _, u := range p.MediaURLs {
		media = append(media, Media{MediaURLHTTPS: u, Type: "photo"})
	}

	return Tweet{
		Text:      p.Text,
		URL:       p.URL,
		CreatedAt: formatCreatedAt(p.CreatedAt, now),
		Author: Author{
			UserName:   strings.ReplaceAll(p.AuthorUsername, "@", ""),
			Name:       p.AuthorDisplayName,
			ID:         p.UserID,
			IsVerified: p.UserVerified,
			Followers:  p.Followers,
			Following:  p.Following,
		},
		ID:              p.ID,
		LikeCount:       p.LikeCount,
		RetweetCount:    p.RetweetCount,
		ReplyCount:      p.ReplyCount,
		QuoteCount:      p.QuoteCount,
		Entities:        Entities{Hashtags: hashtags, Symbols: symbols},
		Media:           media,
		IsRetweet:       p.IsRetweet,
		IsReply:         p.IsReply,
		IsQuote:         p.IsQuote,
		ConversationID:  p.ConversationID,
		InReplyToUserID: p.InReplyToUserID,
	}
}

func fromUnknown(u UnknownRecord, now time.Time) Tweet {
	return Tweet{
		Text:      u.Text,
		URL:       u.URL,
		CreatedAt: now.Format(CreatedAtLayout),
		Author: Author{
			UserName: "unknown",
			Name:     "Unknown User",
		},
		ID:       u.ID,
		Entities: Entities{Hashtags: []Entity{}, Symbols: []Entity{}},
		Media:    []Media{},
	}
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func formatCreatedAt(s string, now time.Time) string {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(CreatedAtLayout)
		}
	}
	return now.Format(CreatedAtLayout)
}
