package models

import "time"

// SourceX identifies posts originating from X/Twitter in the DataEntity table.
const SourceX = 2

// Post is the structured form of one social-media post. It is what the
// scraper returns, what gets compressed into DataEntity.content and what the
// HTTP API serves.
type Post struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	Text              string    `json:"text"`
	AuthorUsername    string    `json:"author_username"`
	AuthorDisplayName string    `json:"author_display_name"`
	CreatedAt         time.Time `json:"created_at"`
	LikeCount         int       `json:"like_count"`
	RetweetCount      int       `json:"retweet_count"`
	ReplyCount        int       `json:"reply_count"`
	QuoteCount        int       `json:"quote_count"`
	Hashtags          []string  `json:"hashtags"`
	MediaURLs         []string  `json:"media_urls"`
	IsRetweet         bool      `json:"is_retweet"`
	IsReply           bool      `json:"is_reply"`
	IsQuote           bool      `json:"is_quote"`
	ConversationID    string    `json:"conversation_id"`
}
