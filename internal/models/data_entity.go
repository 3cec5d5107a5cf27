package models

import (
	"database/sql"
	"strings"
	"time"
)

// DataEntity represents a row in the 'DataEntity' table
type DataEntity struct {
	URI              string         `db:"uri"`
	DateTime         time.Time      `db:"datetime"`
	TimeBucketID     int64          `db:"timeBucketId"`
	Source           int            `db:"source"`
	Label            sql.NullString `db:"label"`
	Content          []byte         `db:"content"`
	ContentSizeBytes int            `db:"contentSizeBytes"`
}

// TimeBucket returns the hourly bucket a timestamp falls into.
func TimeBucket(t time.Time) int64 {
	secs := t.Unix()
	bucket := secs / 3600
	if secs < 0 && secs%3600 != 0 {
		bucket-- // floor, not truncation, for pre-epoch timestamps
	}
	return bucket
}

// LabelFor derives the category label of a post: its first hashtag,
// lower-cased with the leading '#' removed.
func LabelFor(p Post) sql.NullString {
	if len(p.Hashtags) == 0 {
		return sql.NullString{}
	}
	label := strings.ToLower(strings.ReplaceAll(p.Hashtags[0], "#", ""))
	if label == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: label, Valid: true}
}
