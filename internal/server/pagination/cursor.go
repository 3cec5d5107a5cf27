package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

const cursorSeparator = ","
const timeFormat = time.RFC3339Nano // Use nano for precision

// ErrInvalidCursor is wrapped by every DecodeCursor failure.
var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor creates an opaque cursor string from a post's authored-at
// time and its URI.
func EncodeCursor(ts time.Time, uri string) string {
	key := ts.UTC().Format(timeFormat) + cursorSeparator + uri
	return base64.URLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor parses the opaque cursor string back into timestamp and URI.
// The URI may itself contain the separator; the timestamp never does.
func DecodeCursor(encodedCursor string) (time.Time, string, error) {
	decodedBytes, err := base64.URLEncoding.DecodeString(encodedCursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: bad encoding: %v", ErrInvalidCursor, err)
	}

	parts := strings.SplitN(string(decodedBytes), cursorSeparator, 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", fmt.Errorf("%w: bad format", ErrInvalidCursor)
	}

	ts, err := time.Parse(timeFormat, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: bad timestamp: %v", ErrInvalidCursor, err)
	}

	return ts.UTC(), parts[1], nil
}
