// Package payload encodes posts into the compressed blob stored in
// DataEntity.content and decodes them back.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"

	"datauniverse/relay/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEmpty is returned when decoding a zero-length blob.
var ErrEmpty = errors.New("payload: empty content")

// Encode serialises a post as JSON and gzip-compresses it.
func Encode(p models.Post) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payload: marshal post %s: %w", p.URL, err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, fmt.Errorf("payload: compress post %s: %w", p.URL, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("payload: finish compression for %s: %w", p.URL, err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode. Blobs that are not gzip streams are parsed as
// plain JSON, which covers rows written by older tooling.
func Decode(content []byte) (models.Post, error) {
	var p models.Post
	if len(content) == 0 {
		return p, ErrEmpty
	}

	raw, err := Decompress(content)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("payload: unmarshal post: %w", err)
	}
	return p, nil
}

// Decompress returns the JSON bytes held in a content blob.
func Decompress(content []byte) ([]byte, error) {
	if !isGzip(content) {
		return content, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("payload: open gzip stream: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("payload: decompress: %w", err)
	}
	return raw, nil
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}
