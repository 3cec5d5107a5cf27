package process

import (
	"strings"

	"datauniverse/relay/internal/models"
)

// TargetHashtags is the allow-list of topics the relay keeps.
var TargetHashtags = []string{
	"#bitcoin", "#bitcoincharts", "#bitcoiner", "#bitcoinexchange",
	"#bitcoinmining", "#bitcoinnews", "#bitcoinprice", "#bitcointechnology",
	"#bitcointrading", "#bittensor", "#btc", "#cryptocurrency", "#crypto",
	"#defi", "#decentralizedfinance", "#tao", "#ai", "#artificialintelligence",
	"#blockchain", "#web3", "#ethereum", "#solana", "#cardano", "#polkadot",
}

var targetKeywords = func() map[string]bool {
	m := make(map[string]bool, len(TargetHashtags))
	for _, tag := range TargetHashtags {
		m[normalizeTag(tag)] = true
	}
	return m
}()

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

// HasRequiredFields reports whether a post carries the fields every stored
// record needs.
func HasRequiredFields(p models.Post) bool {
	return p.Text != "" && p.URL != "" && p.ID != ""
}

// MatchesTopics reports whether any hashtag is on the allow-list, or the
// text mentions an allow-listed keyword.
func MatchesTopics(p models.Post) bool {
	for _, tag := range p.Hashtags {
		if targetKeywords[normalizeTag(tag)] {
			return true
		}
	}

	text := strings.ToLower(p.Text)
	for keyword := range targetKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// IsValid is the ingestion filter: required fields plus topic match.
func IsValid(p models.Post) bool {
	return HasRequiredFields(p) && MatchesTopics(p)
}

// FilterValid returns the posts that pass IsValid, preserving order.
func FilterValid(posts []models.Post) []models.Post {
	valid := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if IsValid(p) {
			valid = append(valid, p)
		}
	}
	return valid
}
