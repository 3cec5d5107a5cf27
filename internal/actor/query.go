package actor

import (
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultWindow is the trailing window used when a query has no bounds.
const DefaultWindow = 24 * time.Hour

const queryTimeLayout = "2006-01-02 15:04:05"

var (
	sinceRe      = regexp.MustCompile(`since:(\d{4}-\d{2}-\d{2}_\d{2}:\d{2}:\d{2}_UTC)`)
	untilRe      = regexp.MustCompile(`until:(\d{4}-\d{2}-\d{2}_\d{2}:\d{2}:\d{2}_UTC)`)
	sinceTokenRe = regexp.MustCompile(`since:\S+`)
	untilTokenRe = regexp.MustCompile(`until:\S+`)
)

// SearchQuery is a search term split into free text and a time window.
type SearchQuery struct {
	Query string
	Start time.Time
	End   time.Time
}

// ParseSearchQuery extracts the since:/until: bounds embedded in a search
// term, e.g. "since:2024-01-01_00:00:00_UTC until:2024-01-01_23:59:59_UTC #bitcoin".
// Every since:/until: token is removed from the residual query, parsed or
// not. Missing or unparseable bounds default to the trailing 24 hours.
func ParseSearchQuery(term string, now time.Time) SearchQuery {
	now = now.UTC()
	q := SearchQuery{
		Start: parseBound(sinceRe, term, "since"),
		End:   parseBound(untilRe, term, "until"),
	}

	residue := sinceTokenRe.ReplaceAllString(term, "")
	residue = untilTokenRe.ReplaceAllString(residue, "")
	q.Query = strings.TrimSpace(residue)

	if q.Start.IsZero() {
		q.Start = now.Add(-DefaultWindow)
	}
	if q.End.IsZero() {
		q.End = now
	}
	return q
}

func parseBound(re *regexp.Regexp, term, name string) time.Time {
	m := re.FindStringSubmatch(term)
	if m == nil {
		return time.Time{}
	}
	value := strings.ReplaceAll(strings.TrimSuffix(m[1], "_UTC"), "_", " ")
	t, err := time.Parse(queryTimeLayout, value)
	if err != nil {
		log.Warn().Err(err).Str("bound", name).Str("value", m[1]).Msg("Failed to parse query date")
		return time.Time{}
	}
	return t.UTC()
}
