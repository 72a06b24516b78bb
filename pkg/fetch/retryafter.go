package fetch

import (
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// FallbackReason records why a Retry-After value could not be honoured as sent
type FallbackReason int

const (
	FallbackNone FallbackReason = iota
	FallbackUnparseableNumber
	FallbackUnparseableDate
	FallbackDateInPast
)

func (r FallbackReason) String() string {
	switch r {
	case FallbackNone:
		return "none"
	case FallbackUnparseableNumber:
		return "unparseable-number"
	case FallbackUnparseableDate:
		return "unparseable-date"
	case FallbackDateInPast:
		return "date-in-past"
	default:
		return fmt.Sprintf("FallbackReason(%d)", int(r))
	}
}

// FallbackRetrySeconds is the wait applied when a Retry-After value is unusable
const FallbackRetrySeconds = 60

// maxRetrySeconds caps absurd numeric values so Seconds stays representable
const maxRetrySeconds = math.MaxInt32

// RetryAfter is an interpreted Retry-After header
type RetryAfter struct {
	Seconds    int
	Fallback   FallbackReason
	AssumedUTC bool // The date carried no zone (or -0000) and was read as UTC
}

// Duration returns the wait as a time.Duration
func (r RetryAfter) Duration() time.Duration {
	return time.Duration(r.Seconds) * time.Second
}

// Dates with an explicit zone not covered by mail.ParseDate
var zonedDateLayouts = []string{
	time.RFC850,
	time.RFC3339,
}

// Dates without a zone; read as UTC
var zonelessDateLayouts = []string{
	time.ANSIC,
	"Mon, 02 Jan 2006 15:04:05",
	"Mon, 2 Jan 2006 15:04:05",
	"Mon, 2 Jan 2006 15:04",
	"02 Jan 2006 15:04:05",
	"2 Jan 2006 15:04",
	"Monday, 02-Jan-06 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseRetryDuration interprets a Retry-After value relative to from
// Numbers are seconds rounded up; dates yield the rounded-up distance from from
// Unusable values yield FallbackRetrySeconds with the reason recorded
func ParseRetryDuration(from time.Time, value string) RetryAfter {
	value = strings.TrimSpace(value)
	if value == "" {
		return RetryAfter{}
	}

	if value[0] >= '0' && value[0] <= '9' {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(f) {
			return RetryAfter{Seconds: FallbackRetrySeconds, Fallback: FallbackUnparseableNumber}
		}
		return RetryAfter{Seconds: ceilSeconds(f)}
	}

	date, assumedUTC, ok := parseHTTPDate(value)
	if !ok {
		return RetryAfter{Seconds: FallbackRetrySeconds, Fallback: FallbackUnparseableDate}
	}
	if date.Before(from) {
		return RetryAfter{Seconds: FallbackRetrySeconds, Fallback: FallbackDateInPast, AssumedUTC: assumedUTC}
	}
	return RetryAfter{Seconds: ceilSeconds(date.Sub(from).Seconds()), AssumedUTC: assumedUTC}
}

func ceilSeconds(f float64) int {
	c := math.Ceil(f)
	if c > maxRetrySeconds {
		return maxRetrySeconds
	}
	return int(c)
}

// parseHTTPDate accepts RFC 5322 / RFC 7231 dates plus common zone-less variants
func parseHTTPDate(value string) (t time.Time, assumedUTC bool, ok bool) {
	if t, err := mail.ParseDate(value); err == nil {
		// RFC 5322 -0000 means "no zone information"
		return t.UTC(), strings.HasSuffix(value, "-0000"), true
	}
	for _, layout := range zonedDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), false, true
		}
	}
	for _, layout := range zonelessDateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true, true
		}
	}
	return time.Time{}, false, false
}
