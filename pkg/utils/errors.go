package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinels shared by the fetch pipeline. Callers wrap them with context;
// CategorizeError matches through the wrapping.
var (
	ErrRobotsDisallowed         = errors.New("disallowed by robots.txt")
	ErrCrawlProhibited          = errors.New("crawling prohibited by domain configuration")
	ErrConfigurationUnavailable = errors.New("domain configuration unavailable")
	ErrThrottled                = errors.New("domain is backing off")
	ErrUpstreamHTTP             = errors.New("upstream returned non-success status")
	ErrTransportTimeout         = errors.New("transport failure; backoff added")
	ErrInvalidURL               = errors.New("invalid URL")
	ErrRequestCreation          = errors.New("failed to create HTTP request")
	ErrResponseBodyRead         = errors.New("failed to read response body")
	ErrParsing                  = errors.New("parsing error")
	ErrConfigValidation         = errors.New("configuration validation error")
	ErrSemaphoreTimeout         = errors.New("timeout acquiring semaphore")
)

// WrapErrorf wraps a sentinel with a formatted message, keeping errors.Is working
func WrapErrorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

type sentinelCategory struct {
	sentinel error
	category string
}

func firstSentinel(err error, cats []sentinelCategory) (string, bool) {
	for _, sc := range cats {
		if errors.Is(err, sc.sentinel) {
			return sc.category, true
		}
	}
	return "", false
}

type marker struct {
	needle   string
	category string
}

// Checked in order against the lowercased message.
var (
	transportMarkers = []marker{
		{"connection refused", "ConnectionRefused"},
		{"no such host", "DNSLookup"},
	}
	networkMarkers = []marker{
		{"timeout", "TimeoutGeneric"},
		{"connection refused", "ConnectionRefused"},
		{"no such host", "DNSLookup"},
		{"tls", "TLS"},
		{"certificate", "TLS"},
		{"reset by peer", "ConnectionReset"},
	}
	parseMarkers = []marker{
		{"robots", "Robots"},
		{"sitemap", "Sitemap"},
		{"json", "JSON"},
	}
	statusMarkers = []marker{
		{"status 429", "429"},
		{"status 404", "404"},
		{"status 403", "403"},
		{"status 5", "5xx"},
		{"status 4", "4xx"},
	}
	policyCategories = []sentinelCategory{
		{ErrRobotsDisallowed, "Policy_Robots"},
		{ErrCrawlProhibited, "Policy_DomainConfig"},
		{ErrConfigurationUnavailable, "Dependency_DomainConfig"},
		{ErrThrottled, "Backoff_Active"},
	}
	resourceCategories = []sentinelCategory{
		{ErrSemaphoreTimeout, "Resource_SemaphoreTimeout"},
		{ErrRequestCreation, "Internal_RequestCreation"},
		{ErrResponseBodyRead, "Network_BodyRead"},
		{ErrConfigValidation, "Config_Validation"},
	}
)

func match(err error, markers []marker, fallback string) string {
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m.needle) {
			return m.category
		}
	}
	return fallback
}

// CategorizeError maps an error to a stable category string for logs and reports.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Policy sentinels win over anything they wrap.
	if cat, ok := firstSentinel(err, policyCategories); ok {
		return cat
	}
	switch {
	case errors.Is(err, ErrTransportTimeout):
		if isTimeout(err) {
			return "Backoff_NetworkTimeout"
		}
		return "Backoff_" + match(err, transportMarkers, "NetworkOther")
	case errors.Is(err, ErrUpstreamHTTP):
		return "HTTP_" + match(err, statusMarkers, "OtherStatus")
	case errors.Is(err, ErrInvalidURL):
		return "Input_InvalidURL"
	case errors.Is(err, ErrParsing):
		return "Content_Parsing" + match(err, parseMarkers, "Other")
	}
	if cat, ok := firstSentinel(err, resourceCategories); ok {
		return cat
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "System_ContextCanceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "System_ContextDeadlineExceeded"
	case isTimeout(err):
		return "Network_Timeout"
	}
	if cat := match(err, networkMarkers, ""); cat != "" {
		return "Network_" + cat
	}
	return "Unknown"
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
