package models

// OutcomeKind is the structured result of one crawl or resolve call
type OutcomeKind string

const (
	OutcomeUnset                    OutcomeKind = ""                          // Zero value = unset/unknown
	OutcomeSuccess                  OutcomeKind = "success"                   // Target fetched with a 2xx status
	OutcomeDisallowedByRobots       OutcomeKind = "disallowed-by-robots"      // robots.txt forbids the path for our agent
	OutcomeConfigurationUnavailable OutcomeKind = "configuration-unavailable" // Domain policy lookup failed
	OutcomeCrawlProhibited          OutcomeKind = "crawl-prohibited"          // Domain policy disables crawling
	OutcomeBackingOff               OutcomeKind = "backing-off"               // Domain was cooling down; caller waited, call rejected
	OutcomeHTTPError                OutcomeKind = "http-error"                // Target answered with a non-2xx status
	OutcomeTimeoutAddingBackoff     OutcomeKind = "timeout-adding-backoff"    // Transport failure; backoff escalated
	OutcomeInvalidURL               OutcomeKind = "invalid-url"               // Input was not an absolute http(s) URL
	OutcomeCanceled                 OutcomeKind = "canceled"                  // Caller's context ended first
	OutcomeBodyUnreadable           OutcomeKind = "body-unreadable"           // Response body could not be read
)

// String implements fmt.Stringer for logging
func (k OutcomeKind) String() string {
	if k == "" {
		return "unset"
	}
	return string(k)
}

// IsValid returns true if the kind is a known outcome
func (k OutcomeKind) IsValid() bool {
	switch k {
	case OutcomeSuccess, OutcomeDisallowedByRobots, OutcomeConfigurationUnavailable, OutcomeCrawlProhibited,
		OutcomeBackingOff, OutcomeHTTPError, OutcomeTimeoutAddingBackoff, OutcomeInvalidURL,
		OutcomeCanceled, OutcomeBodyUnreadable:
		return true
	}
	return false
}

// IsPolicyDenial returns true when robots.txt or domain policy forbids the fetch
func (k OutcomeKind) IsPolicyDenial() bool {
	return k == OutcomeDisallowedByRobots || k == OutcomeCrawlProhibited
}

// Retryable returns true when the same call may succeed later without any change on our side
func (k OutcomeKind) Retryable() bool {
	switch k {
	case OutcomeBackingOff, OutcomeTimeoutAddingBackoff, OutcomeConfigurationUnavailable:
		return true
	}
	return false
}
