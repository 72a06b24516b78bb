package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sriram-PR/polite-crawler/pkg/fetch"
	"github.com/Sriram-PR/polite-crawler/pkg/models"
)

// Mode is which entry point produced an outcome
type Mode string

const (
	ModeCrawl   Mode = "crawl"
	ModeResolve Mode = "resolve"
)

// FetchError carries the outcome of a call that did not produce a page
type FetchError struct {
	Kind       models.OutcomeKind
	Mode       Mode
	AttemptID  string
	Domain     string
	URL        string
	StatusCode int               // upstream status for http-error outcomes
	RetryAfter *fetch.RetryAfter // parsed Retry-After when the upstream sent one
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Mode, e.URL)
	if e.Domain != "" {
		fmt.Fprintf(&b, " (domain %s)", e.Domain)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// OutcomeOf maps the error returned by Crawl or Resolve to its outcome kind
func OutcomeOf(err error) models.OutcomeKind {
	if err == nil {
		return models.OutcomeSuccess
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.OutcomeCanceled
	}
	return models.OutcomeUnset
}

// HTTPStatusFor maps an outcome to the status a routing layer should answer with
func HTTPStatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		if OutcomeOf(err) == models.OutcomeCanceled {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}

	switch fe.Kind {
	case models.OutcomeDisallowedByRobots, models.OutcomeCrawlProhibited:
		return http.StatusForbidden
	case models.OutcomeConfigurationUnavailable:
		return http.StatusInternalServerError
	case models.OutcomeBackingOff, models.OutcomeTimeoutAddingBackoff:
		return http.StatusTooManyRequests
	case models.OutcomeHTTPError:
		if fe.Mode == ModeResolve || fe.StatusCode == 0 {
			return http.StatusBadRequest
		}
		return fe.StatusCode
	case models.OutcomeInvalidURL:
		return http.StatusBadRequest
	case models.OutcomeBodyUnreadable:
		return http.StatusBadGateway
	case models.OutcomeCanceled:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
