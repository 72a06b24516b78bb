package models

import (
	"net/http"
	"time"
)

// Page is a successfully fetched target, handed to the extraction layer
type Page struct {
	AttemptID  string      `json:"attempt_id" yaml:"attempt_id"`
	URL        string      `json:"url" yaml:"url"`             // URL as requested
	FinalURL   string      `json:"final_url" yaml:"final_url"` // URL after redirects
	Domain     string      `json:"domain" yaml:"domain"`       // Registrable domain key
	StatusCode int         `json:"status_code" yaml:"status_code"`
	Header     http.Header `json:"-" yaml:"-"`
	Body       []byte      `json:"-" yaml:"-"`
	BodySHA256 string      `json:"body_sha256,omitempty" yaml:"body_sha256,omitempty"`
	Truncated  bool        `json:"truncated,omitempty" yaml:"truncated,omitempty"` // Body cut at max_body_bytes
	Cached     bool        `json:"cached" yaml:"cached"`                           // Routed through the caching proxy
	FetchedAt  time.Time   `json:"fetched_at" yaml:"fetched_at"`
}

// ContentType returns the response Content-Type header
func (p *Page) ContentType() string {
	if p == nil || p.Header == nil {
		return ""
	}
	return p.Header.Get("Content-Type")
}

// Resolution maps a URL to the address it ultimately stands for
type Resolution struct {
	URL        string `json:"url" yaml:"url"`
	ResolvesTo string `json:"resolves_to" yaml:"resolves_to"`
	Canonical  bool   `json:"canonical" yaml:"canonical"` // false: no usable <link rel="canonical">, final URL used instead
}

// Report summarises one call for logs and CLI output
type Report struct {
	AttemptID         string      `json:"attempt_id,omitempty" yaml:"attempt_id,omitempty"`
	URL               string      `json:"url" yaml:"url"`
	Domain            string      `json:"domain,omitempty" yaml:"domain,omitempty"`
	Outcome           OutcomeKind `json:"outcome" yaml:"outcome"`
	StatusCode        int         `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	RetryAfterSeconds int         `json:"retry_after_seconds,omitempty" yaml:"retry_after_seconds,omitempty"`
	ErrorCategory     string      `json:"error_category,omitempty" yaml:"error_category,omitempty"`
	Error             string      `json:"error,omitempty" yaml:"error,omitempty"`
	Page              *Page       `json:"page,omitempty" yaml:"page,omitempty"`
	Resolution        *Resolution `json:"resolution,omitempty" yaml:"resolution,omitempty"`
}
