package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// ParseTarget parses a fetch target, requiring an absolute http(s) URL with a host
// Anything else wraps utils.ErrInvalidURL
func ParseTarget(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", utils.ErrInvalidURL, rawURL, err)
	}
	if !parsed.IsAbs() {
		return nil, utils.WrapErrorf(utils.ErrInvalidURL, "%q: scheme required", rawURL)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, utils.WrapErrorf(utils.ErrInvalidURL, "%q: unsupported scheme %q", rawURL, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, utils.WrapErrorf(utils.ErrInvalidURL, "%q: missing host", rawURL)
	}
	parsed.Scheme = scheme
	return parsed, nil
}

// Origin returns scheme://host[:port] for u, lowercased, with default ports removed
// Does not modify the input *url.URL
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)

	// Remove default ports
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
			if strings.Contains(h, ":") {
				host = "[" + h + "]" // Re-bracket IPv6 literals
			}
		}
	}
	return scheme + "://" + host
}

// RobotsURL returns the robots.txt location for the origin of u
func RobotsURL(u *url.URL) string {
	return Origin(u) + "/robots.txt"
}
