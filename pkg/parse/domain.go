package parse

import (
	"net"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// Extractor reduces URLs to registrable-domain keys (effective TLD plus one label)
// The zero value uses the public suffix list only
type Extractor struct {
	privateSuffixes []string // longest first
}

// NewExtractor creates an Extractor that also treats privateSuffixes (e.g. "test", "co.test") as public suffixes
func NewExtractor(privateSuffixes []string) *Extractor {
	cleaned := make([]string, 0, len(privateSuffixes))
	for _, s := range privateSuffixes {
		s = strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".")
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	sort.SliceStable(cleaned, func(i, j int) bool { return len(cleaned[i]) > len(cleaned[j]) })
	return &Extractor{privateSuffixes: cleaned}
}

// DomainOf returns the registrable domain of rawURL
// Scheme, port, case, trailing dots and subdomains do not affect the result
func (e *Extractor) DomainOf(rawURL string) (string, error) {
	u, err := ParseTarget(rawURL)
	if err != nil {
		return "", err
	}
	return e.DomainOfHost(u.Hostname())
}

// DomainOfHost is DomainOf for a bare host name (no scheme or port)
func (e *Extractor) DomainOfHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", utils.WrapErrorf(utils.ErrInvalidURL, "empty host")
	}
	// IP literals and single-label hosts (localhost) key as themselves
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}

	suffix := icannSuffix(host)
	if private := e.matchPrivate(host); len(private) > len(suffix) {
		suffix = private
	}
	if host == suffix {
		return host, nil
	}
	rest := strings.TrimSuffix(host, "."+suffix)
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		rest = rest[i+1:]
	}
	return rest + "." + suffix, nil
}

// matchPrivate returns the longest configured suffix that host equals or ends with
func (e *Extractor) matchPrivate(host string) string {
	if e == nil {
		return ""
	}
	for _, s := range e.privateSuffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return s
		}
	}
	return ""
}

// icannSuffix looks up the public suffix of host, walking suffixes from the
// list's private section (blogspot.com, github.io) back to their ICANN parent
func icannSuffix(host string) string {
	suffix, icann := publicsuffix.PublicSuffix(host)
	for !icann {
		i := strings.IndexByte(suffix, '.')
		if i < 0 {
			break // Unlisted TLD, the default "*" rule applies
		}
		suffix, icann = publicsuffix.PublicSuffix(suffix[i+1:])
	}
	return suffix
}
