package crawler

import (
	"context"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/polite-crawler/pkg/models"
	"github.com/Sriram-PR/polite-crawler/pkg/parse"
)

// SitemapListing is the result of walking a site's sitemaps
type SitemapListing struct {
	Sitemaps []string             `json:"sitemaps" yaml:"sitemaps"` // documents fetched and parsed
	Failed   []string             `json:"failed,omitempty" yaml:"failed,omitempty"`
	URLs     []parse.SitemapEntry `json:"urls" yaml:"urls"`
}

// DefaultMaxSitemapDocs caps a sitemap walk when no positive limit is given
const DefaultMaxSitemapDocs = 50

// SitemapURLs walks the sitemaps declared in rawURL's robots.txt and collects the page URLs they list
// When robots.txt declares none, /sitemap.xml on the origin is tried
// Every document is fetched through Crawl, so robots rules, domain policy and backoff all apply
// At most maxDocs documents are fetched (DefaultMaxSitemapDocs when maxDocs <= 0); a failed document is recorded and skipped
func (o *Orchestrator) SitemapURLs(ctx context.Context, rawURL string, maxDocs int) (*SitemapListing, error) {
	a := o.begin(ModeCrawl, rawURL)
	if maxDocs <= 0 {
		a.log.Warnf("max sitemap documents %d is not positive, defaulting to %d", maxDocs, DefaultMaxSitemapDocs)
		maxDocs = DefaultMaxSitemapDocs
	}
	target, err := parse.ParseTarget(rawURL)
	if err != nil {
		return nil, o.fail(a, models.OutcomeInvalidURL, err)
	}
	domain, err := o.components.Extractor.DomainOfHost(target.Hostname())
	if err != nil {
		return nil, o.fail(a, models.OutcomeInvalidURL, err)
	}

	var queue []string
	for _, declared := range o.components.Robots.PolicyFor(ctx, domain, target).Ruleset.Sitemaps() {
		if ref, err := url.Parse(declared); err == nil {
			queue = append(queue, target.ResolveReference(ref).String())
		}
	}
	if len(queue) == 0 {
		queue = []string{parse.Origin(target) + "/sitemap.xml"}
	}

	listing := &SitemapListing{}
	seen := make(map[string]bool)
	pages := make(map[string]bool)
	for len(queue) > 0 && len(listing.Sitemaps)+len(listing.Failed) < maxDocs {
		if ctx.Err() != nil {
			return listing, o.canceled(ctx, a)
		}
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true

		docLog := a.log.WithField("sitemap", next)
		page, err := o.Crawl(ctx, next)
		if err != nil {
			docLog.Warnf("Skipping sitemap: %v", err)
			listing.Failed = append(listing.Failed, next)
			continue
		}
		base, _ := url.Parse(page.FinalURL)
		sm, err := parse.ParseSitemap(page.Body, base)
		if err != nil {
			docLog.Warnf("Skipping sitemap: %v", err)
			listing.Failed = append(listing.Failed, next)
			continue
		}

		listing.Sitemaps = append(listing.Sitemaps, next)
		for _, child := range sm.Children {
			queue = append(queue, child.Loc)
		}
		for _, entry := range sm.URLs {
			if !pages[entry.Loc] {
				pages[entry.Loc] = true
				listing.URLs = append(listing.URLs, entry)
			}
		}
		docLog.WithFields(logrus.Fields{"urls": len(sm.URLs), "children": len(sm.Children)}).Debug("Sitemap parsed")
	}

	if len(queue) > 0 {
		a.log.WithFields(logrus.Fields{"max_docs": maxDocs, "pending": len(queue)}).Info("Sitemap document limit reached")
	}
	return listing, nil
}
