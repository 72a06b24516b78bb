package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/polite-crawler/pkg/config"
	"github.com/Sriram-PR/polite-crawler/pkg/fetch"
	"github.com/Sriram-PR/polite-crawler/pkg/models"
	"github.com/Sriram-PR/polite-crawler/pkg/parse"
	"github.com/Sriram-PR/polite-crawler/pkg/policy"
	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// Components are the shared collaborators an Orchestrator drives
type Components struct {
	Extractor  *parse.Extractor
	Robots     *fetch.RobotsCache
	Selector   *fetch.Selector
	Backoff    *fetch.BackoffRegistry
	Limiter    *fetch.CrawlDelayLimiter
	Semaphores *fetch.DomainSemaphorePool
	Fetcher    *fetch.Fetcher
}

// Orchestrator decides, waits for and performs one polite fetch per call
// It is safe for concurrent use; all cross-call state lives in the shared components
type Orchestrator struct {
	log         *logrus.Entry
	robotsAgent string
	increment   time.Duration // added to a domain's window per transport failure
	components  Components
	sleep       fetch.Sleeper
	now         func() time.Time
	stop        context.CancelFunc // ends background maintenance
	done        chan struct{}
}

// NewOrchestrator wires prebuilt components together and starts sweeping idle
// per-domain semaphore slots until Close is called
func NewOrchestrator(cfg *config.AppConfig, components Components, log *logrus.Entry) *Orchestrator {
	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		log:         log,
		robotsAgent: config.GetEffectiveRobotsAgent(*cfg),
		increment:   cfg.FailureBackoffIncrement,
		components:  components,
		sleep:       fetch.Sleep,
		now:         time.Now,
		stop:        stop,
		done:        make(chan struct{}),
	}
	go func() {
		defer close(o.done)
		if components.Semaphores != nil {
			components.Semaphores.RunEviction(ctx, cfg.SemaphoreIdleEviction)
		}
	}()
	return o
}

// New builds every component from a validated configuration
func New(cfg *config.AppConfig, log *logrus.Entry) (*Orchestrator, error) {
	clients, err := fetch.NewClients(cfg, fetch.Sleep, log)
	if err != nil {
		return nil, fmt.Errorf("initialize HTTP clients: %w", err)
	}

	extractor := parse.NewExtractor(cfg.PrivateSuffixes)
	robots, err := fetch.NewRobotsCache(clients.Direct, extractor, cfg, log.WithField("component", "robots"))
	if err != nil {
		return nil, err
	}

	policyClient := policy.NewClient(
		cfg.DomainConfig.BaseURL,
		fetch.NewServiceClient(cfg.HTTPClientSettings, cfg.DomainConfig.Timeout),
		log.WithField("component", "domain_config"),
	)

	components := Components{
		Extractor:  extractor,
		Robots:     robots,
		Selector:   fetch.NewSelector(clients, policyClient, cfg.UserAgent, log.WithField("component", "selector")),
		Backoff:    fetch.NewBackoffRegistry(log.WithField("component", "backoff")),
		Limiter:    fetch.NewCrawlDelayLimiter(log.WithField("component", "crawl_delay")),
		Semaphores: fetch.NewDomainSemaphorePool(cfg.MaxRequestsPerDomain, cfg.SemaphoreAcquireTimeout, log.WithField("component", "semaphore")),
		Fetcher:    fetch.NewFetcher(cfg.MaxBodyBytes, log.WithField("component", "fetcher")),
	}
	return NewOrchestrator(cfg, components, log), nil
}

// SetSleeper replaces the Sleeper used for backoff and Retry-After waits
func (o *Orchestrator) SetSleeper(sleep fetch.Sleeper) {
	o.sleep = sleep
}

// SetClock replaces the time source used for Retry-After dates and page timestamps
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Backoff exposes the registry for inspection and manual resets
func (o *Orchestrator) Backoff() *fetch.BackoffRegistry {
	return o.components.Backoff
}

// Robots exposes the robots.txt cache
func (o *Orchestrator) Robots() *fetch.RobotsCache {
	return o.components.Robots
}

// Close stops background maintenance and releases cache resources
func (o *Orchestrator) Close() {
	o.stop()
	<-o.done
	if o.components.Robots != nil {
		o.components.Robots.Close()
	}
}

// attempt is the state of a single Crawl or Resolve call
type attempt struct {
	id        string
	mode      Mode
	rawURL    string
	target    *url.URL
	domain    string
	transport *fetch.Transport
	log       *logrus.Entry
}

func (o *Orchestrator) begin(mode Mode, rawURL string) *attempt {
	id := uuid.NewString()
	return &attempt{
		id:     id,
		mode:   mode,
		rawURL: rawURL,
		log:    o.log.WithFields(logrus.Fields{"attempt_id": id, "mode": mode, "url": rawURL}),
	}
}

// Crawl fetches rawURL if robots.txt and the domain policy permit it
// It returns a *FetchError for every outcome other than success
func (o *Orchestrator) Crawl(ctx context.Context, rawURL string) (*models.Page, error) {
	a := o.begin(ModeCrawl, rawURL)
	resp, err := o.run(ctx, a)
	if err != nil {
		return nil, err
	}

	page := &models.Page{
		AttemptID:  a.id,
		URL:        rawURL,
		FinalURL:   resp.FinalURL.String(),
		Domain:     a.domain,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		BodySHA256: utils.ContentSHA256(resp.Body),
		Truncated:  resp.Truncated,
		Cached:     a.transport.Cached,
		FetchedAt:  o.now(),
	}
	a.log.WithFields(logrus.Fields{"status_code": page.StatusCode, "final_url": page.FinalURL, "bytes": len(page.Body)}).Info("Crawl succeeded")
	return page, nil
}

// Resolve runs the same checks as Crawl and reports the URL rawURL stands for
// A usable <link rel="canonical"> wins; otherwise the final URL after redirects is used
// Unlike Crawl, a Retry-After on the terminal response is recorded but not waited out
func (o *Orchestrator) Resolve(ctx context.Context, rawURL string) (*models.Resolution, error) {
	a := o.begin(ModeResolve, rawURL)
	resp, err := o.run(ctx, a)
	if err != nil {
		return nil, err
	}

	res := &models.Resolution{URL: rawURL, ResolvesTo: resp.FinalURL.String()}
	if canonical, ok := canonicalURL(resp.Body, resp.FinalURL); ok {
		res.ResolvesTo = canonical
		res.Canonical = true
	}
	a.log.WithFields(logrus.Fields{"resolves_to": res.ResolvesTo, "canonical": res.Canonical}).Info("Resolved")
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, a *attempt) (*fetch.Response, error) {
	target, err := parse.ParseTarget(a.rawURL)
	if err != nil {
		return nil, o.fail(a, models.OutcomeInvalidURL, err)
	}
	a.target = target

	domain, err := o.components.Extractor.DomainOfHost(target.Hostname())
	if err != nil {
		return nil, o.fail(a, models.OutcomeInvalidURL, err)
	}
	a.domain = domain
	a.log = a.log.WithField("domain", domain)

	robotsPolicy := o.components.Robots.PolicyFor(ctx, domain, target)
	if !robotsPolicy.Allowed(target, o.robotsAgent) {
		return nil, o.fail(a, models.OutcomeDisallowedByRobots,
			utils.WrapErrorf(utils.ErrRobotsDisallowed, "%s for agent %s", target.RequestURI(), o.robotsAgent))
	}

	transport, err := o.components.Selector.Select(ctx, domain)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrCrawlProhibited):
			return nil, o.fail(a, models.OutcomeCrawlProhibited, err)
		case ctx.Err() != nil:
			return nil, o.canceled(ctx, a)
		case !errors.Is(err, utils.ErrConfigurationUnavailable):
			err = fmt.Errorf("%w: %w", utils.ErrConfigurationUnavailable, err)
		}
		return nil, o.fail(a, models.OutcomeConfigurationUnavailable, err)
	}
	a.transport = transport

	if cooling, remaining := o.components.Backoff.IsCoolingDown(domain); cooling {
		a.log.WithField("remaining", remaining).Info("Domain is backing off, waiting out the window")
		if err := o.sleep(ctx, remaining); err != nil && ctx.Err() != nil {
			return nil, o.canceled(ctx, a)
		}
		return nil, o.fail(a, models.OutcomeBackingOff, utils.WrapErrorf(utils.ErrThrottled, "waited %s", remaining))
	}

	if err := o.components.Limiter.Wait(ctx, domain, robotsPolicy.CrawlDelay(o.robotsAgent)); err != nil {
		return nil, o.canceled(ctx, a)
	}

	if err := o.components.Semaphores.Acquire(ctx, domain); err != nil {
		if ctx.Err() != nil {
			return nil, o.canceled(ctx, a)
		}
		return nil, o.fail(a, models.OutcomeBackingOff, fmt.Errorf("%w: %w", utils.ErrThrottled, err))
	}
	defer o.components.Semaphores.Release(domain)

	resp, err := o.components.Fetcher.Fetch(ctx, transport, target)
	if err != nil {
		return nil, o.fetchFailed(ctx, a, err)
	}
	if !resp.Success() {
		return nil, o.upstreamStatus(ctx, a, resp)
	}
	return resp, nil
}

// fetchFailed classifies an error from the fetch itself
// Only failures the caller did not cause escalate the domain's backoff
func (o *Orchestrator) fetchFailed(ctx context.Context, a *attempt, err error) error {
	switch {
	case ctx.Err() != nil:
		return o.canceled(ctx, a)
	case errors.Is(err, utils.ErrRequestCreation):
		return o.fail(a, models.OutcomeInvalidURL, err)
	case errors.Is(err, utils.ErrResponseBodyRead) && !isTimeout(err):
		return o.fail(a, models.OutcomeBodyUnreadable, err)
	}

	window := o.components.Backoff.RecordFailure(a.domain, o.increment)
	a.log.WithFields(logrus.Fields{"window": window.Duration, "error": err}).Warn("Transport failure, backoff escalated")
	if sleepErr := o.sleep(ctx, window.Duration); sleepErr != nil {
		a.log.Debugf("Backoff wait interrupted: %v", sleepErr)
	}
	return o.fail(a, models.OutcomeTimeoutAddingBackoff, fmt.Errorf("%w: %w", utils.ErrTransportTimeout, err))
}

// upstreamStatus handles a terminal non-2xx response
func (o *Orchestrator) upstreamStatus(ctx context.Context, a *attempt, resp *fetch.Response) error {
	fe := &FetchError{
		Kind:       models.OutcomeHTTPError,
		Mode:       a.mode,
		AttemptID:  a.id,
		Domain:     a.domain,
		URL:        a.rawURL,
		StatusCode: resp.StatusCode,
		Err:        utils.WrapErrorf(utils.ErrUpstreamHTTP, "status %d from %s", resp.StatusCode, resp.FinalURL),
	}

	if values := resp.Header.Values("Retry-After"); len(values) > 0 {
		retry := fetch.ParseRetryDuration(o.now(), values[0])
		fe.RetryAfter = &retry
		if retry.Seconds <= 0 {
			// Retry now: an earlier window must not be re-armed
			a.log.WithField("status_code", resp.StatusCode).Debug("Retry-After of zero, no backoff recorded")
			return o.report(a, fe)
		}
		window := o.components.Backoff.RecordRetryAfter(a.domain, retry.Duration())
		a.log.WithFields(logrus.Fields{
			"status_code": resp.StatusCode, "retry_after": retry.Duration(),
			"fallback": retry.Fallback.String(), "window": window.Duration,
		}).Warn("Upstream asked us to retry later")
		if a.mode == ModeCrawl {
			if err := o.sleep(ctx, retry.Duration()); err != nil {
				a.log.Debugf("Retry-After wait interrupted: %v", err)
			}
		}
	}
	return o.report(a, fe)
}

func (o *Orchestrator) fail(a *attempt, kind models.OutcomeKind, err error) error {
	return o.report(a, &FetchError{
		Kind:      kind,
		Mode:      a.mode,
		AttemptID: a.id,
		Domain:    a.domain,
		URL:       a.rawURL,
		Err:       err,
	})
}

func (o *Orchestrator) canceled(ctx context.Context, a *attempt) error {
	return o.fail(a, models.OutcomeCanceled, ctx.Err())
}

func (o *Orchestrator) report(a *attempt, fe *FetchError) error {
	entry := a.log.WithFields(logrus.Fields{"outcome": fe.Kind, "error_category": utils.CategorizeError(fe.Err)})
	if fe.StatusCode != 0 {
		entry = entry.WithField("status_code", fe.StatusCode)
	}
	switch fe.Kind {
	case models.OutcomeDisallowedByRobots, models.OutcomeCrawlProhibited, models.OutcomeCanceled:
		entry.Infof("Fetch not performed: %v", fe.Err)
	default:
		entry.Warnf("Fetch failed: %v", fe.Err)
	}
	return fe
}

// canonicalURL returns the absolute http(s) target of the page's first <link rel="canonical">
func canonicalURL(body []byte, base *url.URL) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	href, ok := doc.Find(`link[rel~="canonical"][href]`).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" || resolved.Host == "" {
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
