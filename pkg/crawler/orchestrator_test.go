package crawler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/polite-crawler/pkg/config"
	"github.com/Sriram-PR/polite-crawler/pkg/fetch"
	"github.com/Sriram-PR/polite-crawler/pkg/models"
	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

func requireFetchError(t *testing.T, err error, kind models.OutcomeKind) *FetchError {
	t.Helper()
	require.Error(t, err)
	var fe *FetchError
	require.True(t, errors.As(err, &fe), "expected *FetchError, got %T: %v", err, err)
	require.Equal(t, kind, fe.Kind, "unexpected outcome: %v", err)
	assert.Equal(t, kind, OutcomeOf(err))
	return fe
}

func TestCrawl_Success(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/page": html("<html><body>hello</body></html>")})
	h := newHarness(t)

	page, err := h.orch.Crawl(context.Background(), tg.URL+"/page")
	require.NoError(t, err)

	assert.Equal(t, tg.URL+"/page", page.URL)
	assert.Equal(t, tg.URL+"/page", page.FinalURL)
	assert.Equal(t, localDomain, page.Domain)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "<html><body>hello</body></html>", string(page.Body))
	assert.Equal(t, "text/html; charset=utf-8", page.ContentType())
	assert.Equal(t, utils.ContentSHA256(page.Body), page.BodySHA256)
	assert.False(t, page.Cached)
	assert.False(t, page.Truncated)
	assert.Equal(t, h.clock.Now(), page.FetchedAt)
	_, err = uuid.Parse(page.AttemptID)
	assert.NoError(t, err)

	assert.Equal(t, h.cfg.UserAgent, tg.Header("/page").Get("User-Agent"))
	assert.Equal(t, 1, tg.Hits("/robots.txt"))
	assert.Empty(t, h.sleeper.Recorded())
	_, set := h.backoff.Window(localDomain)
	assert.False(t, set, "a successful fetch must not write backoff state")
}

func TestCrawl_InvalidURL(t *testing.T) {
	h := newHarness(t)

	for _, raw := range []string{"not a url", "/relative/path", "ftp://example.com/file", "http://"} {
		t.Run(raw, func(t *testing.T) {
			page, err := h.orch.Crawl(context.Background(), raw)
			assert.Nil(t, page)
			requireFetchError(t, err, models.OutcomeInvalidURL)
			assert.ErrorIs(t, err, utils.ErrInvalidURL)
			assert.Equal(t, http.StatusBadRequest, HTTPStatusFor(err))
		})
	}
	assert.Equal(t, 0, h.Lookups())
}

func TestCrawl_RobotsDisallowed(t *testing.T) {
	robots := "User-agent: RecipeRadar\nDisallow: /private/\n\nUser-agent: *\nDisallow: /"
	tg := newTarget(t, robots, map[string]http.HandlerFunc{
		"/private/x": html("secret"),
		"/public":    html("open"),
	})
	h := newHarness(t)

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/private/x")
	fe := requireFetchError(t, err, models.OutcomeDisallowedByRobots)
	assert.ErrorIs(t, err, utils.ErrRobotsDisallowed)
	assert.Equal(t, localDomain, fe.Domain)
	assert.Equal(t, http.StatusForbidden, HTTPStatusFor(err))
	assert.Equal(t, 0, tg.Hits("/private/x"))
	assert.Equal(t, 0, h.Lookups(), "robots.txt is checked before the domain policy")

	page, err := h.orch.Crawl(context.Background(), tg.URL+"/public")
	require.NoError(t, err)
	assert.Equal(t, "open", string(page.Body))
	assert.Equal(t, 1, tg.Hits("/robots.txt"), "robots.txt is cached per domain")
}

func TestCrawl_ConfigurationUnavailable(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/page": html("ok")})
	h := newHarness(t)
	h.setPolicy(http.StatusInternalServerError, `{"error": "boom"}`)

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/page")
	requireFetchError(t, err, models.OutcomeConfigurationUnavailable)
	assert.ErrorIs(t, err, utils.ErrConfigurationUnavailable)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFor(err))
	assert.Equal(t, 0, tg.Hits("/page"))
}

func TestCrawl_CrawlProhibited(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/page": html("ok")})
	h := newHarness(t)
	h.setPolicy(http.StatusOK, `{"crawl_enabled": false}`)

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/page")
	requireFetchError(t, err, models.OutcomeCrawlProhibited)
	assert.ErrorIs(t, err, utils.ErrCrawlProhibited)
	assert.Equal(t, http.StatusForbidden, HTTPStatusFor(err))
	assert.Equal(t, 0, tg.Hits("/page"))
}

// proxyServer answers every proxied request itself and records the absolute request URIs
func proxyServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.String())
		mu.Unlock()
		io.WriteString(w, "from-proxy")
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
}

func TestCrawl_CacheEnabledUsesProxy(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/page": html("from-origin")})
	proxy, seen := proxyServer(t)
	h := newHarness(t, func(c *config.AppConfig) { c.Proxy.URL = proxy.URL })

	page, err := h.orch.Crawl(context.Background(), tg.URL+"/page")
	require.NoError(t, err)
	assert.True(t, page.Cached)
	assert.Equal(t, "from-proxy", string(page.Body))
	assert.Equal(t, []string{tg.URL + "/page"}, seen())
	assert.Equal(t, 0, tg.Hits("/page"))
	assert.Equal(t, 1, tg.Hits("/robots.txt"), "robots.txt is always fetched directly")
}

func TestCrawl_CacheDisabledFetchesDirectly(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/page": html("from-origin")})
	proxy, seen := proxyServer(t)
	h := newHarness(t, func(c *config.AppConfig) { c.Proxy.URL = proxy.URL })
	h.setPolicy(http.StatusOK, `{"crawl_enabled": true, "cache_enabled": false}`)

	page, err := h.orch.Crawl(context.Background(), tg.URL+"/page")
	require.NoError(t, err)
	assert.False(t, page.Cached)
	assert.Equal(t, "from-origin", string(page.Body))
	assert.Empty(t, seen())
	assert.Equal(t, "no-store", tg.Header("/page").Get("Cache-Control"))
}

func TestCrawl_BackingOffWaitsRemainingWindow(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/page": html("ok")})
	h := newHarness(t)

	h.backoff.RecordFailure(localDomain, 3*time.Second)
	h.clock.Advance(time.Second)

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/page")
	requireFetchError(t, err, models.OutcomeBackingOff)
	assert.ErrorIs(t, err, utils.ErrThrottled)
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatusFor(err))
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeper.Recorded())
	assert.Equal(t, 0, tg.Hits("/page"))

	w, _ := h.backoff.Window(localDomain)
	assert.Equal(t, 3*time.Second, w.Duration, "waiting out a window does not change it")
}

func TestCrawl_TransportFailureEscalatesBackoff(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	h := newHarness(t)

	_, err := h.orch.Crawl(context.Background(), deadURL+"/page")
	requireFetchError(t, err, models.OutcomeTimeoutAddingBackoff)
	assert.ErrorIs(t, err, utils.ErrTransportTimeout)
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatusFor(err))
	w, _ := h.backoff.Window(localDomain)
	assert.Equal(t, time.Second, w.Duration)

	h.clock.Advance(time.Second)

	_, err = h.orch.Crawl(context.Background(), deadURL+"/page")
	requireFetchError(t, err, models.OutcomeTimeoutAddingBackoff)
	w, _ = h.backoff.Window(localDomain)
	assert.Equal(t, 2*time.Second, w.Duration)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeper.Recorded())
}

func TestCrawl_HopTimeoutCountsAsTransportFailure(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{
		"/slow": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		},
	})
	h := newHarness(t, func(c *config.AppConfig) { c.RequestTimeout = 100 * time.Millisecond })

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/slow")
	requireFetchError(t, err, models.OutcomeTimeoutAddingBackoff)
	assert.Equal(t, "Backoff_NetworkTimeout", utils.CategorizeError(err))
	assert.Equal(t, []time.Duration{time.Second}, h.sleeper.Recorded())
}

func retryLater(status int, retryAfter string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(status)
	}
}

func TestCrawl_RetryAfterRecordedAndWaited(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/busy": retryLater(http.StatusServiceUnavailable, "7")})
	h := newHarness(t)

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/busy")
	fe := requireFetchError(t, err, models.OutcomeHTTPError)
	assert.ErrorIs(t, err, utils.ErrUpstreamHTTP)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	require.NotNil(t, fe.RetryAfter)
	assert.Equal(t, 7, fe.RetryAfter.Seconds)
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusFor(err))
	assert.Equal(t, "HTTP_5xx", utils.CategorizeError(err))

	assert.Equal(t, []time.Duration{7 * time.Second}, h.sleeper.Recorded())
	cooling, remaining := h.backoff.IsCoolingDown(localDomain)
	assert.True(t, cooling)
	assert.Equal(t, 7*time.Second, remaining)
}

func TestCrawl_RetryAfterDateUsesClock(t *testing.T) {
	h := newHarness(t)
	at := h.clock.Now().Add(30 * time.Second).Format(http.TimeFormat)
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/busy": retryLater(http.StatusTooManyRequests, at)})

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/busy")
	fe := requireFetchError(t, err, models.OutcomeHTTPError)
	require.NotNil(t, fe.RetryAfter)
	assert.Equal(t, 30, fe.RetryAfter.Seconds)
	assert.Equal(t, fetch.FallbackNone, fe.RetryAfter.Fallback)
	assert.Equal(t, "HTTP_429", utils.CategorizeError(err))
}

func TestCrawl_ZeroRetryAfterLeavesExpiredWindowAlone(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/busy": retryLater(http.StatusServiceUnavailable, "0")})
	h := newHarness(t)

	h.backoff.RecordRetryAfter(localDomain, 10*time.Second)
	h.clock.Advance(time.Hour)
	cooling, _ := h.backoff.IsCoolingDown(localDomain)
	require.False(t, cooling)

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/busy")
	fe := requireFetchError(t, err, models.OutcomeHTTPError)
	require.NotNil(t, fe.RetryAfter)
	assert.Zero(t, fe.RetryAfter.Seconds)

	assert.Empty(t, h.sleeper.Recorded())
	cooling, remaining := h.backoff.IsCoolingDown(localDomain)
	assert.False(t, cooling)
	assert.Zero(t, remaining)
}

func TestResolve_RetryAfterRecordedNotWaited(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/busy": retryLater(http.StatusTooManyRequests, "7")})
	h := newHarness(t)

	res, err := h.orch.Resolve(context.Background(), tg.URL+"/busy")
	assert.Nil(t, res)
	fe := requireFetchError(t, err, models.OutcomeHTTPError)
	assert.Equal(t, ModeResolve, fe.Mode)
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFor(err))

	assert.Empty(t, h.sleeper.Recorded())
	w, set := h.backoff.Window(localDomain)
	require.True(t, set)
	assert.Equal(t, 7*time.Second, w.Duration)
}

func TestCrawl_HTTPErrorWithoutRetryAfter(t *testing.T) {
	tg := newTarget(t, "", nil)
	h := newHarness(t)

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/missing")
	fe := requireFetchError(t, err, models.OutcomeHTTPError)
	assert.Nil(t, fe.RetryAfter)
	assert.Equal(t, http.StatusNotFound, HTTPStatusFor(err))
	assert.Empty(t, h.sleeper.Recorded())
	_, set := h.backoff.Window(localDomain)
	assert.False(t, set)
}

func TestCrawl_RedirectRetryAfterWaitsBeforeFollowing(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{
		"/start": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			http.Redirect(w, r, "/end", http.StatusFound)
		},
		"/end": html("landed"),
	})
	h := newHarness(t)

	page, err := h.orch.Crawl(context.Background(), tg.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, tg.URL+"/end", page.FinalURL)
	assert.Equal(t, "landed", string(page.Body))
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeper.Recorded())
	_, set := h.backoff.Window(localDomain)
	assert.False(t, set)
}

func TestCrawl_RedirectLimitReportsLastResponse(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{
		"/loop": func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/loop", http.StatusFound)
		},
	})
	h := newHarness(t)

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/loop")
	fe := requireFetchError(t, err, models.OutcomeHTTPError)
	assert.Equal(t, http.StatusFound, fe.StatusCode)
	assert.Equal(t, h.cfg.MaxRedirects, tg.Hits("/loop"))
}

func TestResolve(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{
		"/relative": html(`<html><head><link rel="canonical" href="/recipes/1#top"></head></html>`),
		"/absolute": html(`<html><head><link rel="canonical" href="https://canonical.example/r/2"></head></html>`),
		"/none":     html(`<html><head><title>x</title></head></html>`),
		"/mailto":   html(`<html><head><link rel="canonical" href="mailto:chef@example.com"></head></html>`),
		"/old": func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/none", http.StatusMovedPermanently)
		},
	})
	h := newHarness(t)

	tests := []struct {
		path          string
		wantResolves  string
		wantCanonical bool
	}{
		{"/relative", tg.URL + "/recipes/1", true},
		{"/absolute", "https://canonical.example/r/2", true},
		{"/none", tg.URL + "/none", false},
		{"/mailto", tg.URL + "/mailto", false},
		{"/old", tg.URL + "/none", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, err := h.orch.Resolve(context.Background(), tg.URL+tt.path)
			require.NoError(t, err)
			assert.Equal(t, tg.URL+tt.path, res.URL)
			assert.Equal(t, tt.wantResolves, res.ResolvesTo)
			assert.Equal(t, tt.wantCanonical, res.Canonical)
		})
	}
}

func TestCrawl_CancellationDoesNotWriteBackoff(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	tg := newTarget(t, "", map[string]http.HandlerFunc{
		"/hang": func(w http.ResponseWriter, r *http.Request) {
			once.Do(func() { close(started) })
			<-r.Context().Done()
		},
	})
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := h.orch.Crawl(ctx, tg.URL+"/hang")
	requireFetchError(t, err, models.OutcomeCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatusFor(err))
	assert.Empty(t, h.sleeper.Recorded())
	_, set := h.backoff.Window(localDomain)
	assert.False(t, set)
}

func TestCrawl_DomainConcurrencyCap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	tg := newTarget(t, "", map[string]http.HandlerFunc{
		"/hold": func(w http.ResponseWriter, r *http.Request) {
			once.Do(func() { close(started) })
			<-release
			io.WriteString(w, "held")
		},
		"/page": html("ok"),
	})
	h := newHarness(t, func(c *config.AppConfig) {
		c.MaxRequestsPerDomain = 1
		c.SemaphoreAcquireTimeout = 50 * time.Millisecond
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.orch.Crawl(context.Background(), tg.URL+"/hold")
		assert.NoError(t, err)
	}()
	<-started

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/page")
	requireFetchError(t, err, models.OutcomeBackingOff)
	assert.ErrorIs(t, err, utils.ErrSemaphoreTimeout)
	assert.Equal(t, 0, tg.Hits("/page"))

	close(release)
	wg.Wait()

	_, err = h.orch.Crawl(context.Background(), tg.URL+"/page")
	assert.NoError(t, err)
}

func TestCrawl_BodyTruncated(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/big": html("0123456789")})
	h := newHarness(t, func(c *config.AppConfig) { c.MaxBodyBytes = 4 })

	page, err := h.orch.Crawl(context.Background(), tg.URL+"/big")
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	assert.Equal(t, "0123", string(page.Body))
}

func TestOrchestrator_SweepsIdleDomainSlots(t *testing.T) {
	tg := newTarget(t, "", map[string]http.HandlerFunc{"/page": html("ok")})
	h := newHarness(t, func(c *config.AppConfig) { c.SemaphoreIdleEviction = 20 * time.Millisecond })

	_, err := h.orch.Crawl(context.Background(), tg.URL+"/page")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return h.semaphores.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_CloseStopsSweeping(t *testing.T) {
	h := newHarness(t)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		h.orch.Close()
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
