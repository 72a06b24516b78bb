package crawler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/polite-crawler/pkg/config"
	"github.com/Sriram-PR/polite-crawler/pkg/fetch"
	"github.com/Sriram-PR/polite-crawler/pkg/parse"
	"github.com/Sriram-PR/polite-crawler/pkg/policy"
)

const localDomain = "127.0.0.1"

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSleeper records requested sleeps instead of waiting
type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// target is a test origin that serves robots.txt and a set of routes, counting hits per path
type target struct {
	*httptest.Server
	mu      sync.Mutex
	hits    map[string]int
	headers map[string]http.Header
}

func newTarget(t *testing.T, robots string, routes map[string]http.HandlerFunc) *target {
	t.Helper()
	tg := &target{hits: make(map[string]int), headers: make(map[string]http.Header)}
	tg.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tg.mu.Lock()
		tg.hits[r.URL.Path]++
		tg.headers[r.URL.Path] = r.Header.Clone()
		tg.mu.Unlock()

		if r.URL.Path == "/robots.txt" {
			if robots == "" {
				http.NotFound(w, r)
				return
			}
			io.WriteString(w, robots)
			return
		}
		if handler, ok := routes[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(tg.Close)
	return tg
}

func (tg *target) Hits(path string) int {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.hits[path]
}

func (tg *target) Header(path string) http.Header {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.headers[path]
}

func html(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, body)
	}
}

// harness wires an Orchestrator to a stub domain configuration service
type harness struct {
	cfg        *config.AppConfig
	orch       *Orchestrator
	backoff    *fetch.BackoffRegistry
	semaphores *fetch.DomainSemaphorePool
	clock      *fakeClock
	sleeper    *recordingSleeper

	mu           sync.Mutex
	policyStatus int
	policyBody   string
	lookups      int
}

func newHarness(t *testing.T, mutate ...func(*config.AppConfig)) *harness {
	t.Helper()
	h := &harness{
		clock:        newFakeClock(),
		sleeper:      &recordingSleeper{},
		policyStatus: http.StatusOK,
		policyBody:   `{}`,
	}

	configService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		status, body := h.policyStatus, h.policyBody
		h.lookups++
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(configService.Close)

	cfg := &config.AppConfig{
		RequestTimeout: 2 * time.Second,
		RobotsTimeout:  2 * time.Second,
		MaxRedirects:   5,
		DomainConfig:   config.DomainConfigClient{BaseURL: configService.URL, Timeout: 2 * time.Second},
	}
	for _, m := range mutate {
		m(cfg)
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	h.cfg = cfg

	log := testLogger()
	clients, err := fetch.NewClients(cfg, h.sleeper.Sleep, log)
	require.NoError(t, err)
	clients.SetClock(h.clock.Now)
	extractor := parse.NewExtractor(cfg.PrivateSuffixes)
	robots, err := fetch.NewRobotsCache(clients.Direct, extractor, cfg, log)
	require.NoError(t, err)
	robots.SetClock(h.clock.Now)

	h.backoff = fetch.NewBackoffRegistry(log)
	h.backoff.SetClock(h.clock.Now)
	h.semaphores = fetch.NewDomainSemaphorePool(cfg.MaxRequestsPerDomain, cfg.SemaphoreAcquireTimeout, log)

	policies := policy.NewClient(cfg.DomainConfig.BaseURL, fetch.NewServiceClient(cfg.HTTPClientSettings, cfg.DomainConfig.Timeout), log)
	h.orch = NewOrchestrator(cfg, Components{
		Extractor:  extractor,
		Robots:     robots,
		Selector:   fetch.NewSelector(clients, policies, cfg.UserAgent, log),
		Backoff:    h.backoff,
		Limiter:    fetch.NewCrawlDelayLimiter(log),
		Semaphores: h.semaphores,
		Fetcher:    fetch.NewFetcher(cfg.MaxBodyBytes, log),
	}, log)
	h.orch.SetSleeper(h.sleeper.Sleep)
	h.orch.SetClock(h.clock.Now)
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) setPolicy(status int, body string) {
	h.mu.Lock()
	h.policyStatus, h.policyBody = status, body
	h.mu.Unlock()
}

func (h *harness) Lookups() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lookups
}
