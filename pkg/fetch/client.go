package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/polite-crawler/pkg/config"
)

// Sleeper waits for d, returning early with ctx's error if ctx ends first
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock Sleeper
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clients holds the two ways a target can be fetched
type Clients struct {
	Direct  *http.Client // straight to the origin
	Proxied *http.Client // through the shared caching proxy; same as Direct when no proxy is configured

	now func() time.Time
}

// SetClock replaces the time source used for Retry-After dates on redirects; intended for tests
func (c *Clients) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Clients) clock() time.Time {
	return c.now()
}

// NewClients builds the direct and proxied clients once from configuration
// Each hop gets cfg.RequestTimeout; a redirect carrying Retry-After is delayed via sleep before it is followed
func NewClients(cfg *config.AppConfig, sleep Sleeper, log *logrus.Entry) (*Clients, error) {
	log.Info("Initializing HTTP clients...")
	if sleep == nil {
		sleep = Sleep
	}

	clients := &Clients{now: time.Now}
	clients.Direct = newClient(newTransport(cfg.HTTPClientSettings, nil, nil), cfg, sleep, clients.clock, log.WithField("transport", "direct"))
	clients.Proxied = clients.Direct

	if cfg.Proxy.URL != "" {
		proxyURL, err := url.Parse(cfg.Proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", cfg.Proxy.URL, err)
		}
		roots, err := loadRootCAs(cfg.Proxy.CACertFile)
		if err != nil {
			return nil, err
		}
		transport := newTransport(cfg.HTTPClientSettings, proxyURL, roots)
		clients.Proxied = newClient(transport, cfg, sleep, clients.clock, log.WithField("transport", "proxied"))
		log.WithField("proxy", proxyURL.Redacted()).Info("Caching proxy client initialized.")
	}

	log.Info("HTTP clients initialized.")
	return clients, nil
}

// NewServiceClient builds a direct client for internal services, bounded by timeout overall
func NewServiceClient(settings config.HTTPClientConfig, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(settings, nil, nil),
	}
}

// newTransport creates an http.Transport from settings; proxyURL nil means no proxy at all
func newTransport(cfg config.HTTPClientConfig, proxyURL *url.URL, rootCAs *x509.CertPool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true, // Default to true unless explicitly disabled
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20, // 1MB max header size
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if rootCAs != nil {
		transport.TLSClientConfig = &tls.Config{RootCAs: rootCAs, MinVersion: tls.VersionTLS12}
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}
	return transport
}

// loadRootCAs returns the system roots plus the PEM bundle at path (nil when path is empty)
func loadRootCAs(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy CA bundle: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("proxy CA bundle %s: no certificates found", path)
	}
	return pool, nil
}

func newClient(transport http.RoundTripper, cfg *config.AppConfig, sleep Sleeper, now func() time.Time, log *logrus.Entry) *http.Client {
	return &http.Client{
		// Timeouts are per hop, see hopTimeoutTransport
		Transport:     &hopTimeoutTransport{next: transport, timeout: cfg.RequestTimeout},
		CheckRedirect: redirectPolicy(cfg.MaxRedirects, sleep, now, log),
	}
}

// redirectPolicy follows up to maxRedirects redirects, waiting out any Retry-After on the redirect response first
// Past the limit the last redirect response is returned as-is
func redirectPolicy(maxRedirects int, sleep Sleeper, now func() time.Time, log *logrus.Entry) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			log.WithFields(logrus.Fields{"url": via[0].URL.String(), "max_redirects": maxRedirects}).Warn("Redirect limit reached")
			return http.ErrUseLastResponse
		}
		prev := via[len(via)-1]
		if req.Response != nil {
			if raw := req.Response.Header.Get("Retry-After"); raw != "" {
				wait := ParseRetryDuration(now(), raw)
				log.WithFields(logrus.Fields{
					"from": prev.URL.String(), "to": req.URL.String(), "status_code": req.Response.StatusCode,
					"retry_after": wait.Duration(), "fallback": wait.Fallback.String(),
				}).Info("Redirect carries Retry-After, waiting before following")
				if err := sleep(req.Context(), wait.Duration()); err != nil {
					return err
				}
			}
		}
		log.Debugf("Redirecting: %s -> %s (hop %d)", prev.URL, req.URL, len(via))
		return nil
	}
}

// hopTimeoutTransport bounds each round trip, including reading its body, by timeout
type hopTimeoutTransport struct {
	next    http.RoundTripper
	timeout time.Duration
}

func (t *hopTimeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.timeout <= 0 {
		return t.next.RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the hop context once the body is done with
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
