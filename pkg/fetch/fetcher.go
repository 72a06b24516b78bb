package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// Response is a completed target fetch
// Body is only read for 2xx responses
type Response struct {
	FinalURL   *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool // Body was cut at the size limit
}

// Success reports a 2xx status
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher performs a single GET through a selected Transport
// It never retries; backoff decisions belong to the caller
type Fetcher struct {
	maxBodyBytes int64
	log          *logrus.Entry
}

// NewFetcher creates a Fetcher that reads at most maxBodyBytes of a response body
func NewFetcher(maxBodyBytes int64, log *logrus.Entry) *Fetcher {
	return &Fetcher{maxBodyBytes: maxBodyBytes, log: log}
}

// Fetch issues GET target with transport's client and headers
// Network failures are returned unwrapped from the client so callers can tell timeouts from cancellation
// Body read failures wrap utils.ErrResponseBodyRead
func (f *Fetcher) Fetch(ctx context.Context, transport *Transport, target *url.URL) (*Response, error) {
	reqLog := f.log.WithFields(logrus.Fields{"url": target.String(), "cached": transport.Cached})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	for key, values := range transport.Header {
		req.Header[key] = append([]string(nil), values...)
	}

	resp, err := transport.Client.Do(req)
	if err != nil {
		reqLog.Debugf("Fetch failed: %v", err)
		return nil, err
	}
	defer resp.Body.Close()

	result := &Response{
		FinalURL:   resp.Request.URL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	resLog := reqLog.WithFields(logrus.Fields{"status_code": resp.StatusCode, "final_url": result.FinalURL.String()})

	if !result.Success() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resLog.Debug("Non-success status")
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		body = body[:f.maxBodyBytes]
		result.Truncated = true
		resLog.WithField("max_body_bytes", f.maxBodyBytes).Warn("Response body truncated")
	}
	result.Body = body
	resLog.WithField("bytes", len(body)).Debug("Successfully fetched")
	return result, nil
}
