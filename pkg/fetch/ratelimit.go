package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// CrawlDelayLimiter spaces requests to each domain by its robots.txt Crawl-delay
type CrawlDelayLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter // domain -> limiter
	log      *logrus.Entry
}

// NewCrawlDelayLimiter creates an empty limiter
func NewCrawlDelayLimiter(log *logrus.Entry) *CrawlDelayLimiter {
	return &CrawlDelayLimiter{
		limiters: make(map[string]*rate.Limiter),
		log:      log,
	}
}

// Wait blocks until a request to domain honours delay since the previous one
// A delay of zero lets the request through immediately; a changed delay (robots refresh) applies from now on
func (l *CrawlDelayLimiter) Wait(ctx context.Context, domain string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	every := rate.Every(delay)

	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(every, 1)
		l.limiters[domain] = limiter
	} else if limiter.Limit() != every {
		limiter.SetLimit(every)
	}
	l.mu.Unlock()

	reservation := limiter.Reserve()
	wait := reservation.Delay()
	if wait <= 0 {
		return nil
	}

	l.log.WithFields(logrus.Fields{"domain": domain, "sleep": wait, "crawl_delay": delay}).Debug("Crawl-delay applying sleep")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return fmt.Errorf("crawl-delay wait for %s: %w", domain, ctx.Err())
	}
}
