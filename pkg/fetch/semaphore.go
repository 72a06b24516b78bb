package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// domainSlot tracks a single domain's semaphore and its usage state.
type domainSlot struct {
	sem         *semaphore.Weighted
	activeCount int64     // number of held + waiting permits
	lastRelease time.Time // updated on every Release; zero if never released
}

// DomainSemaphorePool caps concurrent in-flight fetches per domain key.
// A single pool is shared by every orchestrator call so the cap holds process-wide.
type DomainSemaphorePool struct {
	slots          map[string]*domainSlot
	mu             sync.Mutex
	limit          int64
	acquireTimeout time.Duration
	log            *logrus.Entry
}

// NewDomainSemaphorePool creates a pool allowing maxPerDomain concurrent fetches per domain.
// acquireTimeout bounds how long Acquire waits for a permit; zero means wait for ctx only.
func NewDomainSemaphorePool(maxPerDomain int, acquireTimeout time.Duration, log *logrus.Entry) *DomainSemaphorePool {
	limit := int64(maxPerDomain)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_domain invalid or zero, defaulting to %d", limit)
	}
	return &DomainSemaphorePool{
		slots:          make(map[string]*domainSlot),
		limit:          limit,
		acquireTimeout: acquireTimeout,
		log:            log,
	}
}

// Acquire takes one permit for domain, blocking until one frees up.
// Returns utils.ErrSemaphoreTimeout if the acquire timeout elapses first, or ctx's error.
func (p *DomainSemaphorePool) Acquire(ctx context.Context, domain string) error {
	p.mu.Lock()
	slot, exists := p.slots[domain]
	if !exists {
		slot = &domainSlot{sem: semaphore.NewWeighted(p.limit)}
		p.slots[domain] = slot
		p.log.WithFields(logrus.Fields{"domain": domain, "limit": p.limit}).Debug("Created new domain semaphore")
	}
	slot.activeCount++
	p.mu.Unlock()

	acquireCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	if err := slot.sem.Acquire(acquireCtx, 1); err != nil {
		p.mu.Lock()
		slot.activeCount--
		p.mu.Unlock()
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return utils.WrapErrorf(utils.ErrSemaphoreTimeout, "domain %s after %v", domain, p.acquireTimeout)
		}
		return err
	}
	return nil
}

// Release returns one permit for domain.
func (p *DomainSemaphorePool) Release(domain string) {
	p.mu.Lock()
	slot, exists := p.slots[domain]
	if !exists {
		p.mu.Unlock()
		p.log.Errorf("semaphore: Release called for unknown domain: %s", domain)
		return
	}
	slot.activeCount--
	slot.lastRelease = time.Now()
	p.mu.Unlock()

	slot.sem.Release(1)
}

// RunEviction periodically drops idle domain slots. Should be run in a goroutine.
func (p *DomainSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle(interval)
		case <-ctx.Done():
			p.log.Debugf("Stopping domain semaphore eviction: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes slots that have been idle longer than maxIdle.
func (p *DomainSemaphorePool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	evicted := 0
	for domain, slot := range p.slots {
		if slot.activeCount == 0 && !slot.lastRelease.IsZero() && now.Sub(slot.lastRelease) >= maxIdle {
			delete(p.slots, domain)
			evicted++
		}
	}
	if evicted > 0 {
		p.log.Debugf("Evicted %d idle domain semaphores, %d remain", evicted, len(p.slots))
	}
}

// Len returns the current number of tracked domains.
func (p *DomainSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
