package fetch

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Window is a per-domain cool-down interval
// It is active while now < StartedAt+Duration; expired windows are kept but ignored
type Window struct {
	StartedAt time.Time
	Duration  time.Duration
}

// Until returns the moment the window stops being active
func (w Window) Until() time.Time {
	return w.StartedAt.Add(w.Duration)
}

// Remaining returns how much of the window is left at now (0 once expired)
func (w Window) Remaining(now time.Time) time.Duration {
	if rest := w.Until().Sub(now); rest > 0 {
		return rest
	}
	return 0
}

type backoffEntry struct {
	mu     sync.RWMutex
	window Window
	set    bool
}

// BackoffRegistry tracks cool-down windows per domain key
// Entries are locked individually so domains never contend with each other
type BackoffRegistry struct {
	entries sync.Map // domain -> *backoffEntry
	now     func() time.Time
	log     *logrus.Entry
}

// NewBackoffRegistry creates an empty registry using the wall clock
func NewBackoffRegistry(log *logrus.Entry) *BackoffRegistry {
	return &BackoffRegistry{now: time.Now, log: log}
}

// SetClock replaces the time source; intended for tests
func (r *BackoffRegistry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *BackoffRegistry) entry(domain string) *backoffEntry {
	if e, ok := r.entries.Load(domain); ok {
		return e.(*backoffEntry)
	}
	e, _ := r.entries.LoadOrStore(domain, &backoffEntry{})
	return e.(*backoffEntry)
}

// IsCoolingDown reports whether domain has an active window and how much of it remains
// It never creates, extends or removes state
func (r *BackoffRegistry) IsCoolingDown(domain string) (bool, time.Duration) {
	v, ok := r.entries.Load(domain)
	if !ok {
		return false, 0
	}
	e := v.(*backoffEntry)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.set {
		return false, 0
	}
	remaining := e.window.Remaining(r.now())
	return remaining > 0, remaining
}

// Window returns the stored window for domain, active or not
func (r *BackoffRegistry) Window(domain string) (Window, bool) {
	v, ok := r.entries.Load(domain)
	if !ok {
		return Window{}, false
	}
	e := v.(*backoffEntry)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window, e.set
}

// RecordFailure escalates the window for domain by increment and restarts it now
// The increment adds to any stored duration, including one from an expired window
func (r *BackoffRegistry) RecordFailure(domain string, increment time.Duration) Window {
	e := r.entry(domain)
	e.mu.Lock()
	duration := increment
	if e.set {
		duration = e.window.Duration + increment
	}
	e.window = Window{StartedAt: r.now(), Duration: duration}
	e.set = true
	w := e.window
	e.mu.Unlock()

	r.log.WithFields(logrus.Fields{"domain": domain, "window": w.Duration, "increment": increment}).Info("Backoff escalated after transport failure")
	return w
}

// RecordRetryAfter applies a server-declared wait for domain
// The stored duration becomes the larger of the existing one and wait; it never stacks
func (r *BackoffRegistry) RecordRetryAfter(domain string, wait time.Duration) Window {
	e := r.entry(domain)
	e.mu.Lock()
	duration := wait
	if e.set && e.window.Duration > duration {
		duration = e.window.Duration
	}
	e.window = Window{StartedAt: r.now(), Duration: duration}
	e.set = true
	w := e.window
	e.mu.Unlock()

	r.log.WithFields(logrus.Fields{"domain": domain, "window": w.Duration, "retry_after": wait}).Info("Backoff set from Retry-After")
	return w
}

// Reset forgets any window for domain
func (r *BackoffRegistry) Reset(domain string) {
	r.entries.Delete(domain)
}
