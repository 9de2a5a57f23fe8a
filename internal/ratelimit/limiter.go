// Package ratelimit implements the keyed admission gate for the query path.
// Each caller identity owns an independent token bucket; buckets are created
// lazily on first use and evicted after a configurable idle period so that
// one-off callers do not grow the map forever.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket is one identity's admission state. The embedded rate.Limiter
// linearizes concurrent Admit calls for the same identity internally; lastSeen
// is only read under the registry lock during sweeps.
type bucket struct {
	lim      *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// Limiter is a keyed token-bucket admission gate. Concurrent Admit calls for
// different identities contend only on the registry RWMutex (read-locked on
// the hot path); calls for the same identity are serialized by that bucket's
// internal lock so the remaining count is never observed inconsistently.
//
// Admission is continuous-refill: a caller with quota Q over window W earns
// one token every W/Q rather than Q fresh tokens at window boundaries, which
// avoids thundering-herd bursts when a window rolls over.
type Limiter struct {
	quota   int
	refill  rate.Limit
	idleTTL time.Duration

	mu      sync.RWMutex
	buckets map[string]*bucket

	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Limiter admitting up to quota requests per identity per
// window, and starts a janitor goroutine that evicts buckets idle longer than
// idleTTL. Close must be called to stop the janitor.
func New(quota int, window, idleTTL time.Duration) *Limiter {
	l := &Limiter{
		quota:   quota,
		refill:  rate.Limit(float64(quota) / window.Seconds()),
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Admit reports whether one request for the given identity may proceed.
// Denial is immediate; the limiter never blocks or queues.
func (l *Limiter) Admit(identity string) bool {
	return l.admitAt(l.now(), identity)
}

// admitAt is the clock-explicit core of Admit, split out so tests can drive
// the bucket through a window deterministically.
func (l *Limiter) admitAt(now time.Time, identity string) bool {
	b := l.lookup(identity)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// lookup returns the identity's bucket, creating it on first use.
func (l *Limiter) lookup(identity string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[identity]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check under the write lock; another caller may have won the race.
	if b, ok = l.buckets[identity]; ok {
		return b
	}
	b = &bucket{lim: rate.NewLimiter(l.refill, l.quota)}
	l.buckets[identity] = b
	return b
}

// Size returns the number of live identity buckets.
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Close stops the janitor goroutine. Admit remains safe to call afterwards;
// only eviction stops.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// janitor periodically evicts idle buckets. Evicting an idle bucket only
// resets that caller's quota to full, which is indistinguishable from a full
// refill, so eviction can never admit more traffic than the quota allows
// within one window.
func (l *Limiter) janitor() {
	interval := l.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep(l.now())
		}
	}
}

// sweep removes buckets that have not been touched since now-idleTTL.
func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	for identity, b := range l.buckets {
		b.mu.Lock()
		idle := b.lastSeen.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, identity)
		}
	}
}
