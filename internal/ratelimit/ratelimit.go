// Package ratelimit provides the keyed sliding-window limiter and cooldown
// tracker used by the alerting layer.
package ratelimit

import (
	"sync"
	"time"
)

// KeyedLimiter enforces a per-key quota over a sliding time window. Keys are
// opaque strings; the alert manager keys buckets by (channel, severity).
type KeyedLimiter struct {
	window  time.Duration
	quota   int
	enabled bool

	buckets map[string][]time.Time
	mu      sync.Mutex

	now func() time.Time
}

// NewKeyedLimiter creates a limiter allowing quota events per window per key.
func NewKeyedLimiter(window time.Duration, quota int, enabled bool) *KeyedLimiter {
	return &KeyedLimiter{
		window:  window,
		quota:   quota,
		enabled: enabled,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow checks whether another event fits in the key's window and records it
// when it does. Returns false when the quota is exhausted.
func (l *KeyedLimiter) Allow(key string) bool {
	if !l.enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := filterTimes(l.buckets[key], cutoff)

	if len(kept) >= l.quota {
		l.buckets[key] = kept
		return false
	}

	l.buckets[key] = append(kept, now)
	return true
}

// Sweep drops buckets whose entries have all expired.
func (l *KeyedLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, times := range l.buckets {
		kept := filterTimes(times, cutoff)
		if len(kept) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = kept
		}
	}
}

// Stats returns the current occupancy per key.
func (l *KeyedLimiter) Stats() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	stats := make(map[string]int, len(l.buckets))
	for key, times := range l.buckets {
		if n := len(filterTimes(times, cutoff)); n > 0 {
			stats[key] = n
		}
	}
	return stats
}

// Reset clears all tracked events (useful for testing)
func (l *KeyedLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string][]time.Time)
}

// CooldownTracker enforces a minimum interval between repeated events for
// the same key. The alert manager keys it by (book_id, change_type) to damp
// alert storms from flapping fields.
type CooldownTracker struct {
	interval time.Duration
	lastSeen map[string]time.Time
	mu       sync.Mutex

	now func() time.Time
}

// NewCooldownTracker creates a tracker with the given minimum interval.
func NewCooldownTracker(interval time.Duration) *CooldownTracker {
	return &CooldownTracker{
		interval: interval,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether the key is outside its cooldown window and, if so,
// restarts the window.
func (c *CooldownTracker) Allow(key string) bool {
	if c.interval <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.lastSeen[key]; ok && now.Sub(last) < c.interval {
		return false
	}

	c.lastSeen[key] = now
	return true
}

// Sweep removes entries whose cooldown has fully elapsed.
func (c *CooldownTracker) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.interval)
	for key, last := range c.lastSeen {
		if last.Before(cutoff) {
			delete(c.lastSeen, key)
		}
	}
}

// filterTimes keeps only times after the cutoff
func filterTimes(times []time.Time, cutoff time.Time) []time.Time {
	result := make([]time.Time, 0, len(times))
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}
