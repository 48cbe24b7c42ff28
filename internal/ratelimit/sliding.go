// Package ratelimit implements an in-process sliding window request limiter.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 10
)

// SlidingWindow admits at most Max requests per key within any trailing Window.
type SlidingWindow struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewSlidingWindow(window time.Duration, max int) *SlidingWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxRequests
	}
	return &SlidingWindow{
		window:  window,
		max:     max,
		entries: make(map[string][]time.Time),
	}
}

func (l *SlidingWindow) Window() time.Duration { return l.window }

func (l *SlidingWindow) Max() int { return l.max }

// Allow records now for key and reports true when fewer than Max requests
// happened in the trailing window. Rejected calls are not recorded.
func (l *SlidingWindow) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.prune(key, now)
	if len(hits) >= l.max {
		return false
	}
	l.entries[key] = append(hits, now)
	return true
}

// RetryAfter reports how long key has to wait before Allow can succeed again.
func (l *SlidingWindow) RetryAfter(key string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.prune(key, now)
	if len(hits) < l.max {
		return 0
	}
	// the slot frees up once the oldest hit that keeps us at the limit leaves the window
	oldest := hits[len(hits)-l.max]
	return oldest.Add(l.window).Sub(now)
}

func (l *SlidingWindow) Reset(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// prune drops hits outside the window ending at now. Must be called with mu held.
func (l *SlidingWindow) prune(key string, now time.Time) []time.Time {
	hits := l.entries[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == len(hits) {
		delete(l.entries, key)
		return nil
	}
	if i > 0 {
		hits = append(hits[:0:0], hits[i:]...)
		l.entries[key] = hits
	}
	return hits
}
