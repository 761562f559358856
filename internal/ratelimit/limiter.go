// Package ratelimit implements a per-session sliding-window limiter.
//
// State lives only in process memory: each coordinator instance enforces its
// own windows and a restart clears every counter. Consistent limits across
// replicas would need a shared counter store.
package ratelimit

import (
	"sync"
)

// Limiter tracks recent request timestamps (epoch ms) per key.
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]int64
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{requests: make(map[string][]int64)}
}

// Allow prunes timestamps that fell out of the trailing window and admits
// the request if fewer than maxRequests remain, recording now. A rejected
// request leaves the (pruned) window unchanged.
func (l *Limiter) Allow(key string, now, windowMs int64, maxRequests int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.requests[key][:0]
	for _, t := range l.requests[key] {
		if now-t < windowMs {
			valid = append(valid, t)
		}
	}

	if len(valid) >= maxRequests {
		l.store(key, valid)
		return false
	}

	l.requests[key] = append(valid, now)
	return true
}

// RetryAfterMs returns how long until the oldest request in key's window
// expires, or 0 if a request would be admitted now.
func (l *Limiter) RetryAfterMs(key string, now, windowMs int64, maxRequests int) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var live []int64
	for _, t := range l.requests[key] {
		if now-t < windowMs {
			live = append(live, t)
		}
	}
	if len(live) < maxRequests || len(live) == 0 {
		return 0
	}
	return windowMs - (now - live[0])
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// store saves a pruned window, dropping keys with nothing left in it.
// Caller must hold l.mu.
func (l *Limiter) store(key string, window []int64) {
	if len(window) == 0 {
		delete(l.requests, key)
		return
	}
	l.requests[key] = window
}
