// Package ratelimit gates mutating API calls per client. The limiter counts
// grants in a rolling window so a client can never exceed the configured
// capacity inside any 60-second span, regardless of alignment.
package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// KeyFunc extracts the client key from a request. Tests inject a
// deterministic one; the default is the remote address.
type KeyFunc func(*http.Request) string

// Info describes a limiter decision for the HTTP response.
type Info struct {
	Limit             int     `json:"limit"`
	Remaining         int     `json:"remaining"`
	RetryAfterSeconds float64 `json:"retry_after_seconds,omitempty"`
}

// Limiter tracks one grant log per client.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	clients  map[string][]time.Time
	lastSeen map[string]time.Time
	now      func() time.Time
}

// New builds a limiter allowing capacity grants per window per client.
func New(capacity int, window time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		capacity: capacity,
		window:   window,
		clients:  make(map[string][]time.Time),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Check reports whether the client may proceed and records the grant.
func (l *Limiter) Check(client string) (bool, Info) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.lastSeen[client] = now
	cutoff := now.Add(-l.window)

	log := l.clients[client]
	kept := log[:0]
	for _, t := range log {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.capacity {
		l.clients[client] = kept
		retry := kept[0].Add(l.window).Sub(now).Seconds()
		if retry < 0 {
			retry = 0
		}
		return false, Info{Limit: l.capacity, Remaining: 0, RetryAfterSeconds: retry}
	}

	kept = append(kept, now)
	l.clients[client] = kept
	return true, Info{Limit: l.capacity, Remaining: l.capacity - len(kept)}
}

// Evict drops clients idle longer than maxIdle; called opportunistically by
// the API layer so the map cannot grow without bound.
func (l *Limiter) Evict(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	evicted := 0
	for client, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.lastSeen, client)
			delete(l.clients, client)
			evicted++
		}
	}
	return evicted
}

// ClientCount reports tracked clients (overview endpoint, tests).
func (l *Limiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// SetClock replaces the time source for tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }
