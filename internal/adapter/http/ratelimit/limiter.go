// Package ratelimit throttles job submissions and uploads per client.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type record struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

// Limiter allows at most maxRequests per window for each client and blocks a
// client that exceeds it for blockDuration.
type Limiter struct {
	mu            sync.Mutex
	clients       map[string]*record
	maxRequests   int
	window        time.Duration
	blockDuration time.Duration
	now           func() time.Time
}

// NewLimiter allows maxRequests per window per client. A client over the limit
// is blocked for blockDuration.
func NewLimiter(maxRequests int, window, blockDuration time.Duration) *Limiter {
	return &Limiter{
		clients:       make(map[string]*record),
		maxRequests:   maxRequests,
		window:        window,
		blockDuration: blockDuration,
		now:           time.Now,
	}
}

// Allow records one request for clientID. When refused it returns how long
// the client has to wait.
func (l *Limiter) Allow(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.clients[clientID]
	if !ok {
		rec = &record{windowStart: now}
		l.clients[clientID] = rec
	}

	if now.Before(rec.blockedUntil) {
		return false, rec.blockedUntil.Sub(now)
	}

	if now.Sub(rec.windowStart) >= l.window {
		rec.count = 0
		rec.windowStart = now
	}

	rec.count++
	if rec.count > l.maxRequests {
		rec.blockedUntil = now.Add(l.blockDuration)
		return false, l.blockDuration
	}
	return true, 0
}

// Run evicts idle clients every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

func (l *Limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, rec := range l.clients {
		if now.Sub(rec.windowStart) > 2*l.window && now.After(rec.blockedUntil) {
			delete(l.clients, id)
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware answers 429 with Retry-After once a client is over its limit.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, wait := l.Allow(clientIP(r))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
