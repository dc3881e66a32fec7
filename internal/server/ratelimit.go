package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipEntry pairs a token bucket with its last-use time for cleanup.
type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter applies a per-client-IP token bucket to the HTTP surface.
// Entries for idle IPs are evicted by a background cleanup goroutine.
type ipLimiter struct {
	mu       sync.Mutex
	entries  map[string]*ipEntry
	perIP    rate.Limit
	burst    int
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// newIPLimiter creates a limiter allowing perMinute requests per IP
// with the given burst. Call start to begin idle-entry cleanup.
func newIPLimiter(perMinute, burst int, cleanupInterval time.Duration, logger *slog.Logger) *ipLimiter {
	return &ipLimiter{
		entries:  make(map[string]*ipEntry),
		perIP:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		interval: cleanupInterval,
		logger:   logger,
	}
}

func (l *ipLimiter) start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.cleanupLoop(ctx)
}

func (l *ipLimiter) stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

// allow reports whether a request from ip may proceed.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	entry, ok := l.entries[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(l.perIP, l.burst)}
		l.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()
	return entry.limiter.Allow()
}

// setRate updates the per-IP rate and burst. Existing buckets are
// dropped so new limits apply immediately.
func (l *ipLimiter) setRate(perMinute, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perIP = rate.Limit(float64(perMinute) / 60.0)
	l.burst = burst
	l.entries = make(map[string]*ipEntry)
}

func (l *ipLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *ipLimiter) cleanup() {
	cutoff := time.Now().Add(-l.interval)
	l.mu.Lock()
	removed := 0
	for ip, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, ip)
			removed++
		}
	}
	remaining := len(l.entries)
	l.mu.Unlock()
	if removed > 0 {
		l.logger.Debug("rate limiter cleanup", "removed", removed, "remaining", remaining)
	}
}

// clientIP extracts the client address from a request, preferring the
// first X-Forwarded-For hop when present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
