package server

import (
	"net/http"
	"testing"
	"time"
)

func TestIPLimiter_Allow(t *testing.T) {
	l := newIPLimiter(60, 2, time.Minute, testLogger())

	if !l.allow("10.0.0.1") {
		t.Error("first request denied, want allowed")
	}
	if !l.allow("10.0.0.1") {
		t.Error("second request within burst denied, want allowed")
	}
	if l.allow("10.0.0.1") {
		t.Error("third request allowed, want denied after burst of 2")
	}

	// A different IP gets its own bucket.
	if !l.allow("10.0.0.2") {
		t.Error("request from fresh IP denied, want allowed")
	}
}

func TestIPLimiter_SetRate(t *testing.T) {
	l := newIPLimiter(60, 1, time.Minute, testLogger())

	if !l.allow("10.0.0.1") {
		t.Fatal("first request denied")
	}
	if l.allow("10.0.0.1") {
		t.Fatal("second request allowed with burst of 1")
	}

	l.setRate(60, 5)
	if !l.allow("10.0.0.1") {
		t.Error("request denied after rate increase reset the buckets")
	}
}

func TestIPLimiter_Cleanup(t *testing.T) {
	l := newIPLimiter(60, 1, 50*time.Millisecond, testLogger())
	l.allow("10.0.0.1")

	l.mu.Lock()
	l.entries["10.0.0.1"].lastSeen = time.Now().Add(-time.Minute)
	l.mu.Unlock()

	l.cleanup()

	l.mu.Lock()
	_, exists := l.entries["10.0.0.1"]
	l.mu.Unlock()
	if exists {
		t.Error("stale entry survived cleanup")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr with port", "192.168.1.5:54321", "", "192.168.1.5"},
		{"x-forwarded-for single", "10.0.0.1:80", "203.0.113.7", "203.0.113.7"},
		{"x-forwarded-for chain uses first hop", "10.0.0.1:80", "203.0.113.7,10.0.0.2", "203.0.113.7"},
		{"remote addr without port", "192.168.1.5", "", "192.168.1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: http.Header{}}
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
