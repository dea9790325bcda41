package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func newLimiter(t *testing.T, limit float64, burst int, trusted ...string) *RateLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRateLimiter(ctx, rate.Limit(limit), burst, trusted...)
}

func fromPeer(peer string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = peer
	return req
}

func TestClientIP_IgnoresForwardingHeadersFromUntrustedPeer(t *testing.T) {
	rl := newLimiter(t, 1, 1)
	req := fromPeer("203.0.113.7:5555")
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("X-Real-Ip", "5.6.7.8")
	assert.Equal(t, "203.0.113.7", rl.clientIP(req))
}

func TestClientIP_TrustedProxyUsesRightmostUntrustedHop(t *testing.T) {
	rl := newLimiter(t, 1, 1, "10.0.0.0/8")
	req := fromPeer("10.0.0.2:443")
	req.Header.Set("X-Forwarded-For", "6.6.6.6, 198.51.100.9, 10.0.0.5")
	assert.Equal(t, "198.51.100.9", rl.clientIP(req))
}

func TestClientIP_TrustedProxyFallsBackToXRealIP(t *testing.T) {
	rl := newLimiter(t, 1, 1, "10.0.0.2")
	req := fromPeer("10.0.0.2:443")
	req.Header.Set("X-Real-Ip", "198.51.100.9")
	assert.Equal(t, "198.51.100.9", rl.clientIP(req))
}

func TestClientIP_RemoteAddrWithoutPort(t *testing.T) {
	rl := newLimiter(t, 1, 1)
	assert.Equal(t, "192.168.1.1", rl.clientIP(fromPeer("192.168.1.1")))
}

func TestLimit_SpoofedForwardedForDoesNotBypass(t *testing.T) {
	rl := newLimiter(t, 5, 10)
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	allowed := 0
	for i := 0; i < 100; i++ {
		req := fromPeer("203.0.113.7:5555")
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	// The burst plus at most a token or two refilled while the loop runs.
	assert.GreaterOrEqual(t, allowed, 10)
	assert.LessOrEqual(t, allowed, 12)
}

func TestLimit_RejectsOverBurst(t *testing.T) {
	rl := newLimiter(t, 0, 2)
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, fromPeer("10.0.0.1:1234"))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, fromPeer("10.0.0.2:1234"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestEvictIdle_DropsStaleVisitors(t *testing.T) {
	rl := newLimiter(t, 1, 1)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.bucket("1.1.1.1")
	now = now.Add(idleAfter / 2)
	rl.bucket("2.2.2.2")
	now = now.Add(idleAfter/2 + time.Second)
	rl.evictIdle()

	assert.NotContains(t, rl.visitors, "1.1.1.1")
	assert.Contains(t, rl.visitors, "2.2.2.2")
}

func TestParseProxies(t *testing.T) {
	var bad []string
	got := ParseProxies([]string{"10.0.0.0/8", " 192.168.1.1 ", "", "nope", "::ffff:10.1.1.1"}, func(raw string, _ error) {
		bad = append(bad, raw)
	})
	assert.Len(t, got, 3)
	assert.Equal(t, []string{"nope"}, bad)
	assert.Equal(t, 32, got[1].Bits())
}
