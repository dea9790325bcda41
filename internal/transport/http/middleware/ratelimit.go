package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/transport/http/respond"
	"golang.org/x/time/rate"
)

const (
	sweepEvery = 5 * time.Minute
	idleAfter  = 10 * time.Minute
)

type visitor struct {
	bucket *rate.Limiter
	seen   time.Time
}

// RateLimiter throttles request floods per client IP before they reach the
// Challenge Store, which enforces the real per-identity limits.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	trusted  []netip.Prefix
	now      func() time.Time
}

// NewRateLimiter allows limit requests/second per IP with the given burst.
// Forwarding headers are honoured only when the connecting peer falls in one
// of trustedProxies (CIDRs or bare addresses). Idle visitors are swept until
// ctx is cancelled.
func NewRateLimiter(ctx context.Context, limit rate.Limit, burst int, trustedProxies ...string) *RateLimiter {
	trusted := ParseProxies(trustedProxies, func(raw string, err error) {
		slog.Warn("ignoring invalid trusted proxy", "value", raw, "err", err)
	})
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		trusted:  trusted,
		now:      time.Now,
	}
	go rl.sweep(ctx)
	return rl
}

func (rl *RateLimiter) bucket(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.seen = rl.now()
	return v.bucket
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idleAfter)
	for ip, v := range rl.visitors {
		if v.seen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// Limit rejects requests over the per-IP budget with 429.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.bucket(rl.clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			respond.Error(w, r, domain.RateLimited("too many requests", 1))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the connection's peer address unless that peer is a trusted
// proxy, in which case it is the right-most untrusted X-Forwarded-For hop
// (or X-Real-Ip when no X-Forwarded-For is present).
func (rl *RateLimiter) clientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !rl.trusts(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !rl.trusts(hop) {
				return hop
			}
		}
		return peer
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xr != "" {
		return xr
	}
	return peer
}

func (rl *RateLimiter) trusts(ip string) bool {
	if len(rl.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ParseProxies turns CIDRs or bare addresses into prefixes. Entries that do
// not parse are reported to onInvalid and skipped.
func ParseProxies(raw []string, onInvalid func(string, error)) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				if onInvalid != nil {
					onInvalid(v, err)
				}
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			if onInvalid != nil {
				onInvalid(v, err)
			}
			continue
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out
}
