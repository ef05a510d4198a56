// Package ratelimit provides per-client rate limiting for the history API
// using a token bucket per client IP.
package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the configuration for rate limiting
type Config struct {
	// Enabled enables rate limiting
	Enabled bool
	// RequestsPerMin is the number of requests allowed per minute per client
	RequestsPerMin int
	// BurstSize is the maximum burst size
	BurstSize int
	// CleanupMinutes is how long an idle client's bucket is kept
	CleanupMinutes int
	// TrustedProxies are CIDRs or IPs whose X-Forwarded-For is believed
	TrustedProxies []string
}

// clientLimiter tracks a rate limiter and its last access time
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-client rate limiters
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	idle     time.Duration
	trusted  []*net.IPNet
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a new RateLimiter and starts its cleanup loop.
func New(cfg Config) *RateLimiter {
	idle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}

	rl := &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:    burst,
		idle:     idle,
		trusted:  parseTrusted(cfg.TrustedProxies),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	if rl == nil {
		return
	}
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// evictIdle drops buckets not used since now minus the idle period.
func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.idle)
	for ip, l := range rl.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[client]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[client] = l
	}
	l.lastSeen = time.Now()
	return l.limiter
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.limiterFor(rl.ClientIP(r)).Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": "Too many requests. Please try again later.",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the address the request is limited under. Forwarded
// headers are honoured only when the peer is a trusted proxy; the client is
// the rightmost untrusted hop of X-Forwarded-For.
func (rl *RateLimiter) ClientIP(r *http.Request) string {
	remote := hostOnly(r.RemoteAddr)
	if !rl.isTrusted(remote) {
		return remote
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return remote
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !rl.isTrusted(hop) {
			return hop
		}
	}
	return strings.TrimSpace(hops[0])
}

func (rl *RateLimiter) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range rl.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func parseTrusted(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil && ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		if _, n, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Middleware returns a rate limiting middleware with the given
// configuration, or a pass-through when disabled. The limiter lives for the
// rest of the process.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return New(cfg).Middleware()
}
