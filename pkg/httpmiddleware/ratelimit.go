package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per Window and key.
	Max    int
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used. See CredentialKey.
	KeyFunc func(*http.Request) string
	// Skip exempts requests, e.g. health probes, from limiting.
	Skip func(*http.Request) bool

	now func() time.Time
}

// counter approximates a sliding window from two fixed windows: the previous
// window's count is weighted by how much of it the sliding window still covers.
type counter struct {
	start time.Time
	prev  int
	curr  int
}

func (c *counter) advance(now time.Time, window time.Duration) {
	start := now.Truncate(window)
	switch {
	case start.Equal(c.start):
	case start.Sub(c.start) == window:
		c.prev, c.curr, c.start = c.curr, 0, start
	default:
		c.prev, c.curr, c.start = 0, 0, start
	}
}

func (c *counter) estimate(now time.Time, window time.Duration) float64 {
	covered := 1 - float64(now.Sub(c.start))/float64(window)
	return float64(c.prev)*covered + float64(c.curr)
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	counters map[string]*counter
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &rateLimiter{cfg: cfg, counters: make(map[string]*counter)}
}

// take counts one request for key if the limit allows it.
func (rl *rateLimiter) take(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c := rl.counters[key]
	if c == nil {
		c = &counter{}
		rl.counters[key] = c
	}
	c.advance(now, rl.cfg.Window)
	resetAt = c.start.Add(rl.cfg.Window)

	used := c.estimate(now, rl.cfg.Window)
	if used >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}
	c.curr++
	return max(0, rl.cfg.Max-int(math.Ceil(used+1))), resetAt, true
}

// evict drops counters that no longer influence any decision.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.counters {
		if now.Sub(c.start) >= 2*rl.cfg.Window {
			delete(rl.counters, key)
		}
	}
}

func (rl *rateLimiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(2 * rl.cfg.Window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			rl.evict(now)
		}
	}
}

// RateLimit limits requests per key. Every limited response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset; a rejected
// one is a 429 API error with Retry-After.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a goroutine, stopped with ctx, that
// evicts idle keys.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go rl.evictLoop(ctx)
	return rl.middleware()
}

func (rl *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.cfg.Skip != nil && rl.cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			now := rl.cfg.now()
			remaining, resetAt, ok := rl.take(rl.cfg.KeyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if !ok {
				wait := max(0, resetAt.Sub(now))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SkipPaths exempts requests whose path is one of paths.
func SkipPaths(paths ...string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.URL.Path]
		return ok
	}
}

// ClientIP keys requests by the first X-Forwarded-For address, then
// X-Real-IP, then the connection's remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// CredentialKey keys requests by a digest of the api_key header or bearer
// token, so staff sharing a till IP are limited separately. Anonymous
// requests fall back to ClientIP.
func CredentialKey(r *http.Request) string {
	cred := r.Header.Get("api_key")
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); cred == "" && ok {
		cred = token
	}
	if cred == "" {
		return ClientIP(r)
	}
	sum := sha256.Sum256([]byte(cred))
	return "cred:" + hex.EncodeToString(sum[:8])
}
