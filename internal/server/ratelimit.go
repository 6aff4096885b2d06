package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/polyglot-lingua/internal/auth"
)

// rateLimitContextKey is the context key for rate limit info
type rateLimitContextKey struct{}

// RateLimitInfo is the caller's request budget, written to responses as
// x-ratelimit-* headers.
type RateLimitInfo struct {
	RequestsLimit     int
	RequestsRemaining int
	RequestsReset     string
}

// SetRateLimits stores rate limit info in context for the middleware to write as headers.
func SetRateLimits(ctx context.Context, rl *RateLimitInfo) context.Context {
	return context.WithValue(ctx, rateLimitContextKey{}, rl)
}

// GetRateLimits retrieves rate limit info from context.
// Returns nil if no rate limits are set.
func GetRateLimits(ctx context.Context) *RateLimitInfo {
	if rl, ok := ctx.Value(rateLimitContextKey{}).(*RateLimitInfo); ok {
		return rl
	}
	return nil
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool holds one token bucket per user. Idle buckets are dropped by
// sweep.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &limiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rate.Limit(rps),
		burst: burst,
		ttl:   10 * time.Minute,
		now:   time.Now,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

// sweep removes buckets not used within the TTL.
func (p *limiterPool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.ttl)
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

// run sweeps periodically until ctx is done.
func (p *limiterPool) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// middleware rejects requests over the caller's budget with 429 and
// records the remaining budget for RateLimitNormalizingMiddleware. It must
// run after AuthMiddleware.
func (p *limiterPool) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := auth.UserFromContext(r.Context())
		if user == nil || p.rps <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		l := p.get(user.ID)
		now := p.now()
		allowed := l.AllowN(now, 1)

		tokens := l.TokensAt(now)
		info := &RateLimitInfo{
			RequestsLimit:     p.burst,
			RequestsRemaining: int(math.Max(0, math.Floor(tokens))),
			RequestsReset:     resetAfter(tokens, p.burst, p.rps).String(),
		}

		if !allowed {
			writeRateLimitHeaders(w.Header(), info)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(resetAfter(tokens, 1, p.rps).Seconds()))))
			writeErrorMessage(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r.WithContext(SetRateLimits(r.Context(), info)))
	})
}

// resetAfter is how long until the bucket holds target tokens.
func resetAfter(tokens float64, target int, rps rate.Limit) time.Duration {
	missing := float64(target) - tokens
	if missing <= 0 || rps <= 0 {
		return 0
	}
	return time.Duration(missing / float64(rps) * float64(time.Second)).Round(time.Millisecond)
}

// RateLimitNormalizingMiddleware writes normalized rate limit headers to responses.
// It reads rate limit info from context and writes standardized
// x-ratelimit-* headers before the first byte of the response.
func RateLimitNormalizingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &rateLimitResponseWriter{
			ResponseWriter: w,
			request:        r,
		}
		next.ServeHTTP(wrapped, r)
	})
}

// rateLimitResponseWriter wraps ResponseWriter to write rate limit headers.
type rateLimitResponseWriter struct {
	http.ResponseWriter
	request      *http.Request
	wroteHeaders bool
}

func (rw *rateLimitResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeaders {
		writeRateLimitHeaders(rw.Header(), GetRateLimits(rw.request.Context()))
		rw.wroteHeaders = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *rateLimitResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeaders {
		writeRateLimitHeaders(rw.Header(), GetRateLimits(rw.request.Context()))
		rw.wroteHeaders = true
	}
	return rw.ResponseWriter.Write(b)
}

// Flush forwards Flush to the underlying ResponseWriter if it supports http.Flusher.
func (rw *rateLimitResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeRateLimitHeaders(h http.Header, rl *RateLimitInfo) {
	if rl == nil || rl.RequestsLimit <= 0 {
		return
	}
	h.Set("x-ratelimit-limit-requests", strconv.Itoa(rl.RequestsLimit))
	// 0 is a valid remaining value
	h.Set("x-ratelimit-remaining-requests", strconv.Itoa(rl.RequestsRemaining))
	if rl.RequestsReset != "" {
		h.Set("x-ratelimit-reset-requests", rl.RequestsReset)
	}
}
