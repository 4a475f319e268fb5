package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"

	"lexitrend-go/logcolors"
	"lexitrend-go/stats"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type contextKey string

// RateLimitTypeKey holds "normal" or "bypass" for requests that passed the limiter
const RateLimitTypeKey contextKey = "rateLimitType"

// IPRateLimiter keeps one token bucket per client IP
type IPRateLimiter struct {
	ips   map[string]*rate.Limiter
	mu    sync.Mutex
	rate  rate.Limit
	burst int
}

// NewIPRateLimiter creates a limiter allowing r requests per second per IP
// with bursts of up to burst
func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		ips:   make(map[string]*rate.Limiter),
		rate:  r,
		burst: burst,
	}
}

// Limit returns the burst size
func (i *IPRateLimiter) Limit() int {
	return i.burst
}

func (i *IPRateLimiter) AddIP(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	limiter := rate.NewLimiter(i.rate, i.burst)
	i.ips[ip] = limiter
	return limiter
}

func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	limiter, exists := i.ips[ip]
	i.mu.Unlock()

	if !exists {
		return i.AddIP(ip)
	}
	return limiter
}

// Tokens returns the whole tokens left in l
func Tokens(l *rate.Limiter) int {
	return int(math.Floor(l.Tokens()))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects clients that exceed their bucket with 429. A request
// carrying bypassKey in X-API-Key skips the limiter.
func RateLimit(limiter *IPRateLimiter, bypassKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-API-Key"); bypassKey != "" && key == bypassKey {
				w.Header().Set("X-RateLimit-Bypass", "true")
				ctx := context.WithValue(r.Context(), RateLimitTypeKey, "bypass")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ip := clientIP(r)
			l := limiter.GetLimiter(ip)
			allowed := l.Allow()
			stats.Get().RecordRateLimit(allowed)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.Limit()))
			if !allowed {
				log.Warnf("%s IP %s exceeded the rate limit", logcolors.LogRateLimit, ip)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", Tokens(l)))
			ctx := context.WithValue(r.Context(), RateLimitTypeKey, "normal")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
