package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/requestctx"
)

// RateLimiter decides whether key may issue another request in the current window.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) RateDecision
	Close()
}

// RateDecision is the outcome of one Allow call.
type RateDecision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

func (r *Router) withRateLimit(route string, limit int, window time.Duration, keyFn func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key := keyFn(req)
		if key == "" {
			key = rateLimitKeyIP(req)
		}
		decision := r.limiter.Allow(key, limit, window)
		applyRateHeaders(w, limit, decision)
		if !decision.Allowed {
			r.metrics.recordRateLimitHit(route, rateMetricKey(key))
			writeError(w, http.StatusTooManyRequests, kindRateLimited, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// handlerAuthRate authenticates first so mutations are limited per identity.
func (r *Router) handlerAuthRate(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.withRateLimit(route, limit, window, rateLimitKeyIdentity, next))
}

func (r *Router) handlerIPRate(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return r.withRateLimit(route, limit, window, rateLimitKeyIP, next)
}

func rateLimitKeyIdentity(req *http.Request) string {
	if caller, ok := requestctx.IdentityFromContext(req.Context()); ok {
		return "identity:" + caller
	}
	return ""
}

func rateLimitKeyIP(req *http.Request) string {
	host := clientIP(req)
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

func rateMetricKey(key string) string {
	if key == "" {
		return "unknown"
	}
	if idx := strings.IndexRune(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}

func applyRateHeaders(w http.ResponseWriter, limit int, decision RateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.Count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.WindowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.WindowEnd.Unix(), 10))
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
