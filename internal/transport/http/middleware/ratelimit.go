package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/rittima/CRM-Team-sub000/internal/transport/http/api"
)

type RateLimitKeyFunc func(r *http.Request) string

// NewLimiter builds an in-process limiter allowing perMinute requests per key.
func NewLimiter(perMinute int) *limiter.Limiter {
	return limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: int64(perMinute)})
}

// RateLimit throttles by authenticated user, falling back to the client IP.
// Mount it after Auth so the caller is known. trustProxy reads the client IP
// from X-Forwarded-For and must only be set behind a proxy that writes it.
func RateLimit(l *limiter.Limiter, trustProxy bool) func(http.Handler) http.Handler {
	ipKey := ClientIP(trustProxy)
	return RateLimitBy(l, func(r *http.Request) string {
		if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
			return "user:" + user.UserID
		}
		return ipKey(r)
	})
}

// RateLimitBy throttles by keyFn, using the peer address when it returns "".
func RateLimitBy(l *limiter.Limiter, keyFn RateLimitKeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				key = peerKey(r)
			}

			lctx, err := l.Get(r.Context(), key)
			if err != nil {
				// Fail open; the limiter store is in-process.
				slog.Warn("rate limit lookup failed", "key", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			resetIn := max(lctx.Reset-time.Now().Unix(), 0)
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetIn, 10))

			if lctx.Reached {
				w.Header().Set("Retry-After", strconv.FormatInt(max(resetIn, 1), 10))
				slog.Warn("rate limit exceeded",
					"key", key,
					"path", r.URL.Path,
					"method", r.Method,
					"limit", lctx.Limit,
				)
				api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by client address. With trustProxy the last
// X-Forwarded-For hop wins, which is the address the proxy itself saw;
// earlier hops are caller-supplied.
func ClientIP(trustProxy bool) RateLimitKeyFunc {
	if !trustProxy {
		return peerKey
	}
	return func(r *http.Request) string {
		hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
		if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
			return "ip:" + last
		}
		return peerKey(r)
	}
}

func peerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return "ip:" + host
	}
	return "ip:" + strings.TrimSpace(r.RemoteAddr)
}
