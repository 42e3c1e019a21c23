package httpserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// rateLimiter holds one token bucket per client IP. Buckets idle for a full
// window are swept, since a full bucket is the same as a fresh one.
type rateLimiter struct {
	limit   rate.Limit
	burst   int
	window  time.Duration
	clients *xsync.MapOf[string, *clientBucket]
	now     func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// newRateLimiter allows requests per window for each client. It returns nil,
// which allows everything, when requests is not positive.
func newRateLimiter(requests int, window time.Duration) *rateLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	return &rateLimiter{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		window:  window,
		clients: xsync.NewMapOf[string, *clientBucket](),
		now:     time.Now,
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := l.now()
	bucket, _ := l.clients.LoadOrCompute(key, func() *clientBucket {
		return &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
	})
	bucket.lastSeen.Store(now.UnixNano())
	return bucket.limiter.AllowN(now, 1)
}

// sweep drops buckets not used within the last window
func (l *rateLimiter) sweep() int {
	cutoff := l.now().Add(-l.window).UnixNano()
	removed := 0
	l.clients.Range(func(key string, bucket *clientBucket) bool {
		if bucket.lastSeen.Load() < cutoff {
			l.clients.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (l *rateLimiter) run(ctx context.Context) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	retryAfter := strconv.Itoa(int((l.window/time.Duration(l.burst) + time.Second - 1) / time.Second))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			w.Header().Set("Retry-After", retryAfter)
			http.Error(w, "rate limit exceeded, try again later", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the client IP; RealIP has already applied proxy headers
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
