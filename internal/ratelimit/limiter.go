package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Bucket defines rate limit parameters.
type Bucket struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultBuckets are the limits applied per client IP.
var DefaultBuckets = map[string]Bucket{
	"analyze":  {MaxRequests: 30, Window: time.Minute},
	"moderate": {MaxRequests: 10, Window: time.Minute},
	"api":      {MaxRequests: 60, Window: time.Minute},
}

var fallbackBucket = Bucket{MaxRequests: 60, Window: time.Minute}

// Limiter is an in-memory sliding-window rate limiter per key.
type Limiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	buckets map[string]Bucket
	now     func() time.Time
}

// New creates a limiter. A nil buckets map uses DefaultBuckets.
func New(buckets map[string]Bucket) *Limiter {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return &Limiter{
		hits:    make(map[string][]time.Time),
		buckets: buckets,
		now:     time.Now,
	}
}

// Allow reports whether a request identified by key fits in bucket, and
// records it if so.
func (l *Limiter) Allow(key string, bucket Bucket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-bucket.Window)

	times := l.hits[key]
	pruned := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= bucket.MaxRequests {
		l.hits[key] = pruned
		return false
	}

	l.hits[key] = append(pruned, now)
	return true
}

func (l *Limiter) bucket(name string) Bucket {
	if b, ok := l.buckets[name]; ok {
		return b
	}
	return fallbackBucket
}

// Check writes a 429 response if the client is over the named bucket's
// limit. Returns true if the request was rejected.
func (l *Limiter) Check(w http.ResponseWriter, r *http.Request, bucketName string) bool {
	bucket := l.bucket(bucketName)
	key := bucketName + ":" + ClientIP(r)
	if l.Allow(key, bucket) {
		return false
	}

	retryAfter := strconv.Itoa(int(bucket.Window.Seconds()))
	w.Header().Set("Retry-After", retryAfter)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"Rate limited","retry_after_seconds":` + retryAfter + `}`))
	return true
}

// Middleware rejects requests over the named bucket's limit.
func (l *Limiter) Middleware(bucketName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.Check(w, r, bucketName) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP prefers X-Real-IP and strips the port from RemoteAddr.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
