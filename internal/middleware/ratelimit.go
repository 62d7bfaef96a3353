package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// Limiter counts hits per key inside a sliding window.
// Implementations: the in-process limiter below and redis.Client (shared by all API instances).
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type rateLimiter struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time
}

func NewLocalLimiter(max int, window time.Duration) Limiter {
	return &rateLimiter{times: make(map[string][]time.Time), max: max, window: window, now: time.Now}
}

func (r *rateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cutoff := now.Add(-r.window)
	slice := r.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= r.max {
		r.times[key] = slice
		return false, nil
	}
	r.times[key] = append(slice, now)
	return true, nil
}

// limitKey buckets users by id, visitors by their intake session and everyone else by IP.
func limitKey(r *http.Request, prefix string) string {
	p, ok := GetPrincipal(r.Context())
	switch {
	case ok && p.VisitorSessionID != "":
		return prefix + ":v:" + p.VisitorSessionID
	case ok && p.ID != model.AnonymousOwnerID:
		return prefix + ":u:" + p.ID
	default:
		return prefix + ":" + ClientIP(r)
	}
}

// RateLimit answers 429 once a client exceeds the limiter. prefix namespaces the keys.
// A failing limiter lets the request through.
func RateLimit(l Limiter, prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), limitKey(r, prefix))
			if err != nil {
				logger.Warnf("rate limit %s: %v", prefix, err)
				ok = true
			}
			if !ok {
				w.Header().Set("Retry-After", "60")
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
