package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"taskflow/internal/pkg/errors"
)

const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	lastAccess time.Time
}

// RateLimiter is a token bucket per client IP. Idle buckets are dropped by a
// background sweep until Stop is called.
type RateLimiter struct {
	store *sync.Map // map[string]*visitor
	limit rate.Limit
	burst int
	done  chan struct{}
	once  sync.Once
}

// NewRateLimiter allows perMinute requests per IP with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		store: &sync.Map{},
		limit: rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		done:  make(chan struct{}),
	}
	if perMinute <= 0 {
		rl.limit = rate.Inf
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.store.Range(func(key, value interface{}) bool {
				v := value.(*visitor)
				v.mu.Lock()
				if now.Sub(v.lastAccess) > visitorTTL {
					rl.store.Delete(key)
				}
				v.mu.Unlock()
				return true
			})
		}
	}
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()
	val, _ := rl.store.LoadOrStore(key, &visitor{
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	})

	v := val.(*visitor)
	v.mu.Lock()
	v.lastAccess = now
	v.mu.Unlock()

	return v.limiter.Allow()
}

// Handle is the per-route form used in router chains.
func (rl *RateLimiter) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
			return
		}
		next(w, r)
	}
}

// Middleware wraps a whole handler tree.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return rl.Handle(next.ServeHTTP)
}

// ClientIP prefers the first X-Forwarded-For hop over the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
