// Package throttle provides a per-client-IP token bucket for gin. It runs
// before credentials are checked so that key guessing is slowed down.
package throttle

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nomadai/rag-gateway/internal/config"
	"github.com/nomadai/rag-gateway/internal/metrics"
	"github.com/nomadai/rag-gateway/internal/models"
	"golang.org/x/time/rate"
)

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPThrottle keeps one token bucket per client IP and drops idle ones.
type IPThrottle struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  config.ThrottleConfig
	done    chan struct{}
	once    sync.Once
}

// New creates a throttle and starts its cleanup goroutine. Call Stop on
// shutdown.
func New(cfg config.ThrottleConfig) *IPThrottle {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}

	t := &IPThrottle{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}
	go t.cleanup()
	return t
}

// Allow checks if a request from ip should be served
func (t *IPThrottle) Allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[ip]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(t.config.Rate), t.config.Burst)}
		t.entries[ip] = e
	}
	e.lastAccess = time.Now()

	return e.limiter.Allow()
}

// Middleware returns a gin middleware that rejects over-eager clients with 429
func (t *IPThrottle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Allow(c.ClientIP()) {
			metrics.ThrottledRequests.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				models.NewError("Too many requests from this address, please slow down", "rate_limit_error", "ip_throttled"))
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (t *IPThrottle) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *IPThrottle) cleanup() {
	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.cleanupStaleEntries()
		}
	}
}

func (t *IPThrottle) cleanupStaleEntries() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for ip, e := range t.entries {
		if now.Sub(e.lastAccess) > t.config.MaxAge {
			delete(t.entries, ip)
		}
	}
}

// Len returns the current number of tracked IPs (for testing/metrics)
func (t *IPThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
